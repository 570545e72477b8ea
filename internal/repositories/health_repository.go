package repositories

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is a named readiness probe. A failing Optional probe marks the report degraded
// rather than failed.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// DependencyHealthOption configures NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout sets the deadline for probes that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.fallbackTimeout = timeout
		}
	}
}

// WithDependencyClock replaces time.Now.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.clock = clock
		}
	}
}

type probeSet struct {
	probes          []DependencyCheck
	fallbackTimeout time.Duration
	clock           func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs every probe in parallel on each
// Collect call.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no probes registered")
	}
	seen := make(map[string]struct{}, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: probe %d has no name", i)
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: probe %q has no check func", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: probe %q registered twice", name)
		}
		seen[name] = struct{}{}
	}

	p := &probeSet{
		probes:          slices.Clone(checks),
		fallbackTimeout: defaultProbeTimeout,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	outcomes := make([]domain.SystemHealthCheck, len(p.probes))

	// Probes never fail the group; failures land in the report.
	var g errgroup.Group
	for i := range p.probes {
		g.Go(func() error {
			outcomes[i] = p.probe(ctx, p.probes[i])
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: p.clock(),
	}
	for i, outcome := range outcomes {
		report.Checks[strings.TrimSpace(p.probes[i].Name)] = outcome
		if severity(outcome.Status) > severity(report.Status) {
			report.Status = outcome.Status
		}
	}
	return report, nil
}

func (p *probeSet) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.fallbackTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.clock()
	err := check.Check(probeCtx)
	finished := p.clock()

	status := domain.HealthStatusOK
	if err != nil {
		status = domain.HealthStatusError
		if check.Optional {
			status = domain.HealthStatusDegraded
		}
	}
	return domain.SystemHealthCheck{
		Status:    status,
		Detail:    describeProbeError(err),
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
}

func describeProbeError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}

func severity(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}
