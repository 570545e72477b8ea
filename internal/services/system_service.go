package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// BuildInfo is the deployment metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	clock  func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService wires the dependency probes behind the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := utcClock(deps.Clock)
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{probes: deps.HealthRepository, clock: clock, build: build}, nil
}

// HealthReport runs the dependency probes and stamps the result with build metadata. The overall
// status is the worst of the probe-level statuses and whatever the repository reported.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	status := domain.HealthStatusOK
	if healthSeverity(report.Status) > healthSeverity(status) {
		status = report.Status
	}
	for _, check := range report.Checks {
		if healthSeverity(check.Status) > healthSeverity(status) {
			status = check.Status
		}
	}
	report.Status = status
	return report, nil
}

func healthSeverity(status string) int {
	switch status {
	case "", domain.HealthStatusOK:
		return 0
	case domain.HealthStatusError:
		return 2
	default:
		return 1
	}
}
