package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const (
	userIDPrefix  = "usr_"
	defaultLocale = "en-CA"
)

var (
	// ErrUserInvalidInput indicates the identity cannot be turned into a user record.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserUnavailable indicates the backing store could not be reached.
	ErrUserUnavailable = errors.New("user: store unavailable")
)

// UserServiceDeps bundles the collaborators required to construct a user service.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ UserService = (*userService)(nil)

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &userService{
		users:  deps.Users,
		clock:  utcClock(deps.Clock),
		newID:  idGen,
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// GetOrCreate returns the local record for the identity subject, creating it on first sight.
// Concurrent first requests converge on the record that won the insert.
func (s *userService) GetOrCreate(ctx context.Context, identity *auth.Identity) (User, error) {
	if identity == nil || strings.TrimSpace(identity.UID) == "" {
		return User{}, fmt.Errorf("%w: identity subject is required", ErrUserInvalidInput)
	}
	externalID := strings.TrimSpace(identity.UID)

	user, err := s.users.FindByExternalID(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !isRepoNotFound(err) {
		return User{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	user, err = s.users.Insert(ctx, User{
		ID:         userIDPrefix + s.newID(),
		ExternalID: externalID,
		Email:      strings.ToLower(strings.TrimSpace(identity.Email)),
		Role:       identity.PrimaryRole(),
		Locale:     normalizeLocale(identity.Locale),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err == nil {
		s.logger(ctx, "user.created", map[string]any{
			"userId": user.ID,
			"role":   user.Role,
		})
		return user, nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		existing, findErr := s.users.FindByExternalID(ctx, externalID)
		if findErr != nil {
			return User{}, s.mapRepositoryError(findErr)
		}
		return existing, nil
	}
	return User{}, s.mapRepositoryError(err)
}

func (s *userService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrUserUnavailable, err)
	}
	return err
}

func normalizeLocale(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))
	if raw == "" {
		return defaultLocale
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return defaultLocale
	}
	return tag.String()
}
