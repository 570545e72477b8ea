package postgres

import (
	"context"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// UserRepository stores local identity records.
type UserRepository struct {
	db *database.Provider
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs the repository.
func NewUserRepository(db *database.Provider) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	var u domain.User
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, email, role, locale, created_at, updated_at
		FROM users WHERE external_id = $1`, externalID,
	).Scan(&u.ID, &u.ExternalID, &u.Email, &u.Role, &u.Locale, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, database.WrapError("users.find_by_external_id", err)
	}
	return u, nil
}

func (r *UserRepository) Insert(ctx context.Context, user domain.User) (domain.User, error) {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO users (id, external_id, email, role, locale, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.ExternalID, user.Email, user.Role, user.Locale, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return domain.User{}, database.WrapError("users.insert", err)
	}
	return user, nil
}
