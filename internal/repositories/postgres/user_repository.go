package postgres

import (
	"context"
	"errors"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
)

// UserRepository reads user profile fields for settlement.
type UserRepository struct {
	provider *Provider
}

// NewUserRepository constructs the repository bound to the shared provider.
func NewUserRepository(provider *Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &UserRepository{provider: provider}, nil
}

// FindByID loads a user profile by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	q := r.provider.querier(ctx)
	row := q.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = $1`, strings.TrimSpace(userID))

	var profile domain.UserProfile
	if err := row.Scan(&profile.ID, &profile.Email, &profile.Name); err != nil {
		return domain.UserProfile{}, WrapError("postgres.users.find_by_id", err)
	}
	return profile, nil
}
