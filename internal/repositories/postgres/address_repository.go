package postgres

import (
	"context"
	"errors"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
)

// AddressRepository reads user-owned shipping destinations.
type AddressRepository struct {
	provider *Provider
}

// NewAddressRepository constructs the repository bound to the shared provider.
func NewAddressRepository(provider *Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &AddressRepository{provider: provider}, nil
}

// FindByID loads an address scoped to its owner. An address owned by a
// different user surfaces as not found.
func (r *AddressRepository) FindByID(ctx context.Context, userID, addressID string) (domain.Address, error) {
	q := r.provider.querier(ctx)
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, recipient, line1, line2, city, state, postal_code, country, phone
		FROM addresses WHERE id = $1 AND user_id = $2`,
		strings.TrimSpace(addressID), strings.TrimSpace(userID),
	)

	var address domain.Address
	err := row.Scan(
		&address.ID, &address.UserID, &address.Recipient, &address.Line1, &address.Line2,
		&address.City, &address.State, &address.PostalCode, &address.Country, &address.Phone,
	)
	if err != nil {
		return domain.Address{}, WrapError("postgres.addresses.find_by_id", err)
	}
	return address, nil
}
