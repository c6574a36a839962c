package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var _ repository.AddressRepository = (*DB)(nil)

const addressColumns = `id, user_id, street, city, state, postal_code, country, is_default, created_at, updated_at`

// CreateAddress inserts a new address.
//
// The partial unique index ux_addresses_default rejects a second default
// address for the same user; callers clear the old default first (in the
// same transaction) when they want to move it.
func (s *store) CreateAddress(ctx context.Context, addr *model.Address) error {
	now := time.Now().UTC()
	addr.ID = xid.New().String()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO addresses (`+addressColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addr.ID,
		addr.UserID,
		addr.Street,
		addr.City,
		addr.State,
		addr.PostalCode,
		addr.Country,
		addr.IsDefault,
		addr.CreatedAt,
		addr.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "address", "inserting address for user %s", addr.UserID)
	}
	return nil
}

func (s *store) GetAddress(ctx context.Context, id string) (*model.Address, error) {
	var a model.Address
	err := sqlx.GetContext(ctx, s.q, &a,
		`SELECT `+addressColumns+` FROM addresses WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "address", id)
	}
	return &a, nil
}

// ListAddresses returns the user's addresses, default first, then newest first.
func (s *store) ListAddresses(ctx context.Context, userID string) ([]model.Address, error) {
	addrs := []model.Address{}
	err := sqlx.SelectContext(ctx, s.q, &addrs,
		`SELECT `+addressColumns+` FROM addresses
		 WHERE user_id = ?
		 ORDER BY is_default DESC, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, wrapf(err, "listing addresses for user %s", userID)
	}
	return addrs, nil
}

// UpdateAddress overwrites the postal fields and the default flag.
func (s *store) UpdateAddress(ctx context.Context, addr *model.Address) error {
	addr.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE addresses
		 SET street = ?, city = ?, state = ?, postal_code = ?, country = ?, is_default = ?, updated_at = ?
		 WHERE id = ?`,
		addr.Street,
		addr.City,
		addr.State,
		addr.PostalCode,
		addr.Country,
		addr.IsDefault,
		addr.UpdatedAt,
		addr.ID,
	)
	if err != nil {
		return conflictOr(err, "address", "updating address %s", addr.ID)
	}
	return checkAffected(res, "address", addr.ID)
}

// DeleteAddress removes an address. Orders that shipped to it keep their
// snapshot; the foreign key sets their shipping_address_id to NULL.
func (s *store) DeleteAddress(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM addresses WHERE id = ?`, id)
	if err != nil {
		return wrapf(err, "deleting address %s", id)
	}
	return checkAffected(res, "address", id)
}

func (s *store) ClearDefaultAddresses(ctx context.Context, userID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE addresses SET is_default = 0, updated_at = ?
		 WHERE user_id = ? AND is_default = 1`,
		time.Now().UTC(), userID)
	if err != nil {
		return wrapf(err, "clearing default address for user %s", userID)
	}
	return nil
}

func (s *store) LatestAddress(ctx context.Context, userID string) (*model.Address, error) {
	var a model.Address
	err := sqlx.GetContext(ctx, s.q, &a,
		`SELECT `+addressColumns+` FROM addresses
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, userID)
	if err != nil {
		return nil, notFoundOr(err, "address", "latest for user "+userID)
	}
	return &a, nil
}
