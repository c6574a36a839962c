package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, external_auth_id, email, name, created_at, updated_at`

// CreateUser inserts a new user, generating its ID and timestamps.
//
// Emails are stored lower-cased so lookups by email are case-insensitive.
// A collision on external_auth_id or email surfaces as apperror.Conflict:
// two payments for the same new buyer can race to create them.
func (s *store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Email != nil {
		e := normalizeEmail(*user.Email)
		user.Email = &e
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, external_auth_id, email, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.ExternalAuthID,
		user.Email,
		user.Name,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "user", "inserting user")
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := sqlx.GetContext(ctx, s.q, &u,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &u, nil
}

// GetUserByExternalID looks a user up by the identity provider subject.
func (s *store) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	err := sqlx.GetContext(ctx, s.q, &u,
		`SELECT `+userColumns+` FROM users WHERE external_auth_id = ?`, externalID)
	if err != nil {
		return nil, notFoundOr(err, "user", externalID)
	}
	return &u, nil
}

// GetUserByEmail looks a user up by email, ignoring case.
func (s *store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = normalizeEmail(email)
	var u model.User
	err := sqlx.GetContext(ctx, s.q, &u,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		return nil, notFoundOr(err, "user", email)
	}
	return &u, nil
}

// LinkExternalID attaches an external auth id to a user that has none yet.
// A user that already carries an external id is left untouched; the call
// then reports apperror.ErrConflict.
func (s *store) LinkExternalID(ctx context.Context, userID, externalID string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET external_auth_id = ?, updated_at = ?
		 WHERE id = ? AND external_auth_id IS NULL`,
		externalID, time.Now().UTC(), userID,
	)
	if err != nil {
		return conflictOr(err, "user", "linking external id to user %s", userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return apperror.Conflict("user", "external_auth_id")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
