package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// AccountService maps authenticated callers to user rows.
//
//	Handler (HTTP) → AccountService → UserRepository (DB)
//
// The identity provider owns sign-up; the storefront only learns about a
// shopper when they first call an authenticated route or pay. Either path
// ends up in resolveUser so both agree on who a user is.
type AccountService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewAccountService(users repository.UserRepository, logger *slog.Logger) *AccountService {
	return &AccountService{users: users, logger: logger}
}

// Me returns the user behind id, creating the row on first contact.
func (s *AccountService) Me(ctx context.Context, id *auth.Identity) (*model.User, error) {
	user, err := ensureUser(ctx, s.users, id)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ensureUser resolves an authenticated caller. Unlike a payment, a caller
// with a verified subject but no email still gets a user row.
func ensureUser(ctx context.Context, users repository.UserRepository, id *auth.Identity) (*model.User, error) {
	if id == nil || id.Subject == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	user, err := users.GetUserByExternalID(ctx, id.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: looking up user %s: %w", id.Subject, err)
	}

	if strings.TrimSpace(id.Email) != "" {
		return resolveUser(ctx, users, UserResolution{
			ExternalAuthID: id.Subject,
			Email:          id.Email,
			Name:           id.Name,
		}, "")
	}

	ext := id.Subject
	user = &model.User{ExternalAuthID: &ext, Name: strings.TrimSpace(id.Name)}
	if err := users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/account: creating user: %w", err)
		}
		return users.GetUserByExternalID(ctx, ext)
	}
	return user, nil
}

// lookupUser returns the existing user behind id. A caller the storefront
// has never seen is Unauthorized: there is nothing of theirs to read.
func lookupUser(ctx context.Context, users repository.UserRepository, id *auth.Identity) (*model.User, error) {
	if id == nil || id.Subject == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := users.GetUserByExternalID(ctx, id.Subject)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("service/account: looking up user %s: %w", id.Subject, err)
	}
	return user, nil
}

// resolveUser finds a buyer by external id, then by email, and creates one
// when an email is known. Without a match and without an email the buyer is
// unresolvable.
func resolveUser(ctx context.Context, users repository.UserRepository, u UserResolution, paymentRef string) (*model.User, error) {
	extID := strings.TrimSpace(u.ExternalAuthID)
	email := strings.ToLower(strings.TrimSpace(u.Email))

	if extID != "" {
		user, err := users.GetUserByExternalID(ctx, extID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/account: looking up user %s: %w", extID, err)
		}
	}

	if email == "" {
		return nil, apperror.UnresolvableUser(paymentRef)
	}

	user, err := users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if extID == "" || user.ExternalAuthID != nil {
			return user, nil
		}
		// A guest checkout by a now-registered buyer: attach the identity.
		err := users.LinkExternalID(ctx, user.ID, extID)
		switch {
		case err == nil:
			user.ExternalAuthID = &extID
		case !errors.Is(err, apperror.ErrConflict):
			return nil, fmt.Errorf("service/account: linking user %s: %w", user.ID, err)
		}
		return user, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: looking up user by email: %w", err)
	}

	user = &model.User{Email: &email, Name: strings.TrimSpace(u.Name)}
	if extID != "" {
		user.ExternalAuthID = &extID
	}
	if err := users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/account: creating user: %w", err)
		}
		// Another writer created the buyer first.
		if extID != "" {
			if user, err = users.GetUserByExternalID(ctx, extID); err == nil {
				return user, nil
			}
		}
		if user, err = users.GetUserByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("service/account: re-reading user after conflict: %w", err)
		}
	}
	return user, nil
}
