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

// MaxAddressFieldLength bounds every postal field.
const MaxAddressFieldLength = 200

// AddressInput is a new address as submitted by the shopper.
type AddressInput struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"isDefault"`
}

// AddressUpdate changes the fields that are non-nil.
type AddressUpdate struct {
	Street     *string `json:"street"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postalCode"`
	Country    *string `json:"country"`
	IsDefault  *bool   `json:"isDefault"`
}

// AddressService manages a shopper's address book.
//
// DEFAULT ADDRESS RULES:
//   - at most one address per user is the default
//   - the first address a user saves becomes the default
//   - making an address the default clears the flag on the others
//   - deleting the default promotes the most recently created remaining one
//
// Each operation runs in one transaction so the rules hold at every commit.
type AddressService struct {
	store  repository.TxStore
	logger *slog.Logger
}

func NewAddressService(store repository.TxStore, logger *slog.Logger) *AddressService {
	return &AddressService{store: store, logger: logger}
}

// List returns the caller's addresses, default first.
func (s *AddressService) List(ctx context.Context, id *auth.Identity) ([]model.Address, error) {
	var addrs []model.Address
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		user, err := ensureUser(ctx, tx, id)
		if err != nil {
			return err
		}
		addrs, err = tx.ListAddresses(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// Create saves a new address for the caller.
func (s *AddressService) Create(ctx context.Context, id *auth.Identity, in AddressInput) (*model.Address, error) {
	addr := &model.Address{
		Street:     strings.TrimSpace(in.Street),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Country:    strings.TrimSpace(in.Country),
		IsDefault:  in.IsDefault,
	}
	if err := validateAddress(addr); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		user, err := ensureUser(ctx, tx, id)
		if err != nil {
			return err
		}
		addr.UserID = user.ID

		existing, err := tx.ListAddresses(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			addr.IsDefault = true
		}
		if addr.IsDefault {
			if err := tx.ClearDefaultAddresses(ctx, user.ID); err != nil {
				return err
			}
		}
		return tx.CreateAddress(ctx, addr)
	})
	if err != nil {
		s.logger.Error("failed to create address", slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("address created",
		slog.String("addressID", addr.ID),
		slog.String("userID", addr.UserID),
		slog.Bool("default", addr.IsDefault),
	)
	return addr, nil
}

// Get returns one of the caller's addresses.
func (s *AddressService) Get(ctx context.Context, id *auth.Identity, addressID string) (*model.Address, error) {
	user, err := lookupUser(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return owned(ctx, s.store, user, addressID)
}

// Update changes the given fields of one of the caller's addresses.
func (s *AddressService) Update(ctx context.Context, id *auth.Identity, addressID string, in AddressUpdate) (*model.Address, error) {
	var addr *model.Address
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		user, err := lookupUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if addr, err = owned(ctx, tx, user, addressID); err != nil {
			return err
		}

		set := func(dst *string, src *string) {
			if src != nil {
				*dst = strings.TrimSpace(*src)
			}
		}
		set(&addr.Street, in.Street)
		set(&addr.City, in.City)
		set(&addr.State, in.State)
		set(&addr.PostalCode, in.PostalCode)
		set(&addr.Country, in.Country)
		if err := validateAddress(addr); err != nil {
			return err
		}

		if in.IsDefault != nil {
			if *in.IsDefault && !addr.IsDefault {
				if err := tx.ClearDefaultAddresses(ctx, user.ID); err != nil {
					return err
				}
			}
			addr.IsDefault = *in.IsDefault
		}
		return tx.UpdateAddress(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// Delete removes one of the caller's addresses. Orders shipped to it keep
// their shipping snapshot.
func (s *AddressService) Delete(ctx context.Context, id *auth.Identity, addressID string) error {
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		user, err := lookupUser(ctx, tx, id)
		if err != nil {
			return err
		}
		addr, err := owned(ctx, tx, user, addressID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAddress(ctx, addr.ID); err != nil {
			return err
		}
		if !addr.IsDefault {
			return nil
		}

		next, err := tx.LatestAddress(ctx, user.ID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		next.IsDefault = true
		if err := tx.UpdateAddress(ctx, next); err != nil {
			return fmt.Errorf("service/address: promoting %s to default: %w", next.ID, err)
		}
		s.logger.Info("default address moved",
			slog.String("userID", user.ID),
			slog.String("from", addr.ID),
			slog.String("to", next.ID),
		)
		return nil
	})
}

// SetDefault makes one of the caller's addresses the default. It is a no-op
// when the address already is.
func (s *AddressService) SetDefault(ctx context.Context, id *auth.Identity, addressID string) (*model.Address, error) {
	var addr *model.Address
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		user, err := lookupUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if addr, err = owned(ctx, tx, user, addressID); err != nil {
			return err
		}
		if addr.IsDefault {
			return nil
		}
		if err := tx.ClearDefaultAddresses(ctx, user.ID); err != nil {
			return err
		}
		addr.IsDefault = true
		return tx.UpdateAddress(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// owned loads an address and checks that it belongs to user.
func owned(ctx context.Context, addrs repository.AddressRepository, user *model.User, addressID string) (*model.Address, error) {
	if strings.TrimSpace(addressID) == "" {
		return nil, apperror.ValidationFailed("id", "address ID is required")
	}
	addr, err := addrs.GetAddress(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if addr.UserID != user.ID {
		return nil, apperror.Forbidden("address belongs to another user")
	}
	return addr, nil
}

func validateAddress(a *model.Address) error {
	fields := []struct {
		name, value string
	}{
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if f.value == "" {
			return apperror.ValidationFailed(f.name, f.name+" is required")
		}
		if len(f.value) > MaxAddressFieldLength {
			return apperror.ValidationFailed(f.name,
				fmt.Sprintf("%s must be %d characters or fewer", f.name, MaxAddressFieldLength))
		}
		// Free-text shipping addresses are comma-delimited.
		if strings.Contains(f.value, ",") {
			return apperror.ValidationFailed(f.name, f.name+" must not contain commas")
		}
	}
	return nil
}
