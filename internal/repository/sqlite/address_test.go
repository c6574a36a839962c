package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

func newTestAddress(userID, street string, isDefault bool) *model.Address {
	return &model.Address{
		UserID:     userID,
		Street:     street,
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62704",
		Country:    "US",
		IsDefault:  isDefault,
	}
}

func TestAddressCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "", "addr@example.com")

	addr := newTestAddress(u.ID, "1 Main St", true)
	if err := db.CreateAddress(ctx, addr); err != nil {
		t.Fatalf("CreateAddress() error = %v", err)
	}

	found, err := db.GetAddress(ctx, addr.ID)
	if err != nil {
		t.Fatalf("GetAddress() error = %v", err)
	}
	if found.Street != "1 Main St" || !found.IsDefault {
		t.Errorf("GetAddress() = %+v", found)
	}
}

func TestAddressCreate_SecondDefaultRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "", "two-defaults@example.com")

	if err := db.CreateAddress(ctx, newTestAddress(u.ID, "1 Main St", true)); err != nil {
		t.Fatalf("CreateAddress() first: %v", err)
	}

	err := db.CreateAddress(ctx, newTestAddress(u.ID, "2 Main St", true))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateAddress() second default error = %v, want ErrConflict", err)
	}
}

func TestListAddresses_DefaultFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "", "list@example.com")

	for _, a := range []*model.Address{
		newTestAddress(u.ID, "1 First St", false),
		newTestAddress(u.ID, "2 Default St", true),
		newTestAddress(u.ID, "3 Third St", false),
	} {
		if err := db.CreateAddress(ctx, a); err != nil {
			t.Fatalf("CreateAddress() error = %v", err)
		}
	}

	addrs, err := db.ListAddresses(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListAddresses() error = %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("len(addrs) = %d, want 3", len(addrs))
	}
	if addrs[0].Street != "2 Default St" {
		t.Errorf("first address = %q, want the default", addrs[0].Street)
	}
}

func TestClearDefaultAndLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "", "latest@example.com")

	first := newTestAddress(u.ID, "1 Old St", true)
	second := newTestAddress(u.ID, "2 New St", false)
	for _, a := range []*model.Address{first, second} {
		if err := db.CreateAddress(ctx, a); err != nil {
			t.Fatalf("CreateAddress() error = %v", err)
		}
	}

	if err := db.ClearDefaultAddresses(ctx, u.ID); err != nil {
		t.Fatalf("ClearDefaultAddresses() error = %v", err)
	}
	got, _ := db.GetAddress(ctx, first.ID)
	if got.IsDefault {
		t.Error("default flag still set after ClearDefaultAddresses")
	}

	latest, err := db.LatestAddress(ctx, u.ID)
	if err != nil {
		t.Fatalf("LatestAddress() error = %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("LatestAddress() = %q, want %q", latest.ID, second.ID)
	}
}

func TestUpdateAndDeleteAddress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "", "update@example.com")

	addr := newTestAddress(u.ID, "1 Main St", false)
	if err := db.CreateAddress(ctx, addr); err != nil {
		t.Fatalf("CreateAddress() error = %v", err)
	}

	addr.Street = "9 Elm St"
	if err := db.UpdateAddress(ctx, addr); err != nil {
		t.Fatalf("UpdateAddress() error = %v", err)
	}
	got, _ := db.GetAddress(ctx, addr.ID)
	if got.Street != "9 Elm St" {
		t.Errorf("Street = %q, want %q", got.Street, "9 Elm St")
	}

	if err := db.DeleteAddress(ctx, addr.ID); err != nil {
		t.Fatalf("DeleteAddress() error = %v", err)
	}
	if err := db.DeleteAddress(ctx, addr.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("DeleteAddress() twice error = %v, want ErrNotFound", err)
	}
}
