package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" creates a fresh database that exists only during the test.
// The pool holds a single connection, so the database lives exactly as long
// as the *DB does, and every test gets an isolated, fully migrated schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func createTestUser(t *testing.T, db *DB, externalID, email string) *model.User {
	t.Helper()
	u := &model.User{Name: "Test User"}
	if externalID != "" {
		u.ExternalAuthID = strPtr(externalID)
	}
	if email != "" {
		u.Email = strPtr(email)
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

func createTestProduct(t *testing.T, db *DB, id, slug, name string) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:      id,
		Name:    name,
		Slug:    slug,
		Price:   decimal.RequireFromString("20.00"),
		Images:  model.StringList{"https://cdn.example.com/" + slug + ".png"},
		InStock: true,
	}
	if err := db.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("failed to create test product: %v", err)
	}
	return p
}

func createTestVariant(t *testing.T, db *DB, productID, sku string, stock int) *model.ProductVariant {
	t.Helper()
	v := &model.ProductVariant{ProductID: productID, Size: "M", SKU: sku, Stock: stock}
	if err := db.CreateVariant(context.Background(), v); err != nil {
		t.Fatalf("failed to create test variant: %v", err)
	}
	return v
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

func TestMigrate_IsRepeatable(t *testing.T) {
	db := newTestDB(t)

	// New already migrated; a second run must be a no-op, not an error.
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}
}

// =========================================================================
// TRANSACTION TESTS
// =========================================================================

func TestInTx_CommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var id string
	err := db.InTx(ctx, func(tx repository.Tx) error {
		u := &model.User{Email: strPtr("tx@example.com")}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	if _, err := db.GetUserByID(ctx, id); err != nil {
		t.Errorf("user not visible after commit: %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var id string
	err := db.InTx(ctx, func(tx repository.Tx) error {
		u := &model.User{Email: strPtr("rollback@example.com")}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		id = u.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	if _, err := db.GetUserByID(ctx, id); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() after rollback error = %v, want ErrNotFound", err)
	}
}

func TestSavepoint_RollsBackOnlyInnerWork(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("item failed")

	var keptID, droppedID string
	err := db.InTx(ctx, func(tx repository.Tx) error {
		kept := &model.User{Email: strPtr("kept@example.com")}
		if err := tx.CreateUser(ctx, kept); err != nil {
			return err
		}
		keptID = kept.ID

		spErr := tx.Savepoint(ctx, func() error {
			dropped := &model.User{Email: strPtr("dropped@example.com")}
			if err := tx.CreateUser(ctx, dropped); err != nil {
				return err
			}
			droppedID = dropped.ID
			return boom
		})
		if !errors.Is(spErr, boom) {
			t.Errorf("Savepoint() error = %v, want boom", spErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	if _, err := db.GetUserByID(ctx, keptID); err != nil {
		t.Errorf("outer work lost: %v", err)
	}
	if _, err := db.GetUserByID(ctx, droppedID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("savepoint work survived rollback: err = %v", err)
	}
}

// =========================================================================
// ERROR MAPPING TESTS
// =========================================================================

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   string
		wantOK bool
	}{
		{"nil", nil, "", false},
		{"other", errors.New("database is locked"), "", false},
		{
			"unique",
			errors.New("constraint failed: UNIQUE constraint failed: orders.order_number (2067)"),
			"orders.order_number",
			true,
		},
		{
			"bare",
			errors.New("UNIQUE constraint failed: users.email"),
			"users.email",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := uniqueViolation(tt.err)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("uniqueViolation() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
