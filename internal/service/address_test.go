package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
)

func newAddressInput(street string, isDefault bool) AddressInput {
	return AddressInput{
		Street:     street,
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62704",
		Country:    "US",
		IsDefault:  isDefault,
	}
}

// defaults returns the ids of the user's default addresses.
func defaults(t *testing.T, addrs []model.Address) []string {
	t.Helper()
	var ids []string
	for _, a := range addrs {
		if a.IsDefault {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

var ada = &auth.Identity{Subject: "user_ada", Email: "ada@example.com", Name: "Ada"}

func TestAddressService_FirstAddressBecomesDefault(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	first, err := svc.Create(ctx, ada, newAddressInput("1 Main St", false))
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.Create(ctx, ada, newAddressInput("2 Oak Ave", false))
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	list, err := svc.List(ctx, ada)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, defaults(t, list))
}

func TestAddressService_NewDefaultReplacesOld(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, ada, newAddressInput("1 Main St", true))
	require.NoError(t, err)
	second, err := svc.Create(ctx, ada, newAddressInput("2 Oak Ave", true))
	require.NoError(t, err)

	list, err := svc.List(ctx, ada)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, defaults(t, list))
}

func TestAddressService_DeleteDefaultPromotesLatest(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	def, _ := svc.Create(ctx, ada, newAddressInput("1 Main St", true))
	_, _ = svc.Create(ctx, ada, newAddressInput("2 Oak Ave", false))
	latest, _ := svc.Create(ctx, ada, newAddressInput("3 Pine Rd", false))

	require.NoError(t, svc.Delete(ctx, ada, def.ID))

	list, err := svc.List(ctx, ada)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, []string{latest.ID}, defaults(t, list))
}

func TestAddressService_DeleteLastAddress(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	only, _ := svc.Create(ctx, ada, newAddressInput("1 Main St", true))
	require.NoError(t, svc.Delete(ctx, ada, only.ID))

	list, err := svc.List(ctx, ada)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAddressService_SetDefault(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	first, _ := svc.Create(ctx, ada, newAddressInput("1 Main St", false))
	second, _ := svc.Create(ctx, ada, newAddressInput("2 Oak Ave", false))

	got, err := svc.SetDefault(ctx, ada, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	// Already default: no-op.
	_, err = svc.SetDefault(ctx, ada, second.ID)
	require.NoError(t, err)

	list, _ := svc.List(ctx, ada)
	assert.Equal(t, []string{second.ID}, defaults(t, list))
	assert.NotEqual(t, first.ID, defaults(t, list)[0])
}

func TestAddressService_Update(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()

	_, _ = svc.Create(ctx, ada, newAddressInput("1 Main St", true))
	other, _ := svc.Create(ctx, ada, newAddressInput("2 Oak Ave", false))

	city := "Shelbyville"
	yes := true
	got, err := svc.Update(ctx, ada, other.ID, AddressUpdate{City: &city, IsDefault: &yes})
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", got.City)
	assert.Equal(t, "2 Oak Ave", got.Street, "omitted fields are kept")

	list, _ := svc.List(ctx, ada)
	assert.Equal(t, []string{other.ID}, defaults(t, list))

	blank := " "
	_, err = svc.Update(ctx, ada, other.ID, AddressUpdate{Street: &blank})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAddressService_Ownership(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())
	ctx := context.Background()
	bob := &auth.Identity{Subject: "user_bob", Email: "bob@example.com"}

	adas, _ := svc.Create(ctx, ada, newAddressInput("1 Main St", true))
	_, _ = svc.Create(ctx, bob, newAddressInput("5 Bob Ln", true))

	_, err := svc.Get(ctx, bob, adas.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	err = svc.Delete(ctx, bob, adas.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.Get(ctx, ada, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.Get(ctx, &auth.Identity{Subject: "stranger"}, adas.ID)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestAddressService_Validation(t *testing.T) {
	svc := NewAddressService(newTestDB(t), testLogger())

	tests := []struct {
		name  string
		input AddressInput
	}{
		{"missing street", newAddressInput("", false)},
		{"comma in street", newAddressInput("1 Main St, Apt 2", false)},
		{"missing country", AddressInput{Street: "1 Main St", City: "x", State: "y", PostalCode: "z"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), ada, tc.input)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}
