package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/catalog"
	"github.com/sakif/storefront/internal/mirror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/payment"
	"github.com/sakif/storefront/internal/repository/sqlite"
)

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDB returns a migrated in-memory database. Services run against the
// real schema so UNIQUE constraints and savepoints behave as in production.
func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingSyncer counts mirror calls and can be told to fail.
type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingSyncer) SyncOrder(_ context.Context, id string) (*mirror.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return &mirror.Result{Mode: "single"}, r.err
}

func newTestOrderService(db *sqlite.DB, syncer OrderSyncer) *OrderService {
	logger := testLogger()
	return NewOrderService(db, catalog.NewResolver(logger), catalog.NewAdjuster(logger), syncer, logger)
}

func createUser(t *testing.T, db *sqlite.DB, externalID, email string) *model.User {
	t.Helper()
	u := &model.User{Name: "Ada"}
	if externalID != "" {
		u.ExternalAuthID = &externalID
	}
	if email != "" {
		u.Email = &email
	}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func createProduct(t *testing.T, db *sqlite.DB, id, slug string, price string) *model.Product {
	t.Helper()
	p := &model.Product{ID: id, Name: "Product " + id, Slug: slug, Price: decimal.RequireFromString(price), InStock: true}
	require.NoError(t, db.CreateProduct(context.Background(), p))
	return p
}

func createVariant(t *testing.T, db *sqlite.DB, productID, sku string, stock int) *model.ProductVariant {
	t.Helper()
	v := &model.ProductVariant{ProductID: productID, Size: "M", SKU: sku, Stock: stock}
	require.NoError(t, db.CreateVariant(context.Background(), v))
	return v
}

func placeInput(ref string, items ...OrderLine) PlaceOrderInput {
	return PlaceOrderInput{
		User:               UserResolution{ExternalAuthID: "u1"},
		AmountMinor:        4000,
		Currency:           "usd",
		PaymentReferenceID: ref,
		Items:              items,
	}
}

func line(ref string, qty int, price string) OrderLine {
	return OrderLine{ItemRef: ref, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func countOrders(t *testing.T, db *sqlite.DB) int {
	t.Helper()
	n, err := db.CountOrders(context.Background())
	require.NoError(t, err)
	return n
}

// =========================================================================
// END-TO-END
// =========================================================================

func TestRecordPayment_EndToEnd(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	conf := &payment.Confirmation{
		PaymentReferenceID: "pi_e2e",
		AmountMinor:        4000,
		Currency:           "usd",
		Metadata: map[string]string{
			payment.MetaUserID:          "u1",
			payment.MetaItems:           `[{"id":"shirt-1","quantity":2,"price":20}]`,
			payment.MetaShippingAddress: "1 Main St, Springfield, IL, 62704, US",
			payment.MetaSaveAddress:     "true",
		},
	}

	res, err := svc.RecordPayment(ctx, conf)
	require.NoError(t, err)
	require.True(t, res.Created)

	order := res.Order
	assert.True(t, order.Total.Equal(decimal.RequireFromString("40.00")), "total = %s", order.Total)
	assert.Equal(t, model.StatusProcessing, order.Status)
	assert.Regexp(t, `^ORD-\d+-\d{3}$`, order.OrderNumber)

	detail, err := db.GetOrderDetail(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, 2, detail.Items[0].Quantity)
	assert.Equal(t, "shirt-1", detail.Items[0].ProductID)

	product, err := db.GetProductByID(ctx, "shirt-1")
	require.NoError(t, err)
	assert.True(t, product.Placeholder)

	addrs, err := db.ListAddresses(ctx, order.UserID)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "1 Main St", addrs[0].Street)
	assert.True(t, addrs[0].IsDefault, "first saved address becomes the default")
	require.NotNil(t, order.ShippingAddressID)
	assert.Equal(t, addrs[0].ID, *order.ShippingAddressID)
}

func TestRecordPayment_MalformedMetadata(t *testing.T) {
	db := newTestDB(t)
	svc := newTestOrderService(db, nil)

	_, err := svc.RecordPayment(context.Background(), &payment.Confirmation{
		PaymentReferenceID: "pi_bad",
		Metadata:           map[string]string{payment.MetaItems: `[{"id":"x","quantity":1}`},
	})

	assert.ErrorIs(t, err, apperror.ErrMalformedPayload)
	assert.Zero(t, countOrders(t, db))
}

func TestRecordPayment_BadLineKeepsTheOrder(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	res, err := svc.RecordPayment(ctx, &payment.Confirmation{
		PaymentReferenceID: "pi_two_lines",
		AmountMinor:        4000,
		Currency:           "usd",
		Metadata: map[string]string{
			payment.MetaUserID: "u1",
			payment.MetaItems:  `[{"id":"shirt-1","quantity":2,"price":20},{"id":"hat-1","quantity":0,"price":5}]`,
		},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Equal(t, 1, countOrders(t, db))

	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].OK(), res.Items[0].Error)
	assert.False(t, res.Items[1].OK())
	assert.Equal(t, "hat-1", res.Items[1].ItemRef)
	assert.Contains(t, res.Items[1].Error, "quantity")

	detail, err := db.GetOrderDetail(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "shirt-1", detail.Items[0].ProductID)
}

func TestRecordPayment_LineReferences(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	res, err := svc.RecordPayment(ctx, &payment.Confirmation{
		PaymentReferenceID: "pi_refs",
		AmountMinor:        1200,
		Metadata: map[string]string{
			payment.MetaUserID: "u1",
			payment.MetaItems:  `[{"originalId":"cms-7","quantity":1,"price":9},{"quantity":1,"price":3},{"id":"mug-2","quantity":1,"price":-3}]`,
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	assert.True(t, res.Items[0].OK(), "an originalId alone identifies the line")
	assert.Equal(t, "cms-7", res.Items[0].ProductID)
	assert.False(t, res.Items[1].OK(), "a line with neither id is rejected")
	assert.False(t, res.Items[2].OK(), "a negative price is rejected")

	detail, err := db.GetOrderDetail(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 1)
}

func TestRecordPayment_CustomerEmailWins(t *testing.T) {
	db := newTestDB(t)
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	res, err := svc.RecordPayment(ctx, &payment.Confirmation{
		PaymentReferenceID: "pi_guest",
		AmountMinor:        1000,
		Metadata:           map[string]string{payment.MetaCustomerEmail: "meta@example.com"},
		Customer:           &payment.Customer{ID: "cus_1", Email: "Provider@Example.com", Name: "Grace"},
		ReceiptEmail:       "receipt@example.com",
	})
	require.NoError(t, err)

	user, err := db.GetUserByID(ctx, res.Order.UserID)
	require.NoError(t, err)
	assert.Equal(t, "provider@example.com", user.EmailOrEmpty())
	assert.Equal(t, "Grace", user.Name)
	assert.Equal(t, "usd", res.Order.Currency, "missing currency defaults to usd")
}

// =========================================================================
// IDEMPOTENCY
// =========================================================================

func TestPlaceOrder_SamePaymentTwice(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	syncer := &recordingSyncer{}
	svc := newTestOrderService(db, syncer)
	ctx := context.Background()

	first, err := svc.PlaceOrder(ctx, placeInput("pi_dup", line("shirt-1", 1, "20")))
	require.NoError(t, err)
	second, err := svc.PlaceOrder(ctx, placeInput("pi_dup", line("shirt-1", 1, "20")))
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, countOrders(t, db))
	assert.Len(t, syncer.calls, 1, "only the created order is mirrored")
}

func TestPlaceOrder_ConcurrentDeliveries(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	svc := newTestOrderService(db, nil)

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PlaceOrder(context.Background(), placeInput("pi_race", line("shirt-1", 1, "20")))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Order.ID] = true
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, countOrders(t, db))
}

func TestPlaceOrder_RequiresPaymentReference(t *testing.T) {
	svc := newTestOrderService(newTestDB(t), nil)

	_, err := svc.PlaceOrder(context.Background(), placeInput("  "))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// =========================================================================
// USER RESOLUTION
// =========================================================================

func TestPlaceOrder_UnresolvableUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestOrderService(db, nil)

	in := placeInput("pi_nobody", line("shirt-1", 1, "20"))
	in.User = UserResolution{ExternalAuthID: "never-seen"}

	_, err := svc.PlaceOrder(context.Background(), in)
	assert.ErrorIs(t, err, apperror.ErrUnresolvableUser)
	assert.Zero(t, countOrders(t, db))
}

func TestPlaceOrder_GuestThenRegistered(t *testing.T) {
	db := newTestDB(t)
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	guest := placeInput("pi_guest", line("shirt-1", 1, "20"))
	guest.User = UserResolution{Email: "ada@example.com", Name: "Ada"}
	first, err := svc.PlaceOrder(ctx, guest)
	require.NoError(t, err)

	// The same buyer signs up and pays again: the guest row gains the
	// external id instead of a second user being created.
	registered := placeInput("pi_member", line("shirt-1", 1, "20"))
	registered.User = UserResolution{ExternalAuthID: "user_2abc", Email: "ADA@example.com"}
	second, err := svc.PlaceOrder(ctx, registered)
	require.NoError(t, err)

	assert.Equal(t, first.Order.UserID, second.Order.UserID)
	u, err := db.GetUserByExternalID(ctx, "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, first.Order.UserID, u.ID)
}

// =========================================================================
// ITEMS
// =========================================================================

func TestPlaceOrder_ItemFailureIsIsolated(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	createProduct(t, db, "prod-1", "blue-shirt", "25.00")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, placeInput("pi_mixed",
		line("blue-shirt", 1, "25"),
		line("broken", 0, "10"),
		OrderLine{Quantity: 1},
		line("hat-9", 3, "5"),
	))
	require.NoError(t, err)
	require.Len(t, res.Items, 4)

	assert.True(t, res.Items[0].OK())
	assert.Equal(t, "prod-1", res.Items[0].ProductID)
	assert.False(t, res.Items[1].OK())
	assert.False(t, res.Items[2].OK())
	assert.True(t, res.Items[3].OK())
	assert.True(t, res.Items[3].Placeholder)

	detail, err := db.GetOrderDetail(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 2)

	// The failed line's savepoint rolled back; no stray placeholder for it.
	_, err = db.GetProductByID(ctx, "broken")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestPlaceOrder_PriceFallsBackToCatalog(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	createProduct(t, db, "prod-1", "blue-shirt", "25.00")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, placeInput("pi_price", OrderLine{ItemRef: "blue-shirt", Quantity: 1}))
	require.NoError(t, err)

	detail, err := db.GetOrderDetail(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.True(t, detail.Items[0].Price.Equal(decimal.RequireFromString("25")))
}

func TestPlaceOrder_StockDecrement(t *testing.T) {
	tests := []struct {
		name        string
		stock, qty  int
		wantStock   int
		wantWarning bool
	}{
		{"plenty", 10, 3, 7, false},
		{"exact", 3, 3, 0, false},
		{"shortfall clamps at zero", 1, 3, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			createUser(t, db, "u1", "")
			createProduct(t, db, "prod-1", "blue-shirt", "25.00")
			v := createVariant(t, db, "prod-1", "BS-M", tc.stock)
			svc := newTestOrderService(db, nil)
			ctx := context.Background()

			l := line("blue-shirt", tc.qty, "25")
			l.VariantRef = "BS-M"
			res, err := svc.PlaceOrder(ctx, placeInput("pi_stock", l))
			require.NoError(t, err)
			require.True(t, res.Items[0].OK(), res.Items[0].Error)
			require.NotNil(t, res.Items[0].VariantID)
			assert.Equal(t, v.ID, *res.Items[0].VariantID)
			assert.Equal(t, tc.wantWarning, res.Items[0].StockWarning != "")

			got, err := db.GetVariant(ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStock, got.Stock)
		})
	}
}

// =========================================================================
// SHIPPING
// =========================================================================

func TestPlaceOrder_Shipping(t *testing.T) {
	const raw = "1 Main St, Springfield, IL, 62704, US"

	t.Run("unsaved address is kept as a snapshot only", func(t *testing.T) {
		db := newTestDB(t)
		u := createUser(t, db, "u1", "")
		svc := newTestOrderService(db, nil)
		ctx := context.Background()

		in := placeInput("pi_snap")
		in.ShippingAddressRaw = raw
		res, err := svc.PlaceOrder(ctx, in)
		require.NoError(t, err)

		assert.Nil(t, res.Order.ShippingAddressID)
		require.NotNil(t, res.Order.ShippingSnapshot)
		assert.Equal(t, "Springfield", res.Order.ShippingSnapshot.City)
		addrs, _ := db.ListAddresses(ctx, u.ID)
		assert.Empty(t, addrs)
	})

	t.Run("matching address is linked", func(t *testing.T) {
		db := newTestDB(t)
		u := createUser(t, db, "u1", "")
		ctx := context.Background()
		addr := &model.Address{UserID: u.ID, Street: "1 main st", City: "Springfield", State: "IL", PostalCode: "62704", Country: "us"}
		require.NoError(t, db.CreateAddress(ctx, addr))
		svc := newTestOrderService(db, nil)

		in := placeInput("pi_match")
		in.ShippingAddressRaw = raw
		in.SaveAddress = true
		res, err := svc.PlaceOrder(ctx, in)
		require.NoError(t, err)

		require.NotNil(t, res.Order.ShippingAddressID)
		assert.Equal(t, addr.ID, *res.Order.ShippingAddressID)
		addrs, _ := db.ListAddresses(ctx, u.ID)
		assert.Len(t, addrs, 1, "no duplicate address saved")
	})

	t.Run("blank address parts are never saved", func(t *testing.T) {
		db := newTestDB(t)
		u := createUser(t, db, "u1", "")
		svc := newTestOrderService(db, nil)
		ctx := context.Background()

		in := placeInput("pi_blank")
		in.ShippingAddressRaw = " , , , , "
		in.SaveAddress = true
		res, err := svc.PlaceOrder(ctx, in)
		require.NoError(t, err)
		require.True(t, res.Created)

		assert.Nil(t, res.Order.ShippingAddressID)
		assert.Nil(t, res.Order.ShippingSnapshot)
		addrs, err := db.ListAddresses(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, addrs, "no blank default address")
	})

	t.Run("address failing the address book rules stays a snapshot", func(t *testing.T) {
		db := newTestDB(t)
		u := createUser(t, db, "u1", "")
		svc := newTestOrderService(db, nil)
		ctx := context.Background()

		in := placeInput("pi_long")
		in.ShippingAddressRaw = strings.Repeat("a", MaxAddressFieldLength+1) + ", Springfield, IL, 62704, US"
		in.SaveAddress = true
		res, err := svc.PlaceOrder(ctx, in)
		require.NoError(t, err)

		assert.Nil(t, res.Order.ShippingAddressID)
		require.NotNil(t, res.Order.ShippingSnapshot)
		assert.Equal(t, "Springfield", res.Order.ShippingSnapshot.City)
		addrs, err := db.ListAddresses(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, addrs)
	})

	t.Run("unparseable address falls back to the default", func(t *testing.T) {
		db := newTestDB(t)
		u := createUser(t, db, "u1", "")
		ctx := context.Background()
		def := &model.Address{UserID: u.ID, Street: "9 Elm St", City: "Shelbyville", State: "IL", PostalCode: "62565", Country: "US", IsDefault: true}
		require.NoError(t, db.CreateAddress(ctx, def))
		svc := newTestOrderService(db, nil)

		in := placeInput("pi_default")
		in.ShippingAddressRaw = "somewhere, nowhere"
		res, err := svc.PlaceOrder(ctx, in)
		require.NoError(t, err)

		require.NotNil(t, res.Order.ShippingAddressID)
		assert.Equal(t, def.ID, *res.Order.ShippingAddressID)
		require.NotNil(t, res.Order.ShippingSnapshot)
		assert.Equal(t, "9 Elm St", res.Order.ShippingSnapshot.Street)
	})
}

// =========================================================================
// MIRROR + STATUS + QUERIES
// =========================================================================

func TestPlaceOrder_MirrorFailureDoesNotFailOrder(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	syncer := &recordingSyncer{err: errors.New("lake down")}
	svc := newTestOrderService(db, syncer)

	res, err := svc.PlaceOrder(context.Background(), placeInput("pi_mirror", line("shirt-1", 1, "20")))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []string{res.Order.ID}, syncer.calls)
}

func TestUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	syncer := &recordingSyncer{}
	svc := newTestOrderService(db, syncer)
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, placeInput("pi_status", line("shirt-1", 1, "20")))
	require.NoError(t, err)

	order, err := svc.UpdateStatus(ctx, res.Order.ID, "shipped")
	require.NoError(t, err)
	assert.Equal(t, model.StatusShipped, order.Status)
	assert.Len(t, syncer.calls, 2)

	_, err = svc.UpdateStatus(ctx, res.Order.ID, "LOST")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.UpdateStatus(ctx, "missing", "SHIPPED")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUserOrders(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "u1", "")
	createUser(t, db, "u2", "")
	svc := newTestOrderService(db, nil)
	ctx := context.Background()

	mine, err := svc.PlaceOrder(ctx, placeInput("pi_1", line("shirt-1", 1, "20")))
	require.NoError(t, err)
	other := placeInput("pi_2", line("shirt-1", 1, "20"))
	other.User.ExternalAuthID = "u2"
	theirs, err := svc.PlaceOrder(ctx, other)
	require.NoError(t, err)

	list, err := svc.ListForUser(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.Order.ID, list[0].ID)

	empty, err := svc.ListForUser(ctx, "stranger", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := svc.GetForUser(ctx, "u1", mine.Order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = svc.GetForUser(ctx, "u1", theirs.Order.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestAccountService_Me(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testLogger())
	ctx := context.Background()

	first, err := svc.Me(ctx, &auth.Identity{Subject: "user_new"})
	require.NoError(t, err)
	again, err := svc.Me(ctx, &auth.Identity{Subject: "user_new"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Nil(t, first.Email)

	_, err = svc.Me(ctx, nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
