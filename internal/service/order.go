// Package service contains the business rules of the storefront.
//
// THE THREE LAYERS:
//
//	Handler (HTTP)        → parses requests, writes responses
//	Service (this package) → validates, enforces rules, orchestrates
//	Repository            → reads/writes the system of record
//
// Services accept repository interfaces, never *sqlite.DB, and return
// apperror values that handlers translate to status codes. Nothing here
// knows about HTTP, so the CLI (cmd/storectl) reuses the same services.
//
// THE ORDER WRITER:
// OrderService.PlaceOrder is the heart of the payment → order pipeline.
// It runs in one transaction:
//
//	resolve buyer → idempotency check → shipping → order header
//	  → for each line (own savepoint): resolve product → adjust stock → item
//
// A failed line rolls back to its savepoint and is reported in the result;
// the order and the other lines still commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/catalog"
	"github.com/sakif/storefront/internal/mirror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/payment"
	"github.com/sakif/storefront/internal/repository"
)

const (
	// maxOrderNumberAttempts bounds retries after an order_number collision.
	maxOrderNumberAttempts = 5
	DefaultCurrency        = "usd"
	DefaultListLimit       = 20
	MaxListLimit           = 100
)

// OrderSyncer mirrors one order after it changes. *mirror.Engine satisfies it.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, orderID string) (*mirror.Result, error)
}

// UserResolution identifies the buyer of a payment.
type UserResolution struct {
	ExternalAuthID string
	Email          string
	Name           string
}

// OrderLine is one paid cart line.
type OrderLine struct {
	ItemRef     string
	OriginalRef string
	VariantRef  string
	Quantity    int
	Price       decimal.Decimal // price paid per unit; zero means "use catalog price"
	Name        string
}

func lineFromCheckout(it payment.CheckoutItem) OrderLine {
	return OrderLine{
		ItemRef:     strings.TrimSpace(it.ID),
		OriginalRef: strings.TrimSpace(it.OriginalID),
		VariantRef:  strings.TrimSpace(it.VariantID),
		Quantity:    it.Quantity,
		Price:       it.Price,
		Name:        it.Name,
	}
}

// validate is the per-line rule shared by checkout and the order writer:
// an id or original id, a positive quantity and a price that is not negative.
func (l OrderLine) validate() error {
	switch {
	case l.ItemRef == "" && l.OriginalRef == "":
		return apperror.ValidationFailed("itemRef", "item has no id or originalId")
	case l.Quantity <= 0:
		return apperror.ValidationFailed("quantity", "quantity must be positive")
	case l.Price.IsNegative():
		return apperror.ValidationFailed("price", "price must not be negative")
	}
	return nil
}

// PlaceOrderInput is everything the writer needs to record a paid order.
type PlaceOrderInput struct {
	User               UserResolution
	AmountMinor        int64
	Currency           string
	ShippingAddressRaw string
	PaymentReferenceID string
	Items              []OrderLine
	// SaveAddress persists the shipping address as a new Address row when
	// it matches none of the buyer's addresses.
	SaveAddress bool
}

// ItemResult reports what happened to one line.
type ItemResult struct {
	ItemRef      string  `json:"itemRef"`
	ProductID    string  `json:"productId,omitempty"`
	VariantID    *string `json:"variantId,omitempty"`
	Quantity     int     `json:"quantity"`
	Placeholder  bool    `json:"placeholder"`
	StockWarning string  `json:"stockWarning,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// OK reports whether the line was recorded.
func (r ItemResult) OK() bool { return r.Error == "" }

// PlaceOrderResult is the outcome of PlaceOrder.
type PlaceOrderResult struct {
	Order *model.Order `json:"order"`
	// Created is false when the payment had already been recorded and
	// Order is that earlier order.
	Created bool         `json:"created"`
	Items   []ItemResult `json:"items"`
}

// OrderService records paid orders and serves order queries.
type OrderService struct {
	store    repository.TxStore
	resolver *catalog.Resolver
	adjuster *catalog.Adjuster
	syncer   OrderSyncer
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderService wires an OrderService. syncer may be nil when mirroring
// is disabled.
func NewOrderService(
	store repository.TxStore,
	resolver *catalog.Resolver,
	adjuster *catalog.Adjuster,
	syncer OrderSyncer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		store:    store,
		resolver: resolver,
		adjuster: adjuster,
		syncer:   syncer,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordPayment turns a webhook confirmation into an order.
//
// The buyer's email and name come from the provider's customer record when
// there is one, falling back to checkout metadata and then the receipt email.
func (s *OrderService) RecordPayment(ctx context.Context, c *payment.Confirmation) (*PlaceOrderResult, error) {
	checkout, err := payment.DecodeCheckout(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("service/order: decoding checkout metadata of %s: %w", c.PaymentReferenceID, err)
	}

	in := PlaceOrderInput{
		User: UserResolution{
			ExternalAuthID: checkout.UserID,
			Email:          checkout.CustomerEmail,
			Name:           checkout.CustomerName,
		},
		AmountMinor:        c.AmountMinor,
		Currency:           c.Currency,
		ShippingAddressRaw: checkout.ShippingAddress,
		PaymentReferenceID: c.PaymentReferenceID,
		SaveAddress:        checkout.SaveAddress != nil && *checkout.SaveAddress,
	}
	if cu := c.Customer; cu != nil {
		if cu.Email != "" {
			in.User.Email = cu.Email
		}
		if cu.Name != "" {
			in.User.Name = cu.Name
		}
	}
	if in.User.Email == "" {
		in.User.Email = c.ReceiptEmail
	}

	for _, it := range checkout.Items {
		in.Items = append(in.Items, lineFromCheckout(it))
	}

	return s.PlaceOrder(ctx, in)
}

// PlaceOrder records a paid order. It is idempotent on PaymentReferenceID:
// a repeated call returns the existing order with Created = false.
//
// Errors:
//   - apperror.ErrValidation: no payment reference
//   - apperror.ErrUnresolvableUser: no known external id and no email
//   - anything else: the store failed and nothing was written
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	in.PaymentReferenceID = strings.TrimSpace(in.PaymentReferenceID)
	if in.PaymentReferenceID == "" {
		return nil, apperror.ValidationFailed("paymentReferenceId", "payment reference is required")
	}
	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	logger := s.logger.With(slog.String("paymentRef", in.PaymentReferenceID))

	// Cheap check before opening a transaction; repeated deliveries are common.
	if existing, err := s.store.GetOrderByPaymentReference(ctx, in.PaymentReferenceID); err == nil {
		logger.Info("payment already recorded", slog.String("orderNumber", existing.OrderNumber))
		return &PlaceOrderResult{Order: existing, Items: []ItemResult{}}, nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/order: checking payment %s: %w", in.PaymentReferenceID, err)
	}

	var res *PlaceOrderResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.placeInTx(ctx, tx, in, logger)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrUnresolvableUser) {
			logger.Error("order not recorded: buyer unknown", slog.String("error", err.Error()))
		}
		return nil, err
	}

	if res.Created {
		failed := 0
		for _, it := range res.Items {
			if !it.OK() {
				failed++
			}
		}
		logger.Info("order recorded",
			slog.String("orderID", res.Order.ID),
			slog.String("orderNumber", res.Order.OrderNumber),
			slog.String("total", res.Order.Total.StringFixed(2)),
			slog.Int("items", len(res.Items)-failed),
			slog.Int("failedItems", failed),
		)
		s.mirror(ctx, res.Order.ID)
	}
	return res, nil
}

func (s *OrderService) placeInTx(ctx context.Context, tx repository.Tx, in PlaceOrderInput, logger *slog.Logger) (*PlaceOrderResult, error) {
	// Re-check under the transaction: another delivery may have committed
	// between the pre-check and here.
	if existing, err := tx.GetOrderByPaymentReference(ctx, in.PaymentReferenceID); err == nil {
		return &PlaceOrderResult{Order: existing, Items: []ItemResult{}}, nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/order: checking payment %s: %w", in.PaymentReferenceID, err)
	}

	user, err := resolveUser(ctx, tx, in.User, in.PaymentReferenceID)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:             user.ID,
		Total:              payment.FromMinor(in.AmountMinor, in.Currency),
		Currency:           in.Currency,
		Status:             model.StatusProcessing,
		PaymentReferenceID: &in.PaymentReferenceID,
	}
	if err := s.resolveShipping(ctx, tx, user, in, order, logger); err != nil {
		return nil, err
	}

	existing, err := s.createOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &PlaceOrderResult{Order: existing, Items: []ItemResult{}}, nil
	}

	res := &PlaceOrderResult{Order: order, Created: true, Items: make([]ItemResult, 0, len(in.Items))}
	for _, line := range in.Items {
		res.Items = append(res.Items, s.addItem(ctx, tx, order, line, logger))
	}
	return res, nil
}

// resolveShipping fills the order's shipping fields.
//
// A parseable address is always kept as the order's snapshot. It is linked
// to an existing address of the buyer when one matches, or to a new Address
// when SaveAddress is set and the address passes the same checks the
// address book applies. Without a parseable address the buyer's default
// address, if any, is used.
func (s *OrderService) resolveShipping(ctx context.Context, tx repository.Tx, user *model.User, in PlaceOrderInput, order *model.Order, logger *slog.Logger) error {
	addrs, err := tx.ListAddresses(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("service/order: listing addresses of %s: %w", user.ID, err)
	}

	snap := model.ParseAddress(in.ShippingAddressRaw)
	if snap == nil {
		if strings.TrimSpace(in.ShippingAddressRaw) != "" {
			logger.Warn("shipping address not parseable, skipping",
				slog.String("address", in.ShippingAddressRaw))
		}
		for i := range addrs {
			if addrs[i].IsDefault {
				order.ShippingAddressID = &addrs[i].ID
				order.ShippingSnapshot = addrs[i].Snapshot()
				break
			}
		}
		return nil
	}

	order.ShippingSnapshot = snap
	for i := range addrs {
		if snap.Matches(&addrs[i]) {
			order.ShippingAddressID = &addrs[i].ID
			return nil
		}
	}
	if !in.SaveAddress {
		return nil
	}

	hasDefault := false
	for _, a := range addrs {
		hasDefault = hasDefault || a.IsDefault
	}
	addr := &model.Address{
		UserID:     user.ID,
		Street:     snap.Street,
		City:       snap.City,
		State:      snap.State,
		PostalCode: snap.PostalCode,
		Country:    snap.Country,
		IsDefault:  !hasDefault,
	}
	if err := validateAddress(addr); err != nil {
		logger.Warn("shipping address not saved, keeping snapshot only",
			slog.String("address", in.ShippingAddressRaw),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := tx.CreateAddress(ctx, addr); err != nil {
		return fmt.Errorf("service/order: saving shipping address: %w", err)
	}
	order.ShippingAddressID = &addr.ID
	return nil
}

// createOrder inserts the header, retrying on order number collisions.
// When the payment reference collides it returns the order that won.
func (s *OrderService) createOrder(ctx context.Context, tx repository.Tx, order *model.Order) (*model.Order, error) {
	var lastErr error
	for range maxOrderNumberAttempts {
		order.OrderNumber = s.orderNumber()
		err := tx.CreateOrder(ctx, order)
		if err == nil {
			return nil, nil
		}

		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/order: creating order: %w", err)
		}
		switch appErr.Field {
		case "payment_reference_id":
			existing, rerr := tx.GetOrderByPaymentReference(ctx, *order.PaymentReferenceID)
			if rerr != nil {
				return nil, fmt.Errorf("service/order: re-reading order after conflict: %w", rerr)
			}
			return existing, nil
		case "order_number":
			lastErr = err
			continue
		default:
			return nil, fmt.Errorf("service/order: creating order: %w", err)
		}
	}
	return nil, fmt.Errorf("service/order: no free order number after %d attempts: %w", maxOrderNumberAttempts, lastErr)
}

// orderNumber returns ORD-<unix millis>-<3 random digits>.
func (s *OrderService) orderNumber() string {
	return fmt.Sprintf("ORD-%d-%03d", s.now().UnixMilli(), rand.IntN(1000))
}

// addItem records one line inside its own savepoint.
func (s *OrderService) addItem(ctx context.Context, tx repository.Tx, order *model.Order, line OrderLine, logger *slog.Logger) ItemResult {
	res := ItemResult{ItemRef: line.ItemRef, Quantity: line.Quantity}
	if res.ItemRef == "" {
		res.ItemRef = line.OriginalRef
	}

	err := tx.Savepoint(ctx, func() error {
		if err := line.validate(); err != nil {
			return err
		}

		resolved, err := s.resolver.Resolve(ctx, tx, catalog.Ref{
			ItemRef:      line.ItemRef,
			OriginalRef:  line.OriginalRef,
			VariantRef:   line.VariantRef,
			FallbackName: line.Name,
			Price:        line.Price,
		})
		if err != nil {
			return err
		}
		res.ProductID = resolved.Product.ID
		res.VariantID = resolved.VariantID
		res.Placeholder = resolved.Created

		if resolved.VariantID != nil {
			adj, err := s.adjuster.Decrement(ctx, tx, *resolved.VariantID, line.Quantity)
			if err != nil {
				// Stock accuracy never blocks recording a paid item.
				logger.Error("stock adjustment failed",
					slog.String("variantID", *resolved.VariantID),
					slog.String("error", err.Error()),
				)
			} else if w := adj.Warning(); w != nil {
				res.StockWarning = w.Error()
			}
		}

		price := line.Price
		if !price.IsPositive() {
			price = resolved.Product.Price
		}
		return tx.CreateOrderItem(ctx, &model.OrderItem{
			OrderID:   order.ID,
			ProductID: resolved.Product.ID,
			VariantID: resolved.VariantID,
			Quantity:  line.Quantity,
			Price:     price,
		})
	})
	if err != nil {
		res.Error = err.Error()
		logger.Error("order item not recorded",
			slog.String("orderNumber", order.OrderNumber),
			slog.String("itemRef", res.ItemRef),
			slog.String("error", err.Error()),
		)
	}
	return res
}

// mirror pushes one order to the document store. Failures are logged only;
// the next full reconciliation repairs them.
func (s *OrderService) mirror(ctx context.Context, orderID string) {
	if s.syncer == nil {
		return
	}
	if _, err := s.syncer.SyncOrder(ctx, orderID); err != nil {
		s.logger.Warn("order mirror sync failed",
			slog.String("orderID", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateStatus sets an order's status and mirrors the change.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, status string) (*model.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperror.ValidationFailed("id", "order ID is required")
	}
	st := model.OrderStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !st.Valid() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown order status %q", status))
	}

	order, err := s.store.UpdateOrderStatus(ctx, orderID, st)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status updated",
		slog.String("orderID", order.ID),
		slog.String("status", string(order.Status)),
	)
	s.mirror(ctx, order.ID)
	return order, nil
}

// ListForUser returns the orders of the user with the given external id,
// newest first. An unknown user simply has no orders.
func (s *OrderService) ListForUser(ctx context.Context, externalID string, limit, offset int) ([]model.OrderDetail, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, apperror.ErrNotFound) {
		return []model.OrderDetail{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/order: looking up user %s: %w", externalID, err)
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	orders, err := s.store.ListUserOrderDetails(ctx, user.ID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list orders", slog.String("userID", user.ID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/order: listing orders: %w", err)
	}
	return orders, nil
}

// GetForUser returns one order if it belongs to the user with externalID.
func (s *OrderService) GetForUser(ctx context.Context, externalID, orderID string) (*model.OrderDetail, error) {
	d, err := s.store.GetOrderDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if d.User == nil || d.User.ExternalAuthID == nil || *d.User.ExternalAuthID != externalID {
		return nil, apperror.Forbidden("order belongs to another user")
	}
	return d, nil
}
