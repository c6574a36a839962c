package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/payment"
)

// MaxCartLines bounds the number of lines in one checkout.
const MaxCartLines = 50

// PaymentGateway is the part of the payment provider checkout uses.
// *payment.Client satisfies it.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, p payment.CreateCustomerParams) (*payment.Customer, error)
	CreatePaymentIntent(ctx context.Context, p payment.CreatePaymentIntentParams) (*payment.PaymentIntent, error)
}

// CheckoutInput is a cart about to be paid.
type CheckoutInput struct {
	Items           []payment.CheckoutItem
	UserID          string
	CustomerEmail   string
	CustomerName    string
	ShippingAddress string
	SaveAddress     *bool
}

// CheckoutResult is what the browser needs to confirm the payment.
type CheckoutResult struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Total           decimal.Decimal `json:"total"`
}

// CheckoutService starts payments.
//
// CHECKOUT → WEBHOOK:
// The payment provider confirms payments asynchronously. Everything the
// webhook needs to write the order (cart lines, buyer, shipping address) is
// encoded into the payment intent's metadata here and decoded again by
// OrderService.RecordPayment.
type CheckoutService struct {
	gateway  PaymentGateway
	currency string
	logger   *slog.Logger
}

// NewCheckoutService returns a CheckoutService charging in currency
// (DefaultCurrency when empty).
func NewCheckoutService(gateway PaymentGateway, currency string, logger *slog.Logger) *CheckoutService {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &CheckoutService{gateway: gateway, currency: strings.ToLower(currency), logger: logger}
}

// CreatePaymentIntent validates the cart and opens a payment intent for its
// subtotal. Provider errors are returned as they are.
func (s *CheckoutService) CreatePaymentIntent(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := validateCart(in.Items); err != nil {
		return nil, err
	}

	cc := &payment.CheckoutContext{
		UserID:          strings.TrimSpace(in.UserID),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		CustomerName:    strings.TrimSpace(in.CustomerName),
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		SaveAddress:     in.SaveAddress,
		Items:           in.Items,
	}
	md, err := cc.Encode()
	if err != nil {
		return nil, err
	}

	subtotal := cc.Subtotal()
	amount := payment.ToMinor(subtotal, s.currency)
	if amount <= 0 {
		return nil, apperror.ValidationFailed("items", "order total must be positive")
	}

	shipping := model.ParseAddress(cc.ShippingAddress)

	params := payment.CreatePaymentIntentParams{
		Amount:       amount,
		Currency:     s.currency,
		Description:  "Order for " + nameOr(cc.CustomerName, "Customer"),
		ReceiptEmail: cc.CustomerEmail,
		Metadata:     md,
		Shipping:     shipping,
		ShippingName: cc.CustomerName,
	}

	if cc.CustomerEmail != "" {
		customer, err := s.gateway.CreateCustomer(ctx, payment.CreateCustomerParams{
			Email:   cc.CustomerEmail,
			Name:    cc.CustomerName,
			Address: shipping,
		})
		if err != nil {
			// The intent works without a customer; the webhook falls back to
			// the receipt email.
			s.logger.Warn("customer creation failed, continuing without",
				slog.String("error", err.Error()))
		} else {
			params.Customer = customer.ID
		}
	}

	pi, err := s.gateway.CreatePaymentIntent(ctx, params)
	if err != nil {
		s.logger.Error("failed to create payment intent", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/checkout: creating payment intent: %w", err)
	}

	s.logger.Info("payment intent created",
		slog.String("paymentRef", pi.ID),
		slog.Int64("amount", amount),
		slog.Int("items", len(cc.Items)),
	)
	return &CheckoutResult{ClientSecret: pi.ClientSecret, PaymentIntentID: pi.ID, Total: subtotal}, nil
}

func validateCart(items []payment.CheckoutItem) error {
	if len(items) == 0 {
		return apperror.ValidationFailed("items", "items are required")
	}
	if len(items) > MaxCartLines {
		return apperror.ValidationFailed("items", fmt.Sprintf("at most %d items per order", MaxCartLines))
	}
	for i, it := range items {
		if err := lineFromCheckout(it).validate(); err != nil {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return apperror.ValidationFailed("items", fmt.Sprintf("item %d: %s", i, appErr.Message))
			}
			return err
		}
	}
	return nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
