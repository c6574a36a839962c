// Package payment turns payment-provider webhooks into order confirmations
// and talks to the provider on behalf of checkout.
//
// FLOW:
//
//	provider ──POST──▶ handler ──▶ Normalizer.Normalize ──▶ *Confirmation
//	                                 │ verify signature
//	                                 │ parse envelope
//	                                 │ dispatch on event type
//	                                 ▼
//	                          Provider (payment intent / customer lookups)
//
// Only two event types produce a Confirmation; everything else is
// acknowledged and ignored. Normalize never writes anything: recording the
// order is the caller's job.
package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sakif/storefront/internal/apperror"
)

const (
	EventPaymentSucceeded        = "payment_intent.succeeded"
	EventCheckoutSessionComplete = "checkout.session.completed"
)

// Event is the webhook envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Confirmation is a confirmed payment in provider-neutral form.
type Confirmation struct {
	EventID            string
	PaymentReferenceID string
	AmountMinor        int64
	Currency           string
	Metadata           map[string]string
	// Customer is the provider's customer record, nil when the payment has
	// none or it could not be fetched.
	Customer *Customer
	// ReceiptEmail is the email the provider sent the receipt to, if any.
	ReceiptEmail string
}

// Provider is the part of the provider API the normalizer needs.
type Provider interface {
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}

// Normalizer verifies and interprets webhook deliveries.
type Normalizer struct {
	provider  Provider
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewNormalizer(provider Provider, secret string, tolerance time.Duration, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		provider:  provider,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

// Normalize verifies the signature, parses the event and returns its
// Confirmation. It returns (nil, nil) for event types that carry no payment.
//
// Errors:
//   - apperror.ErrInvalidSignature: header missing, stale, or wrong
//   - apperror.ErrMalformedPayload: body or event object is not valid JSON
//   - anything else: a provider lookup needed to build the confirmation failed
func (n *Normalizer) Normalize(ctx context.Context, payload []byte, signature string) (*Confirmation, error) {
	if err := VerifySignature(payload, signature, n.secret, n.tolerance, n.now()); err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, apperror.MalformedPayload("invalid event JSON: " + err.Error())
	}
	if ev.Type == "" || len(ev.Data.Object) == 0 {
		return nil, apperror.MalformedPayload("event has no type or data object")
	}

	logger := n.logger.With(slog.String("eventID", ev.ID), slog.String("eventType", ev.Type))

	switch ev.Type {
	case EventPaymentSucceeded:
		var pi PaymentIntent
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return nil, apperror.MalformedPayload("invalid payment intent: " + err.Error())
		}
		if pi.ID == "" {
			return nil, apperror.MalformedPayload("payment intent has no id")
		}
		return n.confirm(ctx, logger, ev.ID, &pi), nil

	case EventCheckoutSessionComplete:
		var s CheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
			return nil, apperror.MalformedPayload("invalid checkout session: " + err.Error())
		}
		if s.PaymentIntent == "" {
			logger.Info("checkout session has no payment intent, ignoring", slog.String("sessionID", s.ID))
			return nil, nil
		}
		pi, err := n.provider.GetPaymentIntent(ctx, s.PaymentIntent)
		if err != nil {
			return nil, err
		}
		if pi.Customer == "" {
			pi.Customer = s.Customer
		}
		if len(pi.Metadata) == 0 {
			pi.Metadata = s.Metadata
		}
		c := n.confirm(ctx, logger, ev.ID, pi)
		if c.Customer == nil && s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
			c.Customer = &Customer{ID: s.Customer, Email: s.CustomerDetails.Email, Name: s.CustomerDetails.Name}
		}
		return c, nil

	default:
		logger.Debug("ignoring webhook event")
		return nil, nil
	}
}

// confirm builds a Confirmation, fetching the customer when one is linked.
// A failed customer lookup is logged; metadata can still identify the buyer.
func (n *Normalizer) confirm(ctx context.Context, logger *slog.Logger, eventID string, pi *PaymentIntent) *Confirmation {
	c := &Confirmation{
		EventID:            eventID,
		PaymentReferenceID: pi.ID,
		AmountMinor:        pi.Amount,
		Currency:           pi.Currency,
		Metadata:           pi.Metadata,
		ReceiptEmail:       pi.ReceiptEmail,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}

	if pi.Customer != "" {
		cu, err := n.provider.GetCustomer(ctx, pi.Customer)
		if err != nil {
			logger.Error("failed to fetch customer",
				slog.String("customerID", pi.Customer),
				slog.String("error", err.Error()),
			)
		} else {
			c.Customer = cu
		}
	}
	return c
}
