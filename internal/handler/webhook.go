package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/payment"
	"github.com/sakif/storefront/internal/service"
)

// PaymentNormalizer turns a signed webhook body into a confirmation.
type PaymentNormalizer interface {
	Normalize(ctx context.Context, payload []byte, signature string) (*payment.Confirmation, error)
}

// PaymentRecorder writes the order for a confirmation.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, c *payment.Confirmation) (*service.PlaceOrderResult, error)
}

// WebhookHandler receives payment provider events.
//
// ACKNOWLEDGEMENT CONTRACT:
// The provider retries every delivery that does not answer 2xx. So:
//   - a bad signature or unparseable body answers 400 (retrying cannot help)
//   - a failed provider lookup answers 500 so the delivery is retried
//   - everything else answers 200 {"received": true}, even when the order
//     could not be written; those failures are for operators, in the logs
type WebhookHandler struct {
	normalizer PaymentNormalizer
	orders     PaymentRecorder
	logger     *slog.Logger
}

func NewWebhookHandler(normalizer PaymentNormalizer, orders PaymentRecorder, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{normalizer: normalizer, orders: orders, logger: logger}
}

// HandlePaymentWebhook handles POST /api/webhooks/stripe.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	// The signature covers the exact bytes, so the body is read raw.
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperror.MalformedPayload("request body unreadable"))
		return
	}

	conf, err := h.normalizer.Normalize(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidSignature) || errors.Is(err, apperror.ErrMalformedPayload) {
			h.logger.Warn("webhook rejected", slog.String("error", err.Error()))
			writeError(w, err)
			return
		}
		// Provider lookups failed after the signature checked out. Answer
		// 500 so the provider retries later.
		h.logger.Error("webhook processing failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	if conf != nil {
		res, err := h.orders.RecordPayment(r.Context(), conf)
		switch {
		case err != nil:
			h.logger.Error("order not recorded for payment",
				slog.String("paymentRef", conf.PaymentReferenceID),
				slog.String("eventID", conf.EventID),
				slog.String("error", err.Error()),
			)
		case !res.Created:
			h.logger.Info("duplicate payment delivery",
				slog.String("paymentRef", conf.PaymentReferenceID),
				slog.String("orderNumber", res.Order.OrderNumber),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
