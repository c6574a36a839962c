package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/payment"
	"github.com/sakif/storefront/internal/service"
)

type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, in service.CheckoutInput) (*service.CheckoutResult, error)
}

type CheckoutHandler struct {
	checkout PaymentIntentCreator
	logger   *slog.Logger
}

func NewCheckoutHandler(checkout PaymentIntentCreator, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// createPaymentIntentRequest mirrors what the storefront's checkout page
// posts: the cart plus buyer details keyed like the payment metadata.
type createPaymentIntentRequest struct {
	Items    []payment.CheckoutItem `json:"items"`
	Metadata map[string]string      `json:"metadata"`
}

// HandleCreatePaymentIntent handles POST /api/create-payment-intent.
//
// RESPONSE: {"clientSecret": "...", "paymentIntentId": "pi_...", "total": "45.5"}
//
// Provider failures answer 500 with the provider's message, since the
// shopper is waiting on this call and needs to see why the card failed.
func (h *CheckoutHandler) HandleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createPaymentIntentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	md := req.Metadata
	in := service.CheckoutInput{
		Items:           req.Items,
		UserID:          md[payment.MetaUserID],
		CustomerEmail:   md[payment.MetaCustomerEmail],
		CustomerName:    md[payment.MetaCustomerName],
		ShippingAddress: md[payment.MetaShippingAddress],
	}
	if v, ok := md[payment.MetaSaveAddress]; ok && v != "" {
		save, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, apperror.ValidationFailed(payment.MetaSaveAddress, "save_address must be true or false"))
			return
		}
		in.SaveAddress = &save
	}
	// A signed-in shopper is identified by their token, not by the body.
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		in.UserID = id.Subject
		if in.CustomerEmail == "" {
			in.CustomerEmail = id.Email
		}
	}

	res, err := h.checkout.CreatePaymentIntent(r.Context(), in)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "payment_error", Message: providerMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// providerMessage returns the provider's own message when err carries one.
func providerMessage(err error) string {
	var apiErr *payment.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
