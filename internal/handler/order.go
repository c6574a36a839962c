package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
)

type OrderService interface {
	ListForUser(ctx context.Context, externalID string, limit, offset int) ([]model.OrderDetail, error)
	GetForUser(ctx context.Context, externalID, orderID string) (*model.OrderDetail, error)
	UpdateStatus(ctx context.Context, orderID, status string) (*model.Order, error)
}

type AccountService interface {
	Me(ctx context.Context, id *auth.Identity) (*model.User, error)
}

// OrderHandler serves a shopper's orders and the admin status update.
type OrderHandler struct {
	orders   OrderService
	accounts AccountService
	logger   *slog.Logger
}

func NewOrderHandler(orders OrderService, accounts AccountService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, accounts: accounts, logger: logger}
}

// HandleMe handles GET /api/me.
func (h *OrderHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	user, err := h.accounts.Me(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleList handles GET /api/orders?limit=&offset=, newest first.
func (h *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("authentication required"))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	orders, err := h.orders.ListForUser(r.Context(), id.Subject, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleGet handles GET /api/orders/{id}.
func (h *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("authentication required"))
		return
	}

	order, err := h.orders.GetForUser(r.Context(), id.Subject, pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleUpdateStatus handles PUT /api/admin/orders/{id}/status with body
// {"status": "SHIPPED"}.
func (h *OrderHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), pathParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(key, key+" must be a non-negative integer")
	}
	return n, nil
}
