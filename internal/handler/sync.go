package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/mirror"
)

// Mirror is the order mirror as the sync routes use it. *mirror.Engine
// satisfies it.
type Mirror interface {
	Sync(ctx context.Context, orderID string) (*mirror.Result, error)
	SyncAll(ctx context.Context) (*mirror.Result, error)
	State(ctx context.Context) (*mirror.SyncState, error)
}

// SyncHandler exposes the mirror to operators and cron jobs.
//
// ROUTES:
//
//	GET|POST /api/sync/orders[?orderId=]  → one order, or full reconciliation
//	POST     /api/admin/sync-orders       → full reconciliation
//	GET      /api/sync/state              → outcome of the last full run
//	GET      /api/sync/products           → catalog sync, disabled
//
// With no mirror configured every route except products answers 503.
type SyncHandler struct {
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncHandler returns a SyncHandler. m may be nil when mirroring is off.
func NewSyncHandler(m Mirror, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{mirror: m, logger: logger, now: time.Now}
}

type syncResponse struct {
	Status string `json:"status"`
	*mirror.Result
	Message string `json:"message,omitempty"`
}

// HandleSyncOrders handles GET and POST /api/sync/orders. The order id comes
// from the orderId query parameter or, for POST, a {"orderId": "..."} body.
func (h *SyncHandler) HandleSyncOrders(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" && r.Method == http.MethodPost {
		var body struct {
			OrderID string `json:"orderId"`
		}
		if err := decodeJSON(w, r, &body, true); err != nil {
			writeError(w, err)
			return
		}
		orderID = body.OrderID
	}

	res, err := h.mirror.Sync(r.Context(), orderID)
	h.respond(w, res, err)
}

// HandleAdminSyncOrders handles POST /api/admin/sync-orders.
func (h *SyncHandler) HandleAdminSyncOrders(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	res, err := h.mirror.SyncAll(r.Context())
	h.respond(w, res, err)
}

// HandleSyncState handles GET /api/sync/state.
func (h *SyncHandler) HandleSyncState(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	state, err := h.mirror.State(r.Context())
	if err != nil {
		h.logger.Error("failed to read sync state", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if state == nil {
		writeError(w, apperror.NotFound("sync state", mirror.SyncStateKey))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleSyncProducts handles GET /api/sync/products?force=.
//
// Products are authored in the CMS and pulled on demand by the catalog
// resolver's placeholders; a bulk catalog import is not part of this
// service. The route stays so existing cron jobs keep getting a 200.
func (h *SyncHandler) HandleSyncProducts(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	h.logger.Info("product sync requested; catalog sync is disabled", slog.Bool("force", force))

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Product sync is disabled",
		"duration": h.now().Sub(start).String(),
		"results":  mirror.Stats{},
	})
}

func (h *SyncHandler) enabled(w http.ResponseWriter) bool {
	if h.mirror == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "mirror_disabled",
			Message: "order mirror is not configured",
		})
		return false
	}
	return true
}

func (h *SyncHandler) respond(w http.ResponseWriter, res *mirror.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, syncResponse{Status: "success", Result: res})
		return
	}
	if errors.Is(err, apperror.ErrNotFound) {
		writeError(w, err)
		return
	}

	h.logger.Error("order sync failed", slog.String("error", err.Error()))
	// A single-order run that reached the store still has a result to show.
	writeJSON(w, http.StatusInternalServerError, syncResponse{Status: "error", Result: res, Message: err.Error()})
}
