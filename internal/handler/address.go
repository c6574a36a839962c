package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/service"
)

type AddressService interface {
	List(ctx context.Context, id *auth.Identity) ([]model.Address, error)
	Create(ctx context.Context, id *auth.Identity, in service.AddressInput) (*model.Address, error)
	Get(ctx context.Context, id *auth.Identity, addressID string) (*model.Address, error)
	Update(ctx context.Context, id *auth.Identity, addressID string, in service.AddressUpdate) (*model.Address, error)
	Delete(ctx context.Context, id *auth.Identity, addressID string) error
	SetDefault(ctx context.Context, id *auth.Identity, addressID string) (*model.Address, error)
}

// AddressHandler serves /api/user/addresses. Every route sits behind
// auth.RequireAuth, so the identity is always present; the service still
// rejects a nil one.
type AddressHandler struct {
	addresses AddressService
	logger    *slog.Logger
}

func NewAddressHandler(addresses AddressService, logger *slog.Logger) *AddressHandler {
	return &AddressHandler{addresses: addresses, logger: logger}
}

func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// HandleList handles GET /api/user/addresses.
func (h *AddressHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.addresses.List(r.Context(), identity(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

// HandleCreate handles POST /api/user/addresses.
func (h *AddressHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.AddressInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}
	addr, err := h.addresses.Create(r.Context(), identity(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addr)
}

// HandleGet handles GET /api/user/addresses/{id}.
func (h *AddressHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	addr, err := h.addresses.Get(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// HandleUpdate handles PUT /api/user/addresses/{id}; omitted fields are kept.
func (h *AddressHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.AddressUpdate
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}
	addr, err := h.addresses.Update(r.Context(), identity(r), pathParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// HandleDelete handles DELETE /api/user/addresses/{id}.
func (h *AddressHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.addresses.Delete(r.Context(), identity(r), pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetDefault handles PUT /api/user/addresses/{id}/default.
func (h *AddressHandler) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	addr, err := h.addresses.SetDefault(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}
