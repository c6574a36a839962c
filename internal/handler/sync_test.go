package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/handler"
	"github.com/sakif/storefront/internal/mirror"
)

type fakeMirror struct {
	syncedID string
	allCalls int
	res      *mirror.Result
	err      error
	state    *mirror.SyncState
}

func (f *fakeMirror) Sync(ctx context.Context, orderID string) (*mirror.Result, error) {
	f.syncedID = orderID
	return f.res, f.err
}

func (f *fakeMirror) SyncAll(ctx context.Context) (*mirror.Result, error) {
	f.allCalls++
	return f.res, f.err
}

func (f *fakeMirror) State(ctx context.Context) (*mirror.SyncState, error) {
	return f.state, nil
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m))
	return m
}

func TestSyncHandler_Disabled(t *testing.T) {
	h := handler.NewSyncHandler(nil, testLogger())

	for name, fn := range map[string]http.HandlerFunc{
		"orders": h.HandleSyncOrders,
		"admin":  h.HandleAdminSyncOrders,
		"state":  h.HandleSyncState,
	} {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fn(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
			assert.Equal(t, "mirror_disabled", decodeMap(t, rr)["error"])
		})
	}
}

func TestSyncHandler_HandleSyncOrders(t *testing.T) {
	single := &mirror.Result{
		Mode:  "single",
		Stats: mirror.Stats{Created: 1, Total: 1},
		Items: []mirror.ItemResult{{OrderNumber: "ORD-1-001", DocumentID: "order-ORD-1-001", Action: mirror.ActionCreated}},
	}

	t.Run("order id from query", func(t *testing.T) {
		fm := &fakeMirror{res: single}
		h := handler.NewSyncHandler(fm, testLogger())

		rr := httptest.NewRecorder()
		h.HandleSyncOrders(rr, httptest.NewRequest(http.MethodGet, "/api/sync/orders?orderId=o1", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "o1", fm.syncedID)
		body := decodeMap(t, rr)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "single", body["mode"])
		assert.EqualValues(t, 1, body["stats"].(map[string]any)["created"])
	})

	t.Run("order id from POST body", func(t *testing.T) {
		fm := &fakeMirror{res: single}
		h := handler.NewSyncHandler(fm, testLogger())

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/sync/orders", bytes.NewBufferString(`{"orderId":"o2"}`))
		h.HandleSyncOrders(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "o2", fm.syncedID)
	})

	t.Run("empty POST means full run", func(t *testing.T) {
		fm := &fakeMirror{res: &mirror.Result{Mode: "full"}}
		h := handler.NewSyncHandler(fm, testLogger())

		rr := httptest.NewRecorder()
		h.HandleSyncOrders(rr, httptest.NewRequest(http.MethodPost, "/api/sync/orders", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, fm.syncedID)
	})

	t.Run("unknown order", func(t *testing.T) {
		fm := &fakeMirror{err: apperror.NotFound("order", "nope")}
		h := handler.NewSyncHandler(fm, testLogger())

		rr := httptest.NewRecorder()
		h.HandleSyncOrders(rr, httptest.NewRequest(http.MethodGet, "/api/sync/orders?orderId=nope", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("store failure keeps the result", func(t *testing.T) {
		failed := &mirror.Result{
			Mode:  "single",
			Stats: mirror.Stats{Errors: 1, Total: 1},
			Items: []mirror.ItemResult{{OrderNumber: "ORD-1-001", Action: mirror.ActionFailed, Error: "boom"}},
		}
		fm := &fakeMirror{res: failed, err: errors.New("mirror: upsert ORD-1-001: boom")}
		h := handler.NewSyncHandler(fm, testLogger())

		rr := httptest.NewRecorder()
		h.HandleSyncOrders(rr, httptest.NewRequest(http.MethodGet, "/api/sync/orders?orderId=o1", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeMap(t, rr)
		assert.Equal(t, "error", body["status"])
		assert.Contains(t, body["message"], "boom")
		assert.Len(t, body["items"], 1)
	})
}

func TestSyncHandler_HandleAdminSyncOrders(t *testing.T) {
	fm := &fakeMirror{res: &mirror.Result{Mode: "full", Stats: mirror.Stats{Deleted: 2, Total: 2}}}
	h := handler.NewSyncHandler(fm, testLogger())

	rr := httptest.NewRecorder()
	h.HandleAdminSyncOrders(rr, httptest.NewRequest(http.MethodPost, "/api/admin/sync-orders", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, fm.allCalls)
	assert.Equal(t, "full", decodeMap(t, rr)["mode"])
}

func TestSyncHandler_HandleSyncState(t *testing.T) {
	t.Run("never ran", func(t *testing.T) {
		h := handler.NewSyncHandler(&fakeMirror{}, testLogger())
		rr := httptest.NewRecorder()
		h.HandleSyncState(rr, httptest.NewRequest(http.MethodGet, "/api/sync/state", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("last run", func(t *testing.T) {
		state := &mirror.SyncState{
			Key:      mirror.SyncStateKey,
			Status:   mirror.StatusSuccess,
			LastSync: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Stats:    mirror.Stats{Unchanged: 3, Total: 3},
		}
		h := handler.NewSyncHandler(&fakeMirror{state: state}, testLogger())

		rr := httptest.NewRecorder()
		h.HandleSyncState(rr, httptest.NewRequest(http.MethodGet, "/api/sync/state", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var got mirror.SyncState
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, mirror.StatusSuccess, got.Status)
		assert.Equal(t, 3, got.Stats.Unchanged)
	})
}

func TestSyncHandler_HandleSyncProducts(t *testing.T) {
	// Works with or without a mirror.
	h := handler.NewSyncHandler(nil, testLogger())

	rr := httptest.NewRecorder()
	h.HandleSyncProducts(rr, httptest.NewRequest(http.MethodGet, "/api/sync/products?force=true", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "results")
}
