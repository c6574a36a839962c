// Package mirror keeps the document store's copy of every order in step
// with the relational system of record.
//
// DIRECTION:
// Data only flows primary → mirror. The engine reads orders from the
// primary store and creates, patches or deletes documents until the mirror
// holds exactly one document per primary order number.
//
// MODES:
//   - SyncAll:   full reconciliation. Deletes orphans and duplicates, upserts
//     every order, records a SyncState under SyncStateKey.
//   - SyncOrder: one order. Creates or patches its document and nothing else.
//
// Each document is handled independently on a bounded pool of goroutines.
// A failed document is counted and logged; it never stops the batch.
//
// CONVERGENCE:
// Documents carry a hash of their derived fields. A document whose hash
// already matches is left alone, so a second run with no primary changes
// performs no writes at all.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/storefront/internal/model"
)

// OrderSource is the read side of the primary store the engine needs.
type OrderSource interface {
	ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error)
	GetOrderDetail(ctx context.Context, id string) (*model.OrderDetail, error)
}

// Action is what happened to one document.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// ItemResult is the outcome for one document.
type ItemResult struct {
	OrderNumber string `json:"orderNumber"`
	DocumentID  string `json:"documentId,omitempty"`
	Action      Action `json:"action"`
	Error       string `json:"error,omitempty"`
}

// Result is the outcome of a sync run.
type Result struct {
	Mode     string        `json:"mode"`
	Stats    Stats         `json:"stats"`
	Items    []ItemResult  `json:"items"`
	Duration time.Duration `json:"duration"`
}

func (r *Result) tally() {
	r.Stats = Stats{Total: len(r.Items)}
	for _, it := range r.Items {
		switch it.Action {
		case ActionCreated:
			r.Stats.Created++
		case ActionUpdated:
			r.Stats.Updated++
		case ActionDeleted:
			r.Stats.Deleted++
		case ActionUnchanged:
			r.Stats.Unchanged++
		case ActionFailed:
			r.Stats.Errors++
		}
	}
}

// Engine reconciles the document store against the primary store.
type Engine struct {
	source      OrderSource
	store       DocumentStore
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine returns an Engine running at most concurrency document
// operations at a time (1 when concurrency < 1).
func NewEngine(source OrderSource, store DocumentStore, concurrency int, logger *slog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		source:      source,
		store:       store,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Sync runs SyncOrder when orderID is set and SyncAll otherwise.
func (e *Engine) Sync(ctx context.Context, orderID string) (*Result, error) {
	if orderID != "" {
		return e.SyncOrder(ctx, orderID)
	}
	return e.SyncAll(ctx)
}

// SyncOrder creates or patches the document of one order. It does not
// delete anything and does not record a SyncState.
func (e *Engine) SyncOrder(ctx context.Context, orderID string) (*Result, error) {
	start := e.now()
	res := &Result{Mode: "single"}

	d, err := e.source.GetOrderDetail(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("mirror: loading order %s: %w", orderID, err)
	}

	ref, err := e.store.FindOrder(ctx, d.OrderNumber)
	if err != nil {
		res.Items = []ItemResult{failed(d.OrderNumber, "", err)}
	} else {
		res.Items = []ItemResult{e.upsert(ctx, d, ref)}
	}

	res.tally()
	res.Duration = e.now().Sub(start)
	if it := res.Items[0]; it.Action == ActionFailed {
		return res, fmt.Errorf("mirror: syncing order %s: %s", d.OrderNumber, it.Error)
	}
	return res, nil
}

// SyncAll reconciles every order. Per-document failures are counted in the
// result; an error is returned only when the run could not start (either
// store unreadable), and then a failed SyncState is recorded.
func (e *Engine) SyncAll(ctx context.Context) (*Result, error) {
	start := e.now()

	orders, err := e.source.ListOrderDetails(ctx)
	if err != nil {
		return nil, e.fail(ctx, start, fmt.Errorf("mirror: loading orders: %w", err))
	}
	refs, err := e.store.ListOrders(ctx)
	if err != nil {
		return nil, e.fail(ctx, start, fmt.Errorf("mirror: listing documents: %w", err))
	}

	existing, stale := plan(orders, refs)

	res := &Result{Mode: "full", Items: make([]ItemResult, len(stale)+len(orders))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, ref := range stale {
		g.Go(func() error {
			res.Items[i] = e.delete(gctx, ref)
			return nil
		})
	}
	for i := range orders {
		d := &orders[i]
		slot := len(stale) + i
		g.Go(func() error {
			var ref *DocumentRef
			if r, ok := existing[d.OrderNumber]; ok {
				ref = &r
			}
			res.Items[slot] = e.upsert(gctx, d, ref)
			return nil
		})
	}
	// Workers never return an error; failures live in res.Items.
	_ = g.Wait()

	res.tally()
	res.Duration = e.now().Sub(start)

	e.logger.Info("order mirror reconciled",
		slog.Int("created", res.Stats.Created),
		slog.Int("updated", res.Stats.Updated),
		slog.Int("deleted", res.Stats.Deleted),
		slog.Int("unchanged", res.Stats.Unchanged),
		slog.Int("errors", res.Stats.Errors),
		slog.Duration("duration", res.Duration),
	)

	state := &SyncState{
		Key:        SyncStateKey,
		Status:     StatusSuccess,
		LastSync:   e.now().UTC(),
		DurationMS: res.Duration.Milliseconds(),
		Stats:      res.Stats,
	}
	if err := e.store.SaveSyncState(ctx, state); err != nil {
		e.logger.Error("failed to record sync state", slog.String("error", err.Error()))
	}
	return res, nil
}

// State returns the latest recorded SyncState, or nil before the first run.
func (e *Engine) State(ctx context.Context) (*SyncState, error) {
	s, err := e.store.GetSyncState(ctx, SyncStateKey)
	if err != nil {
		return nil, fmt.Errorf("mirror: reading sync state: %w", err)
	}
	return s, nil
}

// plan splits the mirror listing into the document to reuse per order
// number and the documents to delete: orphans whose order number no longer
// exists, and every duplicate beyond the one kept.
func plan(orders []model.OrderDetail, refs []DocumentRef) (map[string]DocumentRef, []DocumentRef) {
	primary := make(map[string]string, len(orders))
	for _, o := range orders {
		primary[o.OrderNumber] = BuildDocument(&o).SyncHash
	}

	existing := make(map[string]DocumentRef, len(refs))
	var stale []DocumentRef
	for _, ref := range refs {
		want, ok := primary[ref.OrderNumber]
		if !ok {
			stale = append(stale, ref)
			continue
		}
		kept, dup := existing[ref.OrderNumber]
		switch {
		case !dup:
			existing[ref.OrderNumber] = ref
		case kept.SyncHash != want && ref.SyncHash == want:
			// Prefer the duplicate that is already up to date.
			stale = append(stale, kept)
			existing[ref.OrderNumber] = ref
		default:
			stale = append(stale, ref)
		}
	}
	return existing, stale
}

func (e *Engine) upsert(ctx context.Context, d *model.OrderDetail, ref *DocumentRef) ItemResult {
	if err := ctx.Err(); err != nil {
		return failed(d.OrderNumber, "", err)
	}

	doc := BuildDocument(d)
	doc.LastSyncedAt = e.now().UTC().Format(time.RFC3339)

	if ref == nil {
		if err := e.store.CreateOrder(ctx, doc); err != nil {
			return e.logFailure(failed(d.OrderNumber, "", err))
		}
		return ItemResult{OrderNumber: d.OrderNumber, DocumentID: doc.ID, Action: ActionCreated}
	}

	if ref.SyncHash == doc.SyncHash {
		return ItemResult{OrderNumber: d.OrderNumber, DocumentID: ref.ID, Action: ActionUnchanged}
	}

	doc.ID = ref.ID
	if err := e.store.PatchOrder(ctx, ref.ID, doc); err != nil {
		return e.logFailure(failed(d.OrderNumber, ref.ID, err))
	}
	return ItemResult{OrderNumber: d.OrderNumber, DocumentID: ref.ID, Action: ActionUpdated}
}

func (e *Engine) delete(ctx context.Context, ref DocumentRef) ItemResult {
	if err := ctx.Err(); err != nil {
		return failed(ref.OrderNumber, ref.ID, err)
	}
	if err := e.store.DeleteDocument(ctx, ref.ID); err != nil {
		return e.logFailure(failed(ref.OrderNumber, ref.ID, err))
	}
	return ItemResult{OrderNumber: ref.OrderNumber, DocumentID: ref.ID, Action: ActionDeleted}
}

// fail records a failed SyncState with zeroed stats and returns cause.
func (e *Engine) fail(ctx context.Context, start time.Time, cause error) error {
	e.logger.Error("order mirror reconciliation failed", slog.String("error", cause.Error()))

	state := &SyncState{
		Key:        SyncStateKey,
		Status:     StatusFailed,
		LastSync:   e.now().UTC(),
		DurationMS: e.now().Sub(start).Milliseconds(),
		Stats:      Stats{Errors: 1},
		Error:      cause.Error(),
	}
	if err := e.store.SaveSyncState(ctx, state); err != nil {
		return errors.Join(cause, fmt.Errorf("mirror: recording failed sync state: %w", err))
	}
	return cause
}

func (e *Engine) logFailure(it ItemResult) ItemResult {
	e.logger.Error("order mirror document failed",
		slog.String("orderNumber", it.OrderNumber),
		slog.String("documentID", it.DocumentID),
		slog.String("error", it.Error),
	)
	return it
}

func failed(orderNumber, docID string, err error) ItemResult {
	return ItemResult{OrderNumber: orderNumber, DocumentID: docID, Action: ActionFailed, Error: err.Error()}
}
