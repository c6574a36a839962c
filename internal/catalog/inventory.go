package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/repository"
)

// Adjustment records what a decrement did to a variant's stock.
type Adjustment struct {
	VariantID string
	Requested int
	Before    int
	After     int
}

// Shortfall is how many units could not be taken from stock.
func (a Adjustment) Shortfall() int {
	return max(a.Requested-(a.Before-a.After), 0)
}

// Warning returns an InsufficientStock error when the decrement was clamped,
// nil otherwise.
func (a Adjustment) Warning() error {
	if a.Shortfall() == 0 {
		return nil
	}
	return apperror.InsufficientStock(a.VariantID, a.Requested, a.Before)
}

// Adjuster decrements variant stock as order items are recorded.
//
// A paid order is recorded even when stock is short: the decrement is
// clamped at zero and the shortfall is logged for an operator.
type Adjuster struct {
	logger *slog.Logger
}

func NewAdjuster(logger *slog.Logger) *Adjuster {
	return &Adjuster{logger: logger}
}

// Decrement takes qty units of variantID out of stock.
func (a *Adjuster) Decrement(ctx context.Context, repo repository.InventoryRepository, variantID string, qty int) (Adjustment, error) {
	adj := Adjustment{VariantID: variantID, Requested: qty}

	before, after, err := repo.DecrementStock(ctx, variantID, qty)
	if err != nil {
		return adj, fmt.Errorf("catalog: decrementing stock of %s: %w", variantID, err)
	}
	adj.Before, adj.After = before, after

	if n := adj.Shortfall(); n > 0 {
		a.logger.Warn("insufficient stock, clamped at zero",
			slog.String("variantID", variantID),
			slog.Int("requested", qty),
			slog.Int("available", before),
			slog.Int("shortfall", n),
		)
	}
	return adj, nil
}
