// Package catalog matches paid cart lines to catalog products and keeps
// variant stock in step with recorded orders.
//
// RESOLUTION:
// A cart line can name its product in several ways: by slug (what the
// storefront links use), by id, by the id the CMS originally assigned, or
// only by display name. Resolver tries each identifier scheme in a fixed
// order. Each scheme is a Strategy, a small lookup function that either
// finds a product or reports a miss, so schemes can be tested alone and
// reordered without touching the loop.
//
// When every strategy misses, Resolver creates a placeholder product so the
// order can still be recorded. A paid order is never dropped because the
// catalog is incomplete.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// Ref identifies a product the way a cart line does.
type Ref struct {
	ItemRef      string          // slug or id sent by the storefront
	OriginalRef  string          // optional: CMS id
	VariantRef   string          // optional: variant id or SKU
	FallbackName string          // optional: display name
	Price        decimal.Decimal // price paid, used for placeholders
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Product   *model.Product
	VariantID *string // nil when no variant of Product matched VariantRef
	Strategy  string  // name of the strategy that matched, or "placeholder"
	Created   bool    // true when Product is a new placeholder
}

// Strategy is one way of finding a product. It returns (nil, nil) on a miss.
type Strategy struct {
	Name string
	Find func(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error)
}

// DefaultStrategies is the lookup order: slug, id, original id, name.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "slug", Find: BySlug},
		{Name: "id", Find: ByID},
		{Name: "originalId", Find: ByOriginalID},
		{Name: "name", Find: ByName},
	}
}

func BySlug(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error) {
	return miss(repo.GetProductBySlug(ctx, ref.ItemRef))
}

func ByID(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error) {
	return miss(repo.GetProductByID(ctx, ref.ItemRef))
}

func ByOriginalID(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error) {
	if ref.OriginalRef == "" {
		return nil, nil
	}
	return miss(repo.GetProductByID(ctx, ref.OriginalRef))
}

func ByName(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error) {
	if ref.FallbackName == "" {
		return nil, nil
	}
	return miss(repo.GetProductByName(ctx, ref.FallbackName))
}

// miss turns NotFound into (nil, nil).
func miss(p *model.Product, err error) (*model.Product, error) {
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Resolver finds or creates the product behind a cart line.
type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewResolver returns a Resolver using strategies in order. With no
// strategies it uses DefaultStrategies.
func NewResolver(logger *slog.Logger, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// Resolve runs the strategies against repo and falls back to a placeholder.
// It only fails when the store itself fails; an unknown product is not an error.
func (r *Resolver) Resolve(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*Resolution, error) {
	if ref.ItemRef == "" && ref.OriginalRef == "" {
		return nil, apperror.ValidationFailed("itemRef", "item reference is required")
	}

	for _, s := range r.strategies {
		p, err := s.Find(ctx, repo, ref)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s lookup for %q: %w", s.Name, ref.ItemRef, err)
		}
		if p == nil {
			continue
		}
		res := &Resolution{Product: p, Strategy: s.Name}
		if res.VariantID, err = r.matchVariant(ctx, repo, p, ref.VariantRef); err != nil {
			return nil, err
		}
		return res, nil
	}

	p, err := r.createPlaceholder(ctx, repo, ref)
	if err != nil {
		return nil, err
	}
	return &Resolution{Product: p, Strategy: "placeholder", Created: true}, nil
}

// matchVariant returns the id of the product variant whose id or SKU equals
// variantRef, or nil.
func (r *Resolver) matchVariant(ctx context.Context, repo repository.CatalogRepository, p *model.Product, variantRef string) (*string, error) {
	if variantRef == "" {
		return nil, nil
	}
	variants, err := repo.ListVariants(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing variants of %s: %w", p.ID, err)
	}
	for _, v := range variants {
		if v.ID == variantRef || (v.SKU != "" && v.SKU == variantRef) {
			id := v.ID
			return &id, nil
		}
	}
	r.logger.Warn("variant not found, recording item without variant",
		slog.String("productID", p.ID),
		slog.String("variantRef", variantRef),
	)
	return nil, nil
}

func (r *Resolver) createPlaceholder(ctx context.Context, repo repository.CatalogRepository, ref Ref) (*model.Product, error) {
	id := ref.OriginalRef
	if id == "" {
		id = ref.ItemRef
	}
	name := ref.FallbackName
	if name == "" {
		name = ref.ItemRef
	}
	slugSource := ref.ItemRef
	if slugSource == "" {
		slugSource = id
	}

	p := &model.Product{
		ID:          id,
		Name:        name,
		Price:       ref.Price,
		Slug:        Slugify(slugSource),
		InStock:     true,
		Placeholder: true,
	}
	err := repo.CreateProduct(ctx, p)
	if errors.Is(err, apperror.ErrConflict) {
		// The slug belongs to a product that none of the strategies matched;
		// keep it recognisable and make it unique.
		p.Slug = p.Slug + "-" + xid.New().String()
		err = repo.CreateProduct(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: creating placeholder product %q: %w", id, err)
	}

	r.logger.Warn("catalog resolution fell back to placeholder product",
		slog.String("productID", p.ID),
		slog.String("itemRef", ref.ItemRef),
		slog.String("slug", p.Slug),
	)
	return p, nil
}

// Slugify makes a URL slug from s, transliterating non-ASCII letters.
// An input with nothing sluggable becomes "product".
func Slugify(s string) string {
	if out := slug.Make(s); out != "" {
		return out
	}
	return "product"
}
