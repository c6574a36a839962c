package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

var (
	_ repository.CatalogRepository   = (*DB)(nil)
	_ repository.InventoryRepository = (*DB)(nil)
)

const (
	productColumns = `id, name, description, price, images, slug, in_stock, placeholder, created_at, updated_at`
	variantColumns = `id, product_id, size, color, sku, stock, created_at, updated_at`
)

func (s *store) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	return s.getProduct(ctx, `WHERE id = ?`, id)
}

func (s *store) GetProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	return s.getProduct(ctx, `WHERE slug = ?`, slug)
}

// GetProductByName matches the name ignoring ASCII case. Names are not
// unique, so the oldest matching product wins.
func (s *store) GetProductByName(ctx context.Context, name string) (*model.Product, error) {
	return s.getProduct(ctx, `WHERE name = ? COLLATE NOCASE ORDER BY created_at, id LIMIT 1`, name)
}

func (s *store) getProduct(ctx context.Context, where, arg string) (*model.Product, error) {
	var p model.Product
	err := sqlx.GetContext(ctx, s.q, &p,
		`SELECT `+productColumns+` FROM products `+where, arg)
	if err != nil {
		return nil, notFoundOr(err, "product", arg)
	}
	return &p, nil
}

// CreateProduct inserts a product. Unlike the other tables the ID may be
// supplied by the caller: catalog entries keep the identifier the CMS (or
// the cart) knows them by. An empty ID gets a generated one.
func (s *store) CreateProduct(ctx context.Context, p *model.Product) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = xid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.Images,
		p.Slug,
		p.InStock,
		p.Placeholder,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "product", "inserting product %s", p.ID)
	}
	return nil
}

func (s *store) CreateVariant(ctx context.Context, v *model.ProductVariant) error {
	if v.Stock < 0 {
		return apperror.ValidationFailed("stock", "stock must not be negative")
	}
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = xid.New().String()
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO product_variants (`+variantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.ProductID,
		v.Size,
		v.Color,
		v.SKU,
		v.Stock,
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "variant", "inserting variant for product %s", v.ProductID)
	}
	return nil
}

func (s *store) GetVariant(ctx context.Context, id string) (*model.ProductVariant, error) {
	var v model.ProductVariant
	err := sqlx.GetContext(ctx, s.q, &v,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "variant", id)
	}
	return &v, nil
}

func (s *store) ListVariants(ctx context.Context, productID string) ([]model.ProductVariant, error) {
	variants := []model.ProductVariant{}
	err := sqlx.SelectContext(ctx, s.q, &variants,
		`SELECT `+variantColumns+` FROM product_variants
		 WHERE product_id = ?
		 ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, wrapf(err, "listing variants for product %s", productID)
	}
	return variants, nil
}

// DecrementStock lowers stock by qty without letting it go below zero.
//
// The read and the write happen on the same connection (the pool holds one),
// so no other writer can slip in between them. Whether a shortfall is an
// error is the caller's decision; this method only reports before/after.
func (s *store) DecrementStock(ctx context.Context, variantID string, qty int) (before, after int, err error) {
	if qty <= 0 {
		return 0, 0, apperror.ValidationFailed("quantity", "quantity must be positive")
	}

	err = sqlx.GetContext(ctx, s.q, &before,
		`SELECT stock FROM product_variants WHERE id = ?`, variantID)
	if err != nil {
		return 0, 0, notFoundOr(err, "variant", variantID)
	}

	after = max(before-qty, 0)

	_, err = s.q.ExecContext(ctx,
		`UPDATE product_variants SET stock = ?, updated_at = ? WHERE id = ?`,
		after, time.Now().UTC(), variantID)
	if err != nil {
		return 0, 0, wrapf(err, "decrementing stock of variant %s", variantID)
	}
	return before, after, nil
}
