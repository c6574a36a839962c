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

var _ repository.OrderRepository = (*DB)(nil)

const orderColumns = `id, order_number, user_id, total, currency, status,
	shipping_address_id, shipping_snapshot, payment_reference_id, created_at, updated_at`

// CreateOrder inserts an order header.
//
// Two UNIQUE constraints can fire here and the caller treats them
// differently, so the Conflict carries the column name:
//   - payment_reference_id → the payment was already recorded; re-read it
//   - order_number         → generated number collided; pick another one
func (s *store) CreateOrder(ctx context.Context, o *model.Order) error {
	if !o.Status.Valid() {
		return apperror.ValidationFailed("status", "unknown order status "+string(o.Status))
	}
	now := time.Now().UTC()
	o.ID = xid.New().String()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO orders (id, order_number, user_id, total, currency, status,
			shipping_address_id, shipping_snapshot, payment_reference_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.OrderNumber,
		o.UserID,
		o.Total,
		o.Currency,
		o.Status,
		o.ShippingAddressID,
		o.ShippingSnapshot,
		o.PaymentReferenceID,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "order", "inserting order %s", o.OrderNumber)
	}
	return nil
}

func (s *store) CreateOrderItem(ctx context.Context, item *model.OrderItem) error {
	if item.Quantity <= 0 {
		return apperror.ValidationFailed("quantity", "quantity must be positive")
	}
	item.ID = xid.New().String()
	item.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrderID,
		item.ProductID,
		item.VariantID,
		item.Quantity,
		item.Price,
		item.CreatedAt,
	)
	if err != nil {
		return wrapf(err, "inserting item of order %s", item.OrderID)
	}
	return nil
}

func (s *store) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := sqlx.GetContext(ctx, s.q, &o,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "order", id)
	}
	return &o, nil
}

func (s *store) GetOrderByPaymentReference(ctx context.Context, ref string) (*model.Order, error) {
	var o model.Order
	err := sqlx.GetContext(ctx, s.q, &o,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference_id = ?`, ref)
	if err != nil {
		return nil, notFoundOr(err, "order", ref)
	}
	return &o, nil
}

// UpdateOrderStatus sets any valid status; transitions are not policed.
func (s *store) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, apperror.ValidationFailed("status", "unknown order status "+string(status))
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return nil, wrapf(err, "updating status of order %s", id)
	}
	if err := checkAffected(res, "order", id); err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, id)
}

func (s *store) CountOrders(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, `SELECT COUNT(*) FROM orders`); err != nil {
		return 0, wrapf(err, "counting orders")
	}
	return n, nil
}

// GetOrderDetail returns one order joined with its buyer, items and address.
func (s *store) GetOrderDetail(ctx context.Context, id string) (*model.OrderDetail, error) {
	o, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := s.loadDetails(ctx, []model.Order{*o})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (s *store) ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error) {
	orders := []model.Order{}
	err := sqlx.SelectContext(ctx, s.q, &orders,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, wrapf(err, "listing orders")
	}
	return s.loadDetails(ctx, orders)
}

func (s *store) ListUserOrderDetails(ctx context.Context, userID string, opts repository.ListOptions) ([]model.OrderDetail, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	orders := []model.Order{}
	err := sqlx.SelectContext(ctx, s.q, &orders,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, wrapf(err, "listing orders of user %s", userID)
	}
	return s.loadDetails(ctx, orders)
}

// itemRow is one order_items row joined with its product and (optional) variant.
type itemRow struct {
	model.OrderItem
	ProductName  string     `db:"product_name"`
	ProductSlug  string     `db:"product_slug"`
	VarID        *string    `db:"v_id"`
	VarProductID *string    `db:"v_product_id"`
	VarSize      *string    `db:"v_size"`
	VarColor     *string    `db:"v_color"`
	VarSKU       *string    `db:"v_sku"`
	VarStock     *int       `db:"v_stock"`
	VarCreatedAt *time.Time `db:"v_created_at"`
	VarUpdatedAt *time.Time `db:"v_updated_at"`
}

func (r *itemRow) detail() model.OrderItemDetail {
	d := model.OrderItemDetail{
		OrderItem:   r.OrderItem,
		ProductName: r.ProductName,
		ProductSlug: r.ProductSlug,
	}
	if r.VarID != nil {
		v := &model.ProductVariant{ID: *r.VarID, Color: r.VarColor}
		if r.VarProductID != nil {
			v.ProductID = *r.VarProductID
		}
		if r.VarSize != nil {
			v.Size = *r.VarSize
		}
		if r.VarSKU != nil {
			v.SKU = *r.VarSKU
		}
		if r.VarStock != nil {
			v.Stock = *r.VarStock
		}
		if r.VarCreatedAt != nil {
			v.CreatedAt = *r.VarCreatedAt
		}
		if r.VarUpdatedAt != nil {
			v.UpdatedAt = *r.VarUpdatedAt
		}
		d.Variant = v
	}
	return d
}

// loadDetails fetches buyers, items and addresses for a page of orders with
// one query per table rather than one per order.
func (s *store) loadDetails(ctx context.Context, orders []model.Order) ([]model.OrderDetail, error) {
	details := make([]model.OrderDetail, len(orders))
	if len(orders) == 0 {
		return details, nil
	}

	orderIDs := make([]string, 0, len(orders))
	userIDs := make([]string, 0, len(orders))
	addrIDs := []string{}
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
		userIDs = append(userIDs, o.UserID)
		if o.ShippingAddressID != nil {
			addrIDs = append(addrIDs, *o.ShippingAddressID)
		}
	}

	users := []model.User{}
	if err := s.selectIn(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE id IN (?)`, userIDs); err != nil {
		return nil, wrapf(err, "loading order buyers")
	}
	userByID := make(map[string]*model.User, len(users))
	for i := range users {
		userByID[users[i].ID] = &users[i]
	}

	addrByID := map[string]*model.Address{}
	if len(addrIDs) > 0 {
		addrs := []model.Address{}
		if err := s.selectIn(ctx, &addrs,
			`SELECT `+addressColumns+` FROM addresses WHERE id IN (?)`, addrIDs); err != nil {
			return nil, wrapf(err, "loading order addresses")
		}
		for i := range addrs {
			addrByID[addrs[i].ID] = &addrs[i]
		}
	}

	rows := []itemRow{}
	if err := s.selectIn(ctx, &rows,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.variant_id, oi.quantity, oi.price, oi.created_at,
			p.name AS product_name, p.slug AS product_slug,
			v.id AS v_id, v.product_id AS v_product_id, v.size AS v_size, v.color AS v_color,
			v.sku AS v_sku, v.stock AS v_stock, v.created_at AS v_created_at, v.updated_at AS v_updated_at
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 LEFT JOIN product_variants v ON v.id = oi.variant_id
		 WHERE oi.order_id IN (?)
		 ORDER BY oi.created_at, oi.id`, orderIDs); err != nil {
		return nil, wrapf(err, "loading order items")
	}
	itemsByOrder := make(map[string][]model.OrderItemDetail, len(orders))
	for i := range rows {
		itemsByOrder[rows[i].OrderID] = append(itemsByOrder[rows[i].OrderID], rows[i].detail())
	}

	for i, o := range orders {
		details[i] = model.OrderDetail{
			Order: o,
			User:  userByID[o.UserID],
			Items: itemsByOrder[o.ID],
		}
		if details[i].Items == nil {
			details[i].Items = []model.OrderItemDetail{}
		}
		if o.ShippingAddressID != nil {
			details[i].ShippingAddress = addrByID[*o.ShippingAddressID]
		}
	}
	return details, nil
}

// selectIn expands the single "IN (?)" of query over ids and selects into dest.
func (s *store) selectIn(ctx context.Context, dest any, query string, ids []string) error {
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(q), args...)
}
