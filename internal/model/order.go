package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
//
// Statuses move forward in practice, but any status may be set by an
// explicit update; no transition table is enforced.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is the aggregate root of the payment → order pipeline.
//
// PaymentReferenceID is the idempotency key: the storage layer enforces at
// most one order per payment reference.
type Order struct {
	ID                 string           `json:"id"                           db:"id"`
	OrderNumber        string           `json:"orderNumber"                  db:"order_number"`
	UserID             string           `json:"userId"                       db:"user_id"`
	Total              decimal.Decimal  `json:"total"                        db:"total"`
	Currency           string           `json:"currency"                     db:"currency"`
	Status             OrderStatus      `json:"status"                       db:"status"`
	ShippingAddressID  *string          `json:"shippingAddressId,omitempty"  db:"shipping_address_id"`
	ShippingSnapshot   *AddressSnapshot `json:"shippingSnapshot,omitempty"   db:"shipping_snapshot"`
	PaymentReferenceID *string          `json:"paymentReferenceId,omitempty" db:"payment_reference_id"`
	CreatedAt          time.Time        `json:"createdAt"                    db:"created_at"`
	UpdatedAt          time.Time        `json:"updatedAt"                    db:"updated_at"`
}

// OrderItem is one line of an order. Price is captured at order time and
// never follows later changes to Product.Price. Items are immutable.
type OrderItem struct {
	ID        string          `json:"id"                  db:"id"`
	OrderID   string          `json:"orderId"             db:"order_id"`
	ProductID string          `json:"productId"           db:"product_id"`
	VariantID *string         `json:"variantId,omitempty" db:"variant_id"`
	Quantity  int             `json:"quantity"            db:"quantity"`
	Price     decimal.Decimal `json:"price"               db:"price"`
	CreatedAt time.Time       `json:"createdAt"           db:"created_at"`
}

// OrderItemDetail is an item joined with the product and variant it references.
type OrderItemDetail struct {
	OrderItem
	ProductName string          `json:"productName"`
	ProductSlug string          `json:"productSlug"`
	Variant     *ProductVariant `json:"variant,omitempty"`
}

// OrderDetail is an order with everything needed to display or mirror it.
type OrderDetail struct {
	Order
	User            *User             `json:"user,omitempty"`
	Items           []OrderItemDetail `json:"items"`
	ShippingAddress *Address          `json:"shippingAddress,omitempty"`
}

// Shipping returns the address the order ships to: the linked Address row
// when there is one, otherwise the snapshot taken at payment time.
func (d *OrderDetail) Shipping() *AddressSnapshot {
	if d.ShippingAddress != nil {
		return d.ShippingAddress.Snapshot()
	}
	return d.ShippingSnapshot
}
