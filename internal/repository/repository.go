// Package repository declares the storage contracts of the system of record.
//
// Services depend on these interfaces, never on the sqlite package, so the
// relational store can be replaced (or faked in tests) without touching
// business rules.
package repository

import (
	"context"

	"github.com/sakif/storefront/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// LinkExternalID sets the external auth id of a user that has none.
	LinkExternalID(ctx context.Context, userID, externalID string) error
}

type AddressRepository interface {
	CreateAddress(ctx context.Context, addr *model.Address) error
	GetAddress(ctx context.Context, id string) (*model.Address, error)
	ListAddresses(ctx context.Context, userID string) ([]model.Address, error)
	UpdateAddress(ctx context.Context, addr *model.Address) error
	DeleteAddress(ctx context.Context, id string) error
	// ClearDefaultAddresses unsets is_default on every address of the user.
	ClearDefaultAddresses(ctx context.Context, userID string) error
	// LatestAddress returns the most recently created address of the user.
	LatestAddress(ctx context.Context, userID string) (*model.Address, error)
}

type CatalogRepository interface {
	GetProductByID(ctx context.Context, id string) (*model.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*model.Product, error)
	GetProductByName(ctx context.Context, name string) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	CreateVariant(ctx context.Context, v *model.ProductVariant) error
	GetVariant(ctx context.Context, id string) (*model.ProductVariant, error)
	ListVariants(ctx context.Context, productID string) ([]model.ProductVariant, error)
}

type InventoryRepository interface {
	// DecrementStock lowers the variant's stock by qty, clamped at zero,
	// and returns the stock before and after the change.
	DecrementStock(ctx context.Context, variantID string, qty int) (before, after int, err error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	CreateOrderItem(ctx context.Context, item *model.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)
	GetOrderDetail(ctx context.Context, id string) (*model.OrderDetail, error)
	// ListOrderDetails returns every order, newest first, joined with its
	// buyer, items and shipping address.
	ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error)
	ListUserOrderDetails(ctx context.Context, userID string, opts ListOptions) ([]model.OrderDetail, error)
	CountOrders(ctx context.Context) (int, error)
}

// Store is every repository, backed by one connection or one transaction.
type Store interface {
	UserRepository
	AddressRepository
	CatalogRepository
	InventoryRepository
	OrderRepository
}

// Tx is a Store bound to an open transaction.
type Tx interface {
	Store
	// Savepoint runs fn inside a nested savepoint. If fn fails only the
	// work done since the savepoint is rolled back; the transaction stays usable.
	Savepoint(ctx context.Context, fn func() error) error
}

// TxStore is a Store that can open transactions.
type TxStore interface {
	Store
	// InTx runs fn in a transaction, committing when fn returns nil.
	// fn must only use the Tx it is given.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
