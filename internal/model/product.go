package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. ID and Slug are each unique.
//
// Products normally originate in the CMS. The order pipeline creates
// placeholders (Placeholder = true) when a paid cart line cannot be matched,
// so that the order is still recorded.
type Product struct {
	ID          string          `json:"id"          db:"id"`
	Name        string          `json:"name"        db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price"       db:"price"`
	Images      StringList      `json:"images"      db:"images"`
	Slug        string          `json:"slug"        db:"slug"`
	InStock     bool            `json:"inStock"     db:"in_stock"`
	Placeholder bool            `json:"placeholder" db:"placeholder"`
	CreatedAt   time.Time       `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt"   db:"updated_at"`
}

// ProductVariant is a purchasable size/colour configuration with its own stock.
// Stock never goes below zero.
type ProductVariant struct {
	ID        string    `json:"id"        db:"id"`
	ProductID string    `json:"productId" db:"product_id"`
	Size      string    `json:"size"      db:"size"`
	Color     *string   `json:"color"     db:"color"`
	SKU       string    `json:"sku"       db:"sku"`
	Stock     int       `json:"stock"     db:"stock"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// StringList is a []string stored as a JSON array in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("model: cannot scan %T into StringList", src)
	}
}
