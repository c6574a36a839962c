package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sakif/storefront/internal/apperror"
)

// Metadata keys shared by checkout (writer) and the webhook (reader).
const (
	MetaUserID          = "user_id"
	MetaCustomerEmail   = "customer_email"
	MetaCustomerName    = "customer_name"
	MetaShippingAddress = "shipping_address"
	MetaSaveAddress     = "save_address"
	MetaItems           = "items"
	MetaSubtotal        = "subtotal"
	MetaItemCount       = "item_count"
)

// MaxMetadataValue is the provider's limit on a single metadata value.
// Longer values are truncated by the provider, which would corrupt the
// items JSON, so Encode refuses them instead.
const MaxMetadataValue = 500

// CheckoutItem is one cart line as carried through payment metadata.
type CheckoutItem struct {
	ID         string          `json:"id"`
	OriginalID string          `json:"originalId,omitempty"`
	VariantID  string          `json:"variantId,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Name       string          `json:"name,omitempty"`
}

// CheckoutContext is the cart and buyer state that checkout stores in the
// payment intent's metadata so the webhook can rebuild the order.
type CheckoutContext struct {
	UserID          string
	CustomerEmail   string
	CustomerName    string
	ShippingAddress string
	// SaveAddress asks the writer to keep the shipping address in the
	// buyer's address book. Nil means checkout did not ask, same as false.
	SaveAddress *bool
	Items       []CheckoutItem
}

// Subtotal is the sum of price × quantity over the items.
func (c *CheckoutContext) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Encode renders the context as provider metadata. Empty fields are omitted.
func (c *CheckoutContext) Encode() (map[string]string, error) {
	md := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	put(MetaUserID, c.UserID)
	put(MetaCustomerEmail, c.CustomerEmail)
	put(MetaCustomerName, c.CustomerName)
	put(MetaShippingAddress, c.ShippingAddress)
	if c.SaveAddress != nil {
		md[MetaSaveAddress] = strconv.FormatBool(*c.SaveAddress)
	}

	if len(c.Items) > 0 {
		b, err := json.Marshal(c.Items)
		if err != nil {
			return nil, fmt.Errorf("payment: encoding items: %w", err)
		}
		if len(b) > MaxMetadataValue {
			return nil, apperror.ValidationFailed("items",
				fmt.Sprintf("cart too large to carry through payment metadata (%d > %d bytes)", len(b), MaxMetadataValue))
		}
		md[MetaItems] = string(b)
		md[MetaItemCount] = strconv.Itoa(len(c.Items))
		md[MetaSubtotal] = c.Subtotal().StringFixed(2)
	}

	for k, v := range md {
		if len(v) > MaxMetadataValue {
			return nil, apperror.ValidationFailed(k, k+" exceeds metadata value limit")
		}
	}
	return md, nil
}

// DecodeCheckout rebuilds a CheckoutContext from metadata.
//
// Only the structure is checked: items that do not parse as a JSON array,
// trailing data after it, and a save_address that is not a boolean fail
// with apperror.ErrMalformedPayload. A missing items key yields no items.
// Lines are returned as they are; a bad line is the order writer's to
// reject on its own so the rest of a paid order is still recorded.
func DecodeCheckout(md map[string]string) (*CheckoutContext, error) {
	c := &CheckoutContext{
		UserID:          strings.TrimSpace(md[MetaUserID]),
		CustomerEmail:   strings.TrimSpace(md[MetaCustomerEmail]),
		CustomerName:    strings.TrimSpace(md[MetaCustomerName]),
		ShippingAddress: strings.TrimSpace(md[MetaShippingAddress]),
	}

	if raw, ok := md[MetaSaveAddress]; ok && raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperror.MalformedPayload(fmt.Sprintf("save_address %q is not a boolean", raw))
		}
		c.SaveAddress = &b
	}

	raw := strings.TrimSpace(md[MetaItems])
	if raw == "" {
		return c, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(&c.Items); err != nil {
		return nil, apperror.MalformedPayload("items metadata is not valid JSON: " + err.Error())
	}
	if dec.More() {
		return nil, apperror.MalformedPayload("items metadata has trailing data")
	}
	return c, nil
}
