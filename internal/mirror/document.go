package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/storefront/internal/model"
)

// DocumentType is the _type of mirrored orders.
const DocumentType = "order"

// itemKeySpace namespaces the deterministic _key of mirrored line items.
var itemKeySpace = uuid.MustParse("6f1f9a52-1c1e-4b0e-9a57-7d3c2e0f4a10")

// Document is an order as stored in the document store.
//
// Everything except ID, LastSyncedAt and SyncHash is derived from the
// primary order; SyncHash is a digest of exactly those derived fields.
type Document struct {
	ID   string `json:"_id,omitempty"`
	Type string `json:"_type"`

	OrderID            string           `json:"orderId"`
	OrderNumber        string           `json:"orderNumber"`
	Status             string           `json:"status"`
	Total              float64          `json:"total"`
	Currency           string           `json:"currency"`
	PaymentReferenceID string           `json:"paymentReferenceId,omitempty"`
	UserID             string           `json:"userId"`
	CustomerEmail      string           `json:"customerEmail"`
	CustomerName       string           `json:"customerName"`
	ShippingAddress    *DocumentAddress `json:"shippingAddress,omitempty"`
	Items              []DocumentItem   `json:"items"`
	CreatedAt          string           `json:"createdAt"`
	UpdatedAt          string           `json:"updatedAt"`

	SyncHash     string `json:"syncHash"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty"`
}

type DocumentAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type DocumentItem struct {
	Key         string  `json:"_key"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	ProductSlug string  `json:"productSlug"`
	VariantID   string  `json:"variantId,omitempty"`
	Size        string  `json:"size,omitempty"`
	Color       string  `json:"color,omitempty"`
	SKU         string  `json:"sku,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// DocumentRef identifies a stored order document.
type DocumentRef struct {
	ID          string `json:"_id"`
	OrderNumber string `json:"orderNumber"`
	SyncHash    string `json:"syncHash"`
}

// BuildDocument derives the mirror document of an order. ID and
// LastSyncedAt are left for the caller.
func BuildDocument(d *model.OrderDetail) *Document {
	doc := &Document{
		Type:        DocumentType,
		OrderID:     d.ID,
		OrderNumber: d.OrderNumber,
		Status:      string(d.Status),
		Total:       d.Total.InexactFloat64(),
		Currency:    d.Currency,
		UserID:      d.UserID,
		Items:       make([]DocumentItem, 0, len(d.Items)),
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if d.PaymentReferenceID != nil {
		doc.PaymentReferenceID = *d.PaymentReferenceID
	}
	if d.User != nil {
		doc.CustomerEmail = d.User.EmailOrEmpty()
		doc.CustomerName = d.User.Name
	}
	if s := d.Shipping(); s != nil {
		doc.ShippingAddress = &DocumentAddress{
			Street:     s.Street,
			City:       s.City,
			State:      s.State,
			PostalCode: s.PostalCode,
			Country:    s.Country,
		}
	}

	for _, it := range d.Items {
		di := DocumentItem{
			Key:         uuid.NewSHA1(itemKeySpace, []byte(it.ID)).String(),
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ProductSlug: it.ProductSlug,
			Quantity:    it.Quantity,
			Price:       it.Price.InexactFloat64(),
		}
		if v := it.Variant; v != nil {
			di.VariantID = v.ID
			di.Size = v.Size
			di.SKU = v.SKU
			if v.Color != nil {
				di.Color = *v.Color
			}
		}
		doc.Items = append(doc.Items, di)
	}

	doc.SyncHash = doc.hash()
	return doc
}

// hash digests the derived fields. ID, LastSyncedAt and SyncHash itself are
// cleared first so the digest is stable across documents and runs.
func (d *Document) hash() string {
	c := *d
	c.ID, c.LastSyncedAt, c.SyncHash = "", "", ""
	b, err := json.Marshal(c)
	if err != nil {
		// Document holds only strings, numbers and slices of them.
		panic("mirror: marshalling document: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
