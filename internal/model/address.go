package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Address is a shipping address owned by exactly one user.
// At most one address per user has IsDefault set.
type Address struct {
	ID         string    `json:"id"         db:"id"`
	UserID     string    `json:"userId"     db:"user_id"`
	Street     string    `json:"street"     db:"street"`
	City       string    `json:"city"       db:"city"`
	State      string    `json:"state"      db:"state"`
	PostalCode string    `json:"postalCode" db:"postal_code"`
	Country    string    `json:"country"    db:"country"`
	IsDefault  bool      `json:"isDefault"  db:"is_default"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt"  db:"updated_at"`
}

// Snapshot copies the postal fields of the address.
func (a *Address) Snapshot() *AddressSnapshot {
	return &AddressSnapshot{
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// AddressSnapshot is the shipping address as it was when the order was paid.
// Orders keep one even when no Address row was saved for the buyer.
//
// It is stored as a JSON text column, hence Value/Scan.
type AddressSnapshot struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// ParseAddress splits free text of the form
// "street, city, state, postal code, country" into a snapshot.
// It returns nil when fewer than five parts are present or any of the five
// is blank; parts past the fifth are ignored.
func ParseAddress(raw string) *AddressSnapshot {
	parts := strings.Split(raw, ",")
	if len(parts) < 5 {
		return nil
	}
	for i := range parts[:5] {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil
		}
	}
	return &AddressSnapshot{
		Street:     parts[0],
		City:       parts[1],
		State:      parts[2],
		PostalCode: parts[3],
		Country:    parts[4],
	}
}

// String renders the snapshot back to the comma-delimited form ParseAddress reads.
func (s AddressSnapshot) String() string {
	return strings.Join([]string{s.Street, s.City, s.State, s.PostalCode, s.Country}, ", ")
}

// Matches reports whether the address has the same postal fields as s,
// ignoring case and surrounding whitespace.
func (s AddressSnapshot) Matches(a *Address) bool {
	eq := func(x, y string) bool {
		return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y))
	}
	return eq(s.Street, a.Street) &&
		eq(s.City, a.City) &&
		eq(s.State, a.State) &&
		eq(s.PostalCode, a.PostalCode) &&
		eq(s.Country, a.Country)
}

// Value implements driver.Valuer.
func (s *AddressSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *AddressSnapshot) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*s = AddressSnapshot{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("model: cannot scan %T into AddressSnapshot", src)
	}
	return json.Unmarshal(b, s)
}
