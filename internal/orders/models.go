package orders

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the verified caller supplied by the gateway. The service
// trusts it as-is; token mechanics live outside this module.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// ItemRequest is one cart line in a create (or release) call.
type ItemRequest struct {
	BookID uuid.UUID `json:"book_id"`
	Qty    int       `json:"qty"`
}

// ReservedItem is an ItemRequest plus the unit price captured at the moment
// the stock was decremented.
type ReservedItem struct {
	BookID     uuid.UUID `json:"book_id"`
	Qty        int       `json:"qty"`
	PriceCents int       `json:"price_cents"`
}

type Address struct {
	Country    string `json:"country"`
	State      string `json:"state"`
	District   string `json:"district"`
	Street     string `json:"street"`
	PostalCode string `json:"postal_code"`
}

// OrderItem is immutable once the order is created. PriceCents is the
// snapshot taken at reservation time; later catalog price changes never
// touch it.
type OrderItem struct {
	BookID     uuid.UUID `json:"book_id"`
	Qty        int       `json:"qty"`
	PriceCents int       `json:"price_cents"`
}

type Order struct {
	ID              uuid.UUID   `json:"id"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	TotalCents      int         `json:"total_cents"`
	Status          Status      `json:"status"`
	ShippingAddress Address     `json:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
