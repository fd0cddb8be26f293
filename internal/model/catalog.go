package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups tours (e.g. "Beach", "Mountain").
type Category struct {
	ID   uint64 `json:"id"`   // categories.id
	Name string `json:"name"` // categories.name
}

// Tag is a free-form label attached to tours. Tags take part in the
// free-text tour search.
type Tag struct {
	ID   uint64 `json:"id"`   // tags.id
	Name string `json:"name"` // tags.name
}

// Tour is a sellable travel package belonging to a category. The
// RemainingQuantity column is the inventory that payments draw down; it
// is never allowed to go below zero.
//
// Fields:
//
//	ID                – primary key identifier.
//	CategoryID        – owning category.
//	CategoryName      – joined from categories for responses.
//	Name              – display name of the tour.
//	Description       – long description (may contain rich text).
//	Image             – public URL of the cover image.
//	RemainingQuantity – places still available for sale.
//	Active            – soft-visibility marker.
//	Tags              – tag names attached to the tour.
type Tour struct {
	ID                uint64    `json:"id"`                 // tours.id
	CategoryID        uint64    `json:"category_id"`        // tours.category_id
	CategoryName      string    `json:"category_name"`      // categories.name
	Name              string    `json:"name"`               // tours.name
	Description       string    `json:"description"`        // tours.description
	Image             *string   `json:"image"`              // tours.image (nullable)
	RemainingQuantity uint32    `json:"remaining_quantity"` // tours.remaining_quantity
	Active            bool      `json:"active"`             // tours.active
	Tags              []string  `json:"tags"`               // tour_tags -> tags.name
	CreatedAt         time.Time `json:"created_at"`         // tours.created_at
	UpdatedAt         time.Time `json:"updated_at"`         // tours.updated_at
}

// Ticket is a priced, bookable unit within a tour. Price is a fixed-point
// decimal so that booking totals never pass through binary floating point.
type Ticket struct {
	ID        uint64          `json:"id"`         // tickets.id
	TourID    uint64          `json:"tour_id"`    // tickets.tour_id
	Name      string          `json:"name"`       // tickets.name
	Price     decimal.Decimal `json:"price"`      // tickets.price DECIMAL(12,2)
	Active    bool            `json:"active"`     // tickets.active
	CreatedAt time.Time       `json:"created_at"` // tickets.created_at
	UpdatedAt time.Time       `json:"updated_at"` // tickets.updated_at
}
