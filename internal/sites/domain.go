// Package sites holds the site and warehouse registry referenced by ledger postings.
package sites

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Kind distinguishes stocking locations.
type Kind string

const (
	// KindSite is a project or consumption site.
	KindSite Kind = "Site"
	// KindWarehouse is a storage godown.
	KindWarehouse Kind = "Warehouse"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSite || k == KindWarehouse
}

// Site is a stocking location.
type Site struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   *string   `json:"address,omitempty"`
	Kind      Kind      `json:"kind"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input carries the writable site fields.
type Input struct {
	Code     string  `json:"code" validate:"required,max=32"`
	Name     string  `json:"name" validate:"required,max=120"`
	Address  *string `json:"address,omitempty" validate:"omitempty,max=255"`
	Kind     Kind    `json:"kind" validate:"required,oneof=Site Warehouse"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// ListFilter narrows site listings.
type ListFilter struct {
	Search     string
	Kind       Kind
	ActiveOnly bool
	Page       shared.PageRequest
}

// ErrInUse is returned when a referenced site is hard-deleted.
var ErrInUse = fmt.Errorf("%w: site is referenced by vouchers, deactivate it instead", shared.ErrConflict)

func notFound(id int64) error {
	return fmt.Errorf("site %d: %w", id, shared.ErrNotFound)
}
