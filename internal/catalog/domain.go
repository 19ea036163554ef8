// Package catalog stores items and their brand/model reference data.
package catalog

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Kind selects one of the two name-only reference tables.
type Kind string

const (
	// KindBrand addresses the brands table.
	KindBrand Kind = "brands"
	// KindModel addresses the models table.
	KindModel Kind = "models"
)

// Label is a brand or model: a named reference row.
type Label struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// LabelInput carries the writable brand/model fields.
type LabelInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// Item is a stock keeping unit.
type Item struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	BrandID   *int64    `json:"brand_id,omitempty"`
	BrandName *string   `json:"brand_name,omitempty"`
	ModelID   *int64    `json:"model_id,omitempty"`
	ModelName *string   `json:"model_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemInput carries the writable item fields.
type ItemInput struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	BrandID  *int64 `json:"brand_id,omitempty" validate:"omitempty,gt=0"`
	ModelID  *int64 `json:"model_id,omitempty" validate:"omitempty,gt=0"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Search     string
	BrandID    *int64
	ModelID    *int64
	ActiveOnly bool
	Page       shared.PageRequest
}

// ErrInUse is returned when a referenced row is hard-deleted.
var ErrInUse = fmt.Errorf("%w: record is referenced, deactivate it instead", shared.ErrConflict)

// ErrUnknownReference is returned when an item points at a missing brand or model.
var ErrUnknownReference = fmt.Errorf("%w: unknown brand or model", shared.ErrValidation)

func itemNotFound(id int64) error {
	return fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
}

func labelNotFound(kind Kind, id int64) error {
	return fmt.Errorf("%s %d: %w", kind.singular(), id, shared.ErrNotFound)
}

func (k Kind) singular() string {
	if k == KindModel {
		return "model"
	}
	return "brand"
}

func (k Kind) valid() bool {
	return k == KindBrand || k == KindModel
}
