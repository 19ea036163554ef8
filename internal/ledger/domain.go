// Package ledger records stock vouchers and the signed movements they post.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

var (
	// ErrInvalidVoucher covers directionality, duplicate site and quantity violations.
	ErrInvalidVoucher = txntype.ErrDirection
	// ErrEmptyVoucher is returned for a voucher without lines.
	ErrEmptyVoucher = fmt.Errorf("%w: voucher has no lines", shared.ErrValidation)
)

// Voucher is a posted inventory transaction header with its lines.
type Voucher struct {
	ID                  int64       `json:"id"`
	TransactionNumber   int64       `json:"transaction_number"`
	Number              string      `json:"number"`
	VoucherDate         shared.Date `json:"voucher_date"`
	TypeID              txntype.ID  `json:"type_id"`
	TypeName            string      `json:"type_name"`
	SourceSiteID        *int64      `json:"source_site_id,omitempty"`
	SourceSiteName      *string     `json:"source_site_name,omitempty"`
	DestinationSiteID   *int64      `json:"destination_site_id,omitempty"`
	DestinationSiteName *string     `json:"destination_site_name,omitempty"`
	Remarks             *string     `json:"remarks,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	CreatedBy           *int64      `json:"created_by,omitempty"`
	UpdatedAt           *time.Time  `json:"updated_at,omitempty"`
	UpdatedBy           *int64      `json:"updated_by,omitempty"`
	Lines               []Line      `json:"lines,omitempty"`
}

// Line is one item quantity on a voucher. Quantity is always positive; the
// voucher type decides the direction.
type Line struct {
	ID       int64           `json:"id"`
	LineNo   int             `json:"line_no"`
	ItemID   int64           `json:"item_id"`
	ItemCode string          `json:"item_code,omitempty"`
	ItemName string          `json:"item_name,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Summary is a voucher row in listings.
type Summary struct {
	ID                  int64           `json:"id"`
	TransactionNumber   int64           `json:"transaction_number"`
	Number              string          `json:"number"`
	VoucherDate         shared.Date     `json:"voucher_date"`
	TypeID              txntype.ID      `json:"type_id"`
	TypeName            string          `json:"type_name"`
	SourceSiteID        *int64          `json:"source_site_id,omitempty"`
	SourceSiteName      *string         `json:"source_site_name,omitempty"`
	DestinationSiteID   *int64          `json:"destination_site_id,omitempty"`
	DestinationSiteName *string         `json:"destination_site_name,omitempty"`
	Remarks             *string         `json:"remarks,omitempty"`
	LineCount           int             `json:"line_count"`
	TotalQuantity       decimal.Decimal `json:"total_quantity"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Movement is a signed per item and site quantity derived from a voucher line.
type Movement struct {
	ID                int64           `json:"id"`
	VoucherID         int64           `json:"voucher_id"`
	LineID            int64           `json:"voucher_line_id"`
	ItemID            int64           `json:"item_id"`
	SiteID            int64           `json:"site_id"`
	TypeID            txntype.ID      `json:"type_id"`
	Delta             decimal.Decimal `json:"delta"`
	VoucherDate       shared.Date     `json:"voucher_date"`
	TransactionNumber int64           `json:"transaction_number"`
}

// Draft is the caller-supplied content of a voucher for create and update.
type Draft struct {
	VoucherDate       shared.Date `json:"voucher_date"`
	TypeID            txntype.ID  `json:"type_id" validate:"required,gt=0"`
	SourceSiteID      *int64      `json:"source_site_id,omitempty" validate:"omitempty,gt=0"`
	DestinationSiteID *int64      `json:"destination_site_id,omitempty" validate:"omitempty,gt=0"`
	Remarks           *string     `json:"remarks,omitempty" validate:"omitempty,max=1000"`
	Lines             []DraftLine `json:"lines" validate:"dive"`
	ActorID           int64       `json:"-"`
}

// DraftLine is one requested item quantity.
type DraftLine struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ListFilter narrows voucher listings. Results are ordered by transaction number, newest first.
type ListFilter struct {
	TypeID *txntype.ID
	SiteID *int64
	From   *shared.Date
	To     *shared.Date
	// Number selects one voucher by its display number (TXN-000042) or bare transaction number.
	Number            string
	TransactionNumber *int64
	Page              shared.PageRequest
}

func notFound(id int64) error {
	return fmt.Errorf("voucher %d: %w", id, shared.ErrNotFound)
}
