// Package balance projects stock balances and movement history from ledger movements.
package balance

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// Row is the balance of one item at one site with display fields resolved.
type Row struct {
	ItemID    int64           `json:"item_id"`
	ItemCode  string          `json:"item_code"`
	ItemName  string          `json:"item_name"`
	BrandName *string         `json:"brand_name,omitempty"`
	ModelName *string         `json:"model_name,omitempty"`
	SiteID    int64           `json:"site_id"`
	SiteCode  string          `json:"site_code"`
	SiteName  string          `json:"site_name"`
	SiteKind  sites.Kind      `json:"site_kind"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Filter narrows the balance report.
type Filter struct {
	ItemName string
	SiteID   *int64
	Page     shared.PageRequest
}

// HistoryFilter narrows the movement report. A nil field does not filter.
type HistoryFilter struct {
	ItemID *int64
	SiteID *int64
	TypeID *txntype.ID
	From   *shared.Date
	To     *shared.Date
	Page   shared.PageRequest
}

// Empty reports whether the date range cannot match anything.
func (f HistoryFilter) Empty() bool {
	return f.From != nil && f.To != nil && f.To.Before(*f.From)
}

// HistoryRow is one movement with its voucher context. At most one of StockIn and
// StockOut is nonzero. RunningBalance is set only when the filter names an item.
type HistoryRow struct {
	MovementID        int64            `json:"movement_id"`
	VoucherID         int64            `json:"voucher_id"`
	TransactionNumber int64            `json:"transaction_number"`
	Number            string           `json:"number"`
	VoucherDate       shared.Date      `json:"voucher_date"`
	TypeID            txntype.ID       `json:"type_id"`
	TypeName          string           `json:"type_name"`
	Remarks           *string          `json:"remarks,omitempty"`
	ItemID            int64            `json:"item_id"`
	ItemCode          string           `json:"item_code"`
	ItemName          string           `json:"item_name"`
	SiteID            int64            `json:"site_id"`
	SiteCode          string           `json:"site_code"`
	SiteName          string           `json:"site_name"`
	StockIn           decimal.Decimal  `json:"stock_in"`
	StockOut          decimal.Decimal  `json:"stock_out"`
	RunningBalance    *decimal.Decimal `json:"running_balance"`
}

// SplitDelta turns a signed movement into stock_in and stock_out columns.
func SplitDelta(delta decimal.Decimal) (in, out decimal.Decimal) {
	if delta.IsNegative() {
		return decimal.Zero, delta.Neg()
	}
	return delta, decimal.Zero
}

// DashboardStats are the headline counters of the home screen.
type DashboardStats struct {
	ActiveItems     int `json:"active_items"`
	ActiveSites     int `json:"active_sites"`
	RecentVouchers  int `json:"recent_vouchers"`
	RecentSinceDays int `json:"recent_since_days"`
}
