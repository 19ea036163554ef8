package balance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Store answers projection queries straight from the movements table.
type Store interface {
	BalanceAt(ctx context.Context, itemID, siteID int64) (decimal.Decimal, error)
	Balances(ctx context.Context, filter Filter) ([]Row, int, error)
	MovementHistory(ctx context.Context, filter HistoryFilter) ([]HistoryRow, int, error)
	ItemStockBySites(ctx context.Context, itemID int64) ([]Row, error)
	SiteStockBalances(ctx context.Context, siteID int64) ([]Row, error)
	Stats(ctx context.Context, since shared.Date) (DashboardStats, error)
}

type pgStore struct {
	db db.DBTX
}

// NewStore constructs a Postgres backed Store.
func NewStore(q db.DBTX) Store {
	return &pgStore{db: q}
}

func (s *pgStore) BalanceAt(ctx context.Context, itemID, siteID int64) (decimal.Decimal, error) {
	var itemOK, siteOK bool
	var qty decimal.Decimal
	err := s.db.QueryRow(ctx, `SELECT
	EXISTS (SELECT 1 FROM items WHERE id = $1),
	EXISTS (SELECT 1 FROM sites WHERE id = $2),
	COALESCE((SELECT SUM(delta) FROM movements WHERE item_id = $1 AND site_id = $2), 0)`, itemID, siteID).
		Scan(&itemOK, &siteOK, &qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance: %v", shared.ErrStorage, err)
	}
	switch {
	case !itemOK:
		return decimal.Zero, fmt.Errorf("item %d: %w", itemID, shared.ErrNotFound)
	case !siteOK:
		return decimal.Zero, fmt.Errorf("site %d: %w", siteID, shared.ErrNotFound)
	}
	return qty, nil
}

const balanceFrom = `
FROM items i
CROSS JOIN sites s
LEFT JOIN (
	SELECT item_id, site_id, SUM(delta) AS qty FROM movements GROUP BY item_id, site_id
) sums ON sums.item_id = i.id AND sums.site_id = s.id
LEFT JOIN brands b ON b.id = i.brand_id
LEFT JOIN models mo ON mo.id = i.model_id
WHERE i.is_active AND s.is_active`

// Balances uses a dynamic query due to optional filters. With a site filter every active item
// at that site is listed, zero balances included.
func (s *pgStore) Balances(ctx context.Context, filter Filter) ([]Row, int, error) {
	where := ""
	args := []any{}
	if filter.ItemName != "" {
		args = append(args, shared.ContainsPattern(filter.ItemName))
		where += ` AND i.name ILIKE $` + strconv.Itoa(len(args)) + ` ESCAPE '\'`
	}
	if filter.SiteID != nil {
		args = append(args, *filter.SiteID)
		where += ` AND s.id = $` + strconv.Itoa(len(args))
	} else {
		where += ` AND COALESCE(sums.qty, 0) <> 0`
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*)`+balanceFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count balances: %v", shared.ErrStorage, err)
	}
	query := `SELECT i.id, i.code, i.name, b.name, mo.name, s.id, s.code, s.name, s.kind, COALESCE(sums.qty, 0)` +
		balanceFrom + where + ` ORDER BY i.name, i.id, s.name, s.id`
	page := filter.Page.Normalize()
	if !page.All() {
		args = append(args, page.Limit, page.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *pgStore) ItemStockBySites(ctx context.Context, itemID int64) ([]Row, error) {
	return s.queryRows(ctx, `SELECT i.id, i.code, i.name, b.name, mo.name, st.id, st.code, st.name, st.kind, sums.qty
FROM (SELECT site_id, SUM(delta) AS qty FROM movements WHERE item_id = $1 GROUP BY site_id HAVING SUM(delta) <> 0) sums
JOIN items i ON i.id = $1
JOIN sites st ON st.id = sums.site_id
LEFT JOIN brands b ON b.id = i.brand_id
LEFT JOIN models mo ON mo.id = i.model_id
ORDER BY st.name, st.id`, itemID)
}

func (s *pgStore) SiteStockBalances(ctx context.Context, siteID int64) ([]Row, error) {
	return s.queryRows(ctx, `SELECT i.id, i.code, i.name, b.name, mo.name, st.id, st.code, st.name, st.kind, sums.qty
FROM (SELECT item_id, SUM(delta) AS qty FROM movements WHERE site_id = $1 GROUP BY item_id HAVING SUM(delta) <> 0) sums
JOIN items i ON i.id = sums.item_id
JOIN sites st ON st.id = $1
LEFT JOIN brands b ON b.id = i.brand_id
LEFT JOIN models mo ON mo.id = i.model_id
ORDER BY i.name, i.id`, siteID)
}

func (s *pgStore) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: balances: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	out := []Row{}
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ItemID, &r.ItemCode, &r.ItemName, &r.BrandName, &r.ModelName,
			&r.SiteID, &r.SiteCode, &r.SiteName, &r.SiteKind, &r.Quantity); err != nil {
			return nil, fmt.Errorf("%w: scan balance: %v", shared.ErrStorage, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: balances: %v", shared.ErrStorage, err)
	}
	return out, nil
}

// MovementHistory computes the running balance over the item's full movement set before
// applying type and date filters, so a bounded page still starts from the true balance.
func (s *pgStore) MovementHistory(ctx context.Context, filter HistoryFilter) ([]HistoryRow, int, error) {
	args := []any{}
	scope := ` WHERE 1=1`
	running := `NULL::NUMERIC`
	if filter.ItemID != nil {
		args = append(args, *filter.ItemID)
		scope += ` AND m.item_id = $` + strconv.Itoa(len(args))
		running = `SUM(m.delta) OVER (ORDER BY m.voucher_date, m.transaction_number, m.id ROWS UNBOUNDED PRECEDING)`
	}
	if filter.SiteID != nil {
		args = append(args, *filter.SiteID)
		scope += ` AND m.site_id = $` + strconv.Itoa(len(args))
	}
	where := ` WHERE 1=1`
	if filter.TypeID != nil {
		args = append(args, *filter.TypeID)
		where += ` AND h.type_id = $` + strconv.Itoa(len(args))
	}
	if filter.From != nil {
		args = append(args, filter.From.Time)
		where += ` AND h.voucher_date >= $` + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, filter.To.Time)
		where += ` AND h.voucher_date <= $` + strconv.Itoa(len(args))
	}
	base := `WITH h AS (
	SELECT m.id, m.voucher_id, m.item_id, m.site_id, m.type_id, m.delta, m.voucher_date, m.transaction_number,
		` + running + ` AS running
	FROM movements m` + scope + `
)`

	var total int
	if err := s.db.QueryRow(ctx, base+` SELECT COUNT(*) FROM h`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count movements: %v", shared.ErrStorage, err)
	}

	query := base + ` SELECT h.id, h.voucher_id, h.transaction_number, h.voucher_date, h.type_id, v.remarks,
	h.item_id, i.code, i.name, h.site_id, s.code, s.name, h.delta, h.running
FROM h
JOIN vouchers v ON v.id = h.voucher_id
JOIN items i ON i.id = h.item_id
JOIN sites s ON s.id = h.site_id` + where + `
ORDER BY h.voucher_date, h.transaction_number, h.id`
	page := filter.Page.Normalize()
	if !page.All() {
		args = append(args, page.Limit, page.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: movement history: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	out := []HistoryRow{}
	for rows.Next() {
		var r HistoryRow
		var delta decimal.Decimal
		var run decimal.NullDecimal
		if err := rows.Scan(&r.MovementID, &r.VoucherID, &r.TransactionNumber, &r.VoucherDate.Time, &r.TypeID, &r.Remarks,
			&r.ItemID, &r.ItemCode, &r.ItemName, &r.SiteID, &r.SiteCode, &r.SiteName, &delta, &run); err != nil {
			return nil, 0, fmt.Errorf("%w: scan movement: %v", shared.ErrStorage, err)
		}
		r.StockIn, r.StockOut = SplitDelta(delta)
		if run.Valid {
			v := run.Decimal
			r.RunningBalance = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: movement history: %v", shared.ErrStorage, err)
	}
	return out, total, nil
}

func (s *pgStore) Stats(ctx context.Context, since shared.Date) (DashboardStats, error) {
	var st DashboardStats
	err := s.db.QueryRow(ctx, `SELECT
	(SELECT COUNT(*) FROM items WHERE is_active),
	(SELECT COUNT(*) FROM sites WHERE is_active),
	(SELECT COUNT(*) FROM vouchers WHERE voucher_date >= $1)`, since.Time).
		Scan(&st.ActiveItems, &st.ActiveSites, &st.RecentVouchers)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("%w: dashboard stats: %v", shared.ErrStorage, err)
	}
	return st, nil
}
