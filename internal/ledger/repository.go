package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// PGRepository persists vouchers in PostgreSQL.
type PGRepository struct {
	pool    *pgxpool.Pool
	numbers numbering.Authority
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool, numbers numbering.Authority) *PGRepository {
	if numbers == nil {
		numbers = numbering.NewPGAuthority(numbering.CounterVoucher)
	}
	return &PGRepository{pool: pool, numbers: numbers}
}

type txRepo struct {
	tx      pgx.Tx
	numbers numbering.Authority
	audit   *shared.AuditLogger
}

// WithTx runs fn in a serializable transaction. A transaction that still conflicts after
// one replay is reported as shared.ErrConflict.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, numbers: r.numbers, audit: shared.NewAuditLogger(tx)})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrRetryable) {
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	}
	if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrStorage, err)
}

const voucherColumns = `v.id, v.transaction_number, v.voucher_date, v.type_id, v.source_site_id, v.destination_site_id,
v.remarks, v.created_at, v.created_by, v.updated_at, v.updated_by`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.TransactionNumber, &v.VoucherDate.Time, &v.TypeID, &v.SourceSiteID, &v.DestinationSiteID,
		&v.Remarks, &v.CreatedAt, &v.CreatedBy, &v.UpdatedAt, &v.UpdatedBy)
	return v, err
}

func loadVoucher(ctx context.Context, q db.DBTX, id int64, lock bool) (Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers v WHERE v.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	v, err := scanVoucher(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, notFound(id)
		}
		return Voucher{}, err
	}
	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return Voucher{}, err
	}
	v.Lines = lines
	return v, nil
}

func loadLines(ctx context.Context, q db.DBTX, voucherID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, item_id, quantity FROM voucher_lines WHERE voucher_id = $1 ORDER BY line_no`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ItemID, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Voucher, error) {
	v, err := loadVoucher(ctx, r.pool, id, false)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Voucher{}, fmt.Errorf("%w: get voucher: %v", shared.ErrStorage, err)
	}
	return v, err
}

// List uses a dynamic query due to optional filters.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Summary, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.TypeID != nil {
		args = append(args, *filter.TypeID)
		where += ` AND v.type_id = $` + strconv.Itoa(len(args))
	}
	if filter.SiteID != nil {
		args = append(args, *filter.SiteID)
		n := strconv.Itoa(len(args))
		where += ` AND (v.source_site_id = $` + n + ` OR v.destination_site_id = $` + n + `)`
	}
	if filter.From != nil {
		args = append(args, filter.From.Time)
		where += ` AND v.voucher_date >= $` + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, filter.To.Time)
		where += ` AND v.voucher_date <= $` + strconv.Itoa(len(args))
	}
	if filter.TransactionNumber != nil {
		args = append(args, *filter.TransactionNumber)
		where += ` AND v.transaction_number = $` + strconv.Itoa(len(args))
	}

	query := `SELECT v.id, v.transaction_number, v.voucher_date, v.type_id, v.source_site_id, v.destination_site_id,
v.remarks, v.created_at, COUNT(l.id), COALESCE(SUM(l.quantity), 0)
FROM vouchers v
LEFT JOIN voucher_lines l ON l.voucher_id = v.id` + where + `
GROUP BY v.id
ORDER BY v.transaction_number DESC`
	countArgs := args
	page := filter.Page.Normalize()
	if !page.All() {
		args = append(args, page.Limit, page.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}

	// Count and page share one snapshot so the total matches the rows returned.
	var total int
	out := []Summary{}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers v`+where, countArgs...).Scan(&total); err != nil {
			return fmt.Errorf("count vouchers: %w", err)
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list vouchers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var s Summary
			if err := rows.Scan(&s.ID, &s.TransactionNumber, &s.VoucherDate.Time, &s.TypeID, &s.SourceSiteID, &s.DestinationSiteID,
				&s.Remarks, &s.CreatedAt, &s.LineCount, &s.TotalQuantity); err != nil {
				return fmt.Errorf("scan voucher: %w", err)
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}
	return out, total, nil
}

func (r *PGRepository) Movements(ctx context.Context, voucherID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, voucher_id, voucher_line_id, item_id, site_id, type_id, delta, voucher_date, transaction_number
FROM movements WHERE voucher_id = $1 ORDER BY id`, voucherID)
	if err != nil {
		return nil, fmt.Errorf("%w: list movements: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.VoucherID, &m.LineID, &m.ItemID, &m.SiteID, &m.TypeID, &m.Delta, &m.VoucherDate.Time, &m.TransactionNumber); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %v", shared.ErrStorage, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PGRepository) PostingStats(ctx context.Context) ([]PostingStat, error) {
	rows, err := r.pool.Query(ctx, `SELECT v.id, v.transaction_number, v.type_id,
	(SELECT COUNT(*) FROM voucher_lines l WHERE l.voucher_id = v.id),
	(SELECT COUNT(*) FROM movements m WHERE m.voucher_id = v.id),
	(SELECT COUNT(*) FROM (
		SELECT m.item_id FROM movements m WHERE m.voucher_id = v.id GROUP BY m.item_id HAVING SUM(m.delta) <> 0
	) unbalanced)
FROM vouchers v
ORDER BY v.transaction_number`)
	if err != nil {
		return nil, fmt.Errorf("%w: posting stats: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []PostingStat
	for rows.Next() {
		var st PostingStat
		if err := rows.Scan(&st.VoucherID, &st.TransactionNumber, &st.TypeID, &st.LineCount, &st.MovementCount, &st.UnbalancedItems); err != nil {
			return nil, fmt.Errorf("%w: scan posting stats: %v", shared.ErrStorage, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (t *txRepo) NextTransactionNumber(ctx context.Context) (int64, error) {
	return t.numbers.Next(ctx, t.tx)
}

func (t *txRepo) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO vouchers (transaction_number, voucher_date, type_id, source_site_id, destination_site_id, remarks, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		v.TransactionNumber, v.VoucherDate.Time, v.TypeID, v.SourceSiteID, v.DestinationSiteID, v.Remarks, v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return Voucher{}, mapWriteErr("insert voucher", err)
	}
	lines, err := t.insertLines(ctx, v.ID, v.Lines)
	if err != nil {
		return Voucher{}, err
	}
	v.Lines = lines
	return v, nil
}

func (t *txRepo) insertLines(ctx context.Context, voucherID int64, lines []Line) ([]Line, error) {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO voucher_lines (voucher_id, line_no, item_id, quantity) VALUES ($1,$2,$3,$4) RETURNING id`,
			voucherID, l.LineNo, l.ItemID, l.Quantity)
	}
	results := t.tx.SendBatch(ctx, batch)
	out := make([]Line, len(lines))
	for i, l := range lines {
		if err := results.QueryRow().Scan(&l.ID); err != nil {
			_ = results.Close()
			return nil, mapWriteErr("insert voucher line", err)
		}
		out[i] = l
	}
	if err := results.Close(); err != nil {
		return nil, mapWriteErr("insert voucher lines", err)
	}
	return out, nil
}

func (t *txRepo) LockVoucher(ctx context.Context, id int64) (Voucher, error) {
	v, err := loadVoucher(ctx, t.tx, id, true)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		if db.IsRetryable(err) {
			return Voucher{}, err
		}
		return Voucher{}, fmt.Errorf("%w: lock voucher: %v", shared.ErrStorage, err)
	}
	return v, err
}

func (t *txRepo) UpdateVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE vouchers SET voucher_date=$2, type_id=$3, source_site_id=$4, destination_site_id=$5,
remarks=$6, updated_at=$7, updated_by=$8 WHERE id=$1`,
		v.ID, v.VoucherDate.Time, v.TypeID, v.SourceSiteID, v.DestinationSiteID, v.Remarks, v.UpdatedAt, v.UpdatedBy)
	if err != nil {
		return Voucher{}, mapWriteErr("update voucher", err)
	}
	if tag.RowsAffected() == 0 {
		return Voucher{}, notFound(v.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM voucher_lines WHERE voucher_id = $1`, v.ID); err != nil {
		return Voucher{}, mapWriteErr("delete voucher lines", err)
	}
	lines, err := t.insertLines(ctx, v.ID, v.Lines)
	if err != nil {
		return Voucher{}, err
	}
	v.Lines = lines
	return v, nil
}

func (t *txRepo) DeleteMovements(ctx context.Context, voucherID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM movements WHERE voucher_id = $1`, voucherID); err != nil {
		return mapWriteErr("delete movements", err)
	}
	return nil
}

var movementColumns = []string{"voucher_id", "voucher_line_id", "item_id", "site_id", "type_id", "delta", "voucher_date", "transaction_number"}

func (t *txRepo) InsertMovements(ctx context.Context, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"movements"}, movementColumns,
		pgx.CopyFromSlice(len(movements), func(i int) ([]any, error) {
			m := movements[i]
			return []any{m.VoucherID, m.LineID, m.ItemID, m.SiteID, m.TypeID, m.Delta, m.VoucherDate.Time, m.TransactionNumber}, nil
		}))
	if err != nil {
		return mapWriteErr("insert movements", err)
	}
	return nil
}

func (t *txRepo) DeleteVoucher(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM vouchers WHERE id = $1`, id)
	if err != nil {
		return mapWriteErr("delete voucher", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if err := t.audit.Record(ctx, log); err != nil {
		return mapWriteErr("record audit", err)
	}
	return nil
}

// mapWriteErr keeps retryable failures intact for the transaction runner and classifies the rest.
func mapWriteErr(op string, err error) error {
	switch {
	case db.IsRetryable(err):
		return err
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: referenced row is missing: %w", op, shared.ErrNotFound)
	default:
		return fmt.Errorf("%w: %s: %v", shared.ErrStorage, op, err)
	}
}
