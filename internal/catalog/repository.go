package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists catalog rows.
type Repository interface {
	ListLabels(ctx context.Context, kind Kind, activeOnly bool) ([]Label, error)
	GetLabel(ctx context.Context, kind Kind, id int64) (Label, error)
	CreateLabel(ctx context.Context, kind Kind, label Label) (Label, error)
	UpdateLabel(ctx context.Context, kind Kind, label Label) error
	DeleteLabel(ctx context.Context, kind Kind, id int64) error

	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItems(ctx context.Context, ids []int64) (map[int64]Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	SetItemActive(ctx context.Context, id int64, active bool) error
	DeleteItem(ctx context.Context, id int64) error
	CountActiveItems(ctx context.Context) (int, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres backed Repository. q may be a pool or a transaction.
func NewRepository(q db.DBTX) Repository {
	return &repository{db: q}
}

func (r *repository) ListLabels(ctx context.Context, kind Kind, activeOnly bool) ([]Label, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown catalog kind %q", shared.ErrValidation, kind)
	}
	query := `SELECT id, name, is_active, created_at FROM ` + string(kind)
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", shared.ErrStorage, kind, err)
	}
	defer rows.Close()
	out := []Label{}
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repository) GetLabel(ctx context.Context, kind Kind, id int64) (Label, error) {
	if !kind.valid() {
		return Label{}, fmt.Errorf("%w: unknown catalog kind %q", shared.ErrValidation, kind)
	}
	var l Label
	err := r.db.QueryRow(ctx, `SELECT id, name, is_active, created_at FROM `+string(kind)+` WHERE id=$1`, id).
		Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Label{}, labelNotFound(kind, id)
		}
		return Label{}, fmt.Errorf("%w: get %s: %v", shared.ErrStorage, kind.singular(), err)
	}
	return l, nil
}

func (r *repository) CreateLabel(ctx context.Context, kind Kind, label Label) (Label, error) {
	if !kind.valid() {
		return Label{}, fmt.Errorf("%w: unknown catalog kind %q", shared.ErrValidation, kind)
	}
	err := r.db.QueryRow(ctx, `INSERT INTO `+string(kind)+` (name, is_active) VALUES ($1,$2) RETURNING id, created_at`, label.Name, label.IsActive).
		Scan(&label.ID, &label.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Label{}, fmt.Errorf("%s %q: %w", kind.singular(), label.Name, shared.ErrDuplicate)
		}
		return Label{}, fmt.Errorf("%w: create %s: %v", shared.ErrStorage, kind.singular(), err)
	}
	return label, nil
}

func (r *repository) UpdateLabel(ctx context.Context, kind Kind, label Label) error {
	if !kind.valid() {
		return fmt.Errorf("%w: unknown catalog kind %q", shared.ErrValidation, kind)
	}
	tag, err := r.db.Exec(ctx, `UPDATE `+string(kind)+` SET name=$2, is_active=$3 WHERE id=$1`, label.ID, label.Name, label.IsActive)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("%s %q: %w", kind.singular(), label.Name, shared.ErrDuplicate)
		}
		return fmt.Errorf("%w: update %s: %v", shared.ErrStorage, kind.singular(), err)
	}
	if tag.RowsAffected() == 0 {
		return labelNotFound(kind, label.ID)
	}
	return nil
}

func (r *repository) DeleteLabel(ctx context.Context, kind Kind, id int64) error {
	if !kind.valid() {
		return fmt.Errorf("%w: unknown catalog kind %q", shared.ErrValidation, kind)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM `+string(kind)+` WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrInUse
		}
		return fmt.Errorf("%w: delete %s: %v", shared.ErrStorage, kind.singular(), err)
	}
	if tag.RowsAffected() == 0 {
		return labelNotFound(kind, id)
	}
	return nil
}

const itemSelect = `SELECT i.id, i.code, i.name, i.brand_id, b.name, i.model_id, m.name, i.is_active, i.created_at, i.updated_at
FROM items i
LEFT JOIN brands b ON b.id = i.brand_id
LEFT JOIN models m ON m.id = i.model_id`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.BrandID, &it.BrandName, &it.ModelID, &it.ModelName, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// ListItems uses a dynamic query due to optional filters.
func (r *repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, shared.ContainsPattern(filter.Search))
		n := strconv.Itoa(len(args))
		where += ` AND (i.name ILIKE $` + n + ` ESCAPE '\' OR i.code ILIKE $` + n + ` ESCAPE '\')`
	}
	if filter.BrandID != nil {
		args = append(args, *filter.BrandID)
		where += ` AND i.brand_id = $` + strconv.Itoa(len(args))
	}
	if filter.ModelID != nil {
		args = append(args, *filter.ModelID)
		where += ` AND i.model_id = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		where += ` AND i.is_active`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items i`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count items: %v", shared.ErrStorage, err)
	}

	query := itemSelect + where + ` ORDER BY i.name ASC, i.id ASC`
	page := filter.Page.Normalize()
	if !page.All() {
		args = append(args, page.Limit, page.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list items: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	out := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}

func (r *repository) GetItem(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, itemSelect+` WHERE i.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, itemNotFound(id)
		}
		return Item{}, fmt.Errorf("%w: get item: %v", shared.ErrStorage, err)
	}
	return it, nil
}

func (r *repository) GetItems(ctx context.Context, ids []int64) (map[int64]Item, error) {
	out := make(map[int64]Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, itemSelect+` WHERE i.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: get items: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

func (r *repository) CreateItem(ctx context.Context, item Item) (Item, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO items (code, name, brand_id, model_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id`, item.Code, item.Name, item.BrandID, item.ModelID, item.IsActive).Scan(&id)
	if err != nil {
		return Item{}, mapItemWriteErr(err, item)
	}
	return r.GetItem(ctx, id)
}

func (r *repository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.db.Exec(ctx, `UPDATE items SET code=$2, name=$3, brand_id=$4, model_id=$5, is_active=$6, updated_at=NOW() WHERE id=$1`,
		item.ID, item.Code, item.Name, item.BrandID, item.ModelID, item.IsActive)
	if err != nil {
		return mapItemWriteErr(err, item)
	}
	if tag.RowsAffected() == 0 {
		return itemNotFound(item.ID)
	}
	return nil
}

func (r *repository) SetItemActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE items SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return fmt.Errorf("%w: set item active: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return itemNotFound(id)
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM items WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrInUse
		}
		return fmt.Errorf("%w: delete item: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return itemNotFound(id)
	}
	return nil
}

func (r *repository) CountActiveItems(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count items: %v", shared.ErrStorage, err)
	}
	return n, nil
}

func mapItemWriteErr(err error, item Item) error {
	switch {
	case db.IsUniqueViolation(err, "items_code_key"):
		return fmt.Errorf("item code %q: %w", item.Code, shared.ErrDuplicate)
	case db.IsForeignKeyViolation(err):
		return ErrUnknownReference
	default:
		return fmt.Errorf("%w: write item: %v", shared.ErrStorage, err)
	}
}
