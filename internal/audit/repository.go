package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type pgRepository struct {
	db db.DBTX
}

// NewRepository returns a Repository over audit_logs.
func NewRepository(q db.DBTX) Repository {
	return &pgRepository{db: q}
}

func (r *pgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := whereClause(filters)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	return r.query(ctx, query, args...)
}

func (r *pgRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := whereClause(filters)
	query := `SELECT occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs` + where + ` ORDER BY occurred_at DESC, id DESC`
	return r.query(ctx, query, args...)
}

func (r *pgRepository) query(ctx context.Context, query string, args ...any) ([]TimelineRow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit timeline: %v", shared.ErrStorage, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		var meta []byte
		if err := row.Scan(&t.At, &t.ActorID, &t.Action, &t.Entity, &t.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		t.Meta = meta
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: audit timeline: %v", shared.ErrStorage, err)
	}
	return out, nil
}

func whereClause(f TimelineFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
