package sites

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists sites.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Site, int, error)
	Get(ctx context.Context, id int64) (Site, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]Site, error)
	Create(ctx context.Context, site Site) (Site, error)
	Update(ctx context.Context, site Site) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	CountActive(ctx context.Context) (int, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres backed Repository. q may be a pool or a transaction.
func NewRepository(q db.DBTX) Repository {
	return &repository{db: q}
}

const siteColumns = `id, code, name, address, kind, is_active, created_at, updated_at`

func scanSite(row pgx.Row) (Site, error) {
	var s Site
	var kind string
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &kind, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Site{}, err
	}
	s.Kind = Kind(kind)
	return s, nil
}

// List uses a dynamic query due to optional filters.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]Site, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, shared.ContainsPattern(filter.Search))
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` ESCAPE '\' OR code ILIKE $` + n + ` ESCAPE '\')`
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		where += ` AND is_active`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sites`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count sites: %v", shared.ErrStorage, err)
	}

	query := `SELECT ` + siteColumns + ` FROM sites` + where + ` ORDER BY name ASC, id ASC`
	page := filter.Page.Normalize()
	if !page.All() {
		args = append(args, page.Limit, page.Offset())
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list sites: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	out := []Site{}
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Site, error) {
	s, err := scanSite(r.db.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, notFound(id)
		}
		return Site{}, fmt.Errorf("%w: get site: %v", shared.ErrStorage, err)
	}
	return s, nil
}

func (r *repository) GetMany(ctx context.Context, ids []int64) (map[int64]Site, error) {
	out := make(map[int64]Site, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: get sites: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, site Site) (Site, error) {
	created, err := scanSite(r.db.QueryRow(ctx, `INSERT INTO sites (code, name, address, kind, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING `+siteColumns, site.Code, site.Name, site.Address, string(site.Kind), site.IsActive))
	if err != nil {
		if db.IsUniqueViolation(err, "sites_code_key") {
			return Site{}, fmt.Errorf("site code %q: %w", site.Code, shared.ErrDuplicate)
		}
		return Site{}, fmt.Errorf("%w: create site: %v", shared.ErrStorage, err)
	}
	return created, nil
}

func (r *repository) Update(ctx context.Context, site Site) error {
	tag, err := r.db.Exec(ctx, `UPDATE sites SET code=$2, name=$3, address=$4, kind=$5, is_active=$6, updated_at=NOW() WHERE id=$1`,
		site.ID, site.Code, site.Name, site.Address, string(site.Kind), site.IsActive)
	if err != nil {
		if db.IsUniqueViolation(err, "sites_code_key") {
			return fmt.Errorf("site code %q: %w", site.Code, shared.ErrDuplicate)
		}
		return fmt.Errorf("%w: update site: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(site.ID)
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE sites SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return fmt.Errorf("%w: set site active: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sites WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrInUse
		}
		return fmt.Errorf("%w: delete site: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (r *repository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sites WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count sites: %v", shared.ErrStorage, err)
	}
	return n, nil
}
