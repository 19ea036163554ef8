package sites

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	rows       map[int64]Site
	referenced map[int64]bool
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[int64]Site), referenced: make(map[int64]bool)}
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Site, int, error) {
	var out []Site
	for _, s := range r.rows {
		if filter.ActiveOnly && !s.IsActive {
			continue
		}
		if filter.Kind != "" && s.Kind != filter.Kind {
			continue
		}
		if filter.Search != "" && !shared.ContainsFold(s.Name, filter.Search) && !shared.ContainsFold(s.Code, filter.Search) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	page := shared.Slice(out, filter.Page)
	return page.Items, page.TotalCount, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Site, error) {
	s, ok := r.rows[id]
	if !ok {
		return Site{}, notFound(id)
	}
	return s, nil
}

func (r *memoryRepo) GetMany(ctx context.Context, ids []int64) (map[int64]Site, error) {
	out := make(map[int64]Site)
	for _, id := range ids {
		if s, ok := r.rows[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (r *memoryRepo) Create(ctx context.Context, site Site) (Site, error) {
	for _, existing := range r.rows {
		if existing.Code == site.Code {
			return Site{}, fmt.Errorf("site code %q: %w", site.Code, shared.ErrDuplicate)
		}
	}
	r.nextID++
	site.ID = r.nextID
	r.rows[site.ID] = site
	return site, nil
}

func (r *memoryRepo) Update(ctx context.Context, site Site) error {
	if _, ok := r.rows[site.ID]; !ok {
		return notFound(site.ID)
	}
	r.rows[site.ID] = site
	return nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	s, ok := r.rows[id]
	if !ok {
		return notFound(id)
	}
	s.IsActive = active
	r.rows[id] = s
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.rows[id]; !ok {
		return notFound(id)
	}
	if r.referenced[id] {
		return ErrInUse
	}
	delete(r.rows, id)
	return nil
}

func (r *memoryRepo) CountActive(ctx context.Context) (int, error) {
	n := 0
	for _, s := range r.rows {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

func TestCreateNormalizesAndDefaultsActive(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	addr := "  "
	site, err := svc.Create(ctx, Input{Code: " gd-01 ", Name: " Main Godown ", Kind: KindWarehouse, Address: &addr})
	require.NoError(t, err)
	require.Equal(t, "GD-01", site.Code)
	require.Equal(t, "Main Godown", site.Name)
	require.True(t, site.IsActive)
	require.Nil(t, site.Address)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{Code: "S1", Name: "Tower", Kind: "Depot"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, Input{Code: "", Name: "Tower", Kind: KindSite})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDuplicateCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{Code: "S1", Name: "Tower A", Kind: KindSite})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Input{Code: "s1", Name: "Tower B", Kind: KindSite})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestUpdateKeepsActiveFlagWhenOmitted(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	site, err := svc.Create(ctx, Input{Code: "S1", Name: "Tower", Kind: KindSite})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, site.ID))

	updated, err := svc.Update(ctx, site.ID, Input{Code: "S1", Name: "Tower East", Kind: KindSite})
	require.NoError(t, err)
	require.Equal(t, "Tower East", updated.Name)
	require.False(t, updated.IsActive)

	require.NoError(t, svc.Activate(ctx, site.ID))
	count, err := svc.CountActive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteReferencedSiteRefused(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	site, err := svc.Create(ctx, Input{Code: "S1", Name: "Tower", Kind: KindSite})
	require.NoError(t, err)
	repo.referenced[site.ID] = true

	err = svc.Delete(ctx, site.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.referenced[site.ID] = false
	require.NoError(t, svc.Delete(ctx, site.ID))
	_, err = svc.Get(ctx, site.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersAndPages(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	for i, kind := range []Kind{KindSite, KindWarehouse, KindSite, KindSite} {
		_, err := svc.Create(ctx, Input{Code: fmt.Sprintf("L%d", i), Name: fmt.Sprintf("Location %d", i), Kind: kind})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListFilter{Kind: KindSite, Page: shared.PageRequest{Page: 1, Limit: 2}})
	require.NoError(t, err)
	require.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Items, 2)

	all, err := svc.List(ctx, ListFilter{Page: shared.PageRequest{Limit: shared.AllRows}})
	require.NoError(t, err)
	require.Len(t, all.Items, 4)
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func TestWritesInvalidateReadCache(t *testing.T) {
	repo := newMemoryRepo()
	cache := &countingInvalidator{}
	svc := NewService(repo, ServiceConfig{Cache: cache})
	ctx := context.Background()

	site, err := svc.Create(ctx, Input{Code: "TW", Name: "Tower", Kind: KindSite})
	require.NoError(t, err)
	_, err = svc.Update(ctx, site.ID, Input{Code: "TW", Name: "Tower B", Kind: KindSite})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, site.ID))
	require.NoError(t, svc.Activate(ctx, site.ID))
	require.Equal(t, 4, cache.calls)

	repo.referenced[site.ID] = true
	require.ErrorIs(t, svc.Delete(ctx, site.ID), shared.ErrConflict)
	require.ErrorIs(t, svc.Deactivate(ctx, 404), shared.ErrNotFound)
	require.Equal(t, 4, cache.calls)

	repo.referenced[site.ID] = false
	require.NoError(t, svc.Delete(ctx, site.ID))
	require.Equal(t, 5, cache.calls)
}
