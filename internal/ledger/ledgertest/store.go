// Package ledgertest provides an in-memory ledger store for tests. It implements the
// voucher repository, the balance store and the catalog and site lookups with the same
// ordering and atomicity rules as the Postgres implementation.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/balance"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
)

// ErrAborted is returned by WithTx when BeforeCommit vetoes the commit.
var ErrAborted = errors.New("ledgertest: transaction aborted")

// Store holds all state behind one mutex. Transactions work on a copy that replaces the
// live state only on commit.
type Store struct {
	mu    sync.Mutex
	state state

	// BeforeCommit runs after a transaction body succeeded. Returning an error aborts it.
	BeforeCommit func() error
	// Conflicts makes the next n transactions fail with shared.ErrConflict.
	Conflicts int
}

type state struct {
	counter        int64
	nextVoucherID  int64
	nextLineID     int64
	nextMovementID int64
	nextRefID      int64
	vouchers       map[int64]ledger.Voucher
	movements      []ledger.Movement
	items          map[int64]catalog.Item
	sites          map[int64]sites.Site
	audit          []shared.AuditLog
}

// New returns an empty store.
func New() *Store {
	return &Store{state: state{
		vouchers: make(map[int64]ledger.Voucher),
		items:    make(map[int64]catalog.Item),
		sites:    make(map[int64]sites.Site),
	}}
}

func (s state) clone() state {
	out := s
	out.vouchers = make(map[int64]ledger.Voucher, len(s.vouchers))
	for id, v := range s.vouchers {
		out.vouchers[id] = copyVoucher(v)
	}
	out.movements = append([]ledger.Movement(nil), s.movements...)
	out.items = make(map[int64]catalog.Item, len(s.items))
	for id, it := range s.items {
		out.items[id] = it
	}
	out.sites = make(map[int64]sites.Site, len(s.sites))
	for id, st := range s.sites {
		out.sites[id] = st
	}
	out.audit = append([]shared.AuditLog(nil), s.audit...)
	return out
}

func copyVoucher(v ledger.Voucher) ledger.Voucher {
	v.Lines = append([]ledger.Line(nil), v.Lines...)
	return v
}

// AddItem registers an active item.
func (s *Store) AddItem(code, name string) catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextRefID++
	now := time.Now().UTC()
	it := catalog.Item{ID: s.state.nextRefID, Code: code, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.state.items[it.ID] = it
	return it
}

// AddSite registers an active site.
func (s *Store) AddSite(code, name string, kind sites.Kind) sites.Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextRefID++
	now := time.Now().UTC()
	st := sites.Site{ID: s.state.nextRefID, Code: code, Name: name, Kind: kind, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.state.sites[st.ID] = st
	return st
}

// SetItemActive toggles an item's active flag.
func (s *Store) SetItemActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.state.items[id]
	it.IsActive = active
	s.state.items[id] = it
}

// SetSiteActive toggles a site's active flag.
func (s *Store) SetSiteActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.sites[id]
	st.IsActive = active
	s.state.sites[id] = st
}

// AuditLog returns the recorded audit entries.
func (s *Store) AuditLog() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.state.audit...)
}

// AllMovements returns every stored movement in posting order.
func (s *Store) AllMovements() []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]ledger.Movement(nil), s.state.movements...)
	sortMovements(out)
	return out
}

// DropMovement deletes one stored movement of a voucher, simulating a damaged ledger.
func (s *Store) DropMovement(voucherID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.state.movements {
		if m.VoucherID == voucherID {
			s.state.movements = append(s.state.movements[:i], s.state.movements[i+1:]...)
			return
		}
	}
}

// LookupItems implements ledger.ItemLookup.
func (s *Store) LookupItems(_ context.Context, ids []int64) (map[int64]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]catalog.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.state.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

// Lookup implements ledger.SiteLookup.
func (s *Store) Lookup(_ context.Context, ids []int64) (map[int64]sites.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]sites.Site, len(ids))
	for _, id := range ids {
		if st, ok := s.state.sites[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

// WithTx implements ledger.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Conflicts > 0 {
		s.Conflicts--
		return fmt.Errorf("%w: simulated serialization failure", shared.ErrConflict)
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: &work}); err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(); err != nil {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
	}
	s.state = work
	return nil
}

// Get implements ledger.Repository.
func (s *Store) Get(_ context.Context, id int64) (ledger.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.vouchers[id]
	if !ok {
		return ledger.Voucher{}, fmt.Errorf("voucher %d: %w", id, shared.ErrNotFound)
	}
	return copyVoucher(v), nil
}

// List implements ledger.Repository.
func (s *Store) List(_ context.Context, filter ledger.ListFilter) ([]ledger.Summary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []ledger.Summary
	for _, v := range s.state.vouchers {
		if filter.TypeID != nil && v.TypeID != *filter.TypeID {
			continue
		}
		if filter.SiteID != nil && !eq(v.SourceSiteID, *filter.SiteID) && !eq(v.DestinationSiteID, *filter.SiteID) {
			continue
		}
		if filter.From != nil && v.VoucherDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && filter.To.Before(v.VoucherDate) {
			continue
		}
		if filter.TransactionNumber != nil && v.TransactionNumber != *filter.TransactionNumber {
			continue
		}
		total := decimal.Zero
		for _, l := range v.Lines {
			total = total.Add(l.Quantity)
		}
		rows = append(rows, ledger.Summary{
			ID:                v.ID,
			TransactionNumber: v.TransactionNumber,
			VoucherDate:       v.VoucherDate,
			TypeID:            v.TypeID,
			SourceSiteID:      v.SourceSiteID,
			DestinationSiteID: v.DestinationSiteID,
			Remarks:           v.Remarks,
			LineCount:         len(v.Lines),
			TotalQuantity:     total,
			CreatedAt:         v.CreatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TransactionNumber > rows[j].TransactionNumber })
	page := shared.Slice(rows, filter.Page)
	return page.Items, page.TotalCount, nil
}

// Movements implements ledger.Repository.
func (s *Store) Movements(_ context.Context, voucherID int64) ([]ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Movement{}
	for _, m := range s.state.movements {
		if m.VoucherID == voucherID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostingStats implements ledger.Repository.
func (s *Store) PostingStats(_ context.Context) ([]ledger.PostingStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.PostingStat
	for _, v := range s.state.vouchers {
		st := ledger.PostingStat{VoucherID: v.ID, TransactionNumber: v.TransactionNumber, TypeID: v.TypeID, LineCount: len(v.Lines)}
		net := map[int64]decimal.Decimal{}
		for _, m := range s.state.movements {
			if m.VoucherID != v.ID {
				continue
			}
			st.MovementCount++
			net[m.ItemID] = net[m.ItemID].Add(m.Delta)
		}
		for _, n := range net {
			if !n.IsZero() {
				st.UnbalancedItems++
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionNumber < out[j].TransactionNumber })
	return out, nil
}

type tx struct {
	st *state
}

func (t *tx) NextTransactionNumber(context.Context) (int64, error) {
	t.st.counter++
	return t.st.counter, nil
}

func (t *tx) InsertVoucher(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	if err := t.checkRefs(v); err != nil {
		return ledger.Voucher{}, err
	}
	t.st.nextVoucherID++
	v.ID = t.st.nextVoucherID
	v.CreatedAt = time.Now().UTC()
	v.Lines = t.assignLines(v.Lines)
	t.st.vouchers[v.ID] = copyVoucher(v)
	return v, nil
}

func (t *tx) LockVoucher(_ context.Context, id int64) (ledger.Voucher, error) {
	v, ok := t.st.vouchers[id]
	if !ok {
		return ledger.Voucher{}, fmt.Errorf("voucher %d: %w", id, shared.ErrNotFound)
	}
	return copyVoucher(v), nil
}

func (t *tx) UpdateVoucher(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	if _, ok := t.st.vouchers[v.ID]; !ok {
		return ledger.Voucher{}, fmt.Errorf("voucher %d: %w", v.ID, shared.ErrNotFound)
	}
	if err := t.checkRefs(v); err != nil {
		return ledger.Voucher{}, err
	}
	v.Lines = t.assignLines(v.Lines)
	t.st.vouchers[v.ID] = copyVoucher(v)
	return v, nil
}

func (t *tx) DeleteMovements(_ context.Context, voucherID int64) error {
	kept := t.st.movements[:0:0]
	for _, m := range t.st.movements {
		if m.VoucherID != voucherID {
			kept = append(kept, m)
		}
	}
	t.st.movements = kept
	return nil
}

func (t *tx) InsertMovements(_ context.Context, movements []ledger.Movement) error {
	for _, m := range movements {
		if m.Delta.IsZero() {
			return fmt.Errorf("%w: zero movement", shared.ErrStorage)
		}
		t.st.nextMovementID++
		m.ID = t.st.nextMovementID
		t.st.movements = append(t.st.movements, m)
	}
	return nil
}

func (t *tx) DeleteVoucher(_ context.Context, id int64) error {
	if _, ok := t.st.vouchers[id]; !ok {
		return fmt.Errorf("voucher %d: %w", id, shared.ErrNotFound)
	}
	delete(t.st.vouchers, id)
	return t.DeleteMovements(context.Background(), id)
}

func (t *tx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	t.st.audit = append(t.st.audit, log)
	return nil
}

func (t *tx) checkRefs(v ledger.Voucher) error {
	for _, id := range []*int64{v.SourceSiteID, v.DestinationSiteID} {
		if id != nil {
			if _, ok := t.st.sites[*id]; !ok {
				return fmt.Errorf("site %d: %w", *id, shared.ErrNotFound)
			}
		}
	}
	for _, l := range v.Lines {
		if _, ok := t.st.items[l.ItemID]; !ok {
			return fmt.Errorf("item %d: %w", l.ItemID, shared.ErrNotFound)
		}
	}
	return nil
}

func (t *tx) assignLines(lines []ledger.Line) []ledger.Line {
	out := make([]ledger.Line, len(lines))
	for i, l := range lines {
		t.st.nextLineID++
		l.ID = t.st.nextLineID
		out[i] = l
	}
	return out
}

// BalanceAt implements balance.Store.
func (s *Store) BalanceAt(_ context.Context, itemID, siteID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.items[itemID]; !ok {
		return decimal.Zero, fmt.Errorf("item %d: %w", itemID, shared.ErrNotFound)
	}
	if _, ok := s.state.sites[siteID]; !ok {
		return decimal.Zero, fmt.Errorf("site %d: %w", siteID, shared.ErrNotFound)
	}
	return s.sumLocked(itemID, siteID), nil
}

func (s *Store) sumLocked(itemID, siteID int64) decimal.Decimal {
	total := decimal.Zero
	for _, m := range s.state.movements {
		if m.ItemID == itemID && m.SiteID == siteID {
			total = total.Add(m.Delta)
		}
	}
	return total
}

// Balances implements balance.Store.
func (s *Store) Balances(_ context.Context, filter balance.Filter) ([]balance.Row, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []balance.Row
	for _, it := range s.state.items {
		if !it.IsActive {
			continue
		}
		if filter.ItemName != "" && !shared.ContainsFold(it.Name, filter.ItemName) {
			continue
		}
		for _, st := range s.state.sites {
			if !st.IsActive {
				continue
			}
			if filter.SiteID != nil && st.ID != *filter.SiteID {
				continue
			}
			qty := s.sumLocked(it.ID, st.ID)
			if filter.SiteID == nil && qty.IsZero() {
				continue
			}
			rows = append(rows, row(it, st, qty))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ItemName != b.ItemName {
			return a.ItemName < b.ItemName
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.SiteName != b.SiteName {
			return a.SiteName < b.SiteName
		}
		return a.SiteID < b.SiteID
	})
	page := shared.Slice(rows, filter.Page)
	return page.Items, page.TotalCount, nil
}

// MovementHistory implements balance.Store.
func (s *Store) MovementHistory(_ context.Context, filter balance.HistoryFilter) ([]balance.HistoryRow, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scoped := make([]ledger.Movement, 0, len(s.state.movements))
	for _, m := range s.state.movements {
		if filter.ItemID != nil && m.ItemID != *filter.ItemID {
			continue
		}
		if filter.SiteID != nil && m.SiteID != *filter.SiteID {
			continue
		}
		scoped = append(scoped, m)
	}
	sortMovements(scoped)

	running := decimal.Zero
	var rows []balance.HistoryRow
	for _, m := range scoped {
		running = running.Add(m.Delta)
		if filter.TypeID != nil && m.TypeID != *filter.TypeID {
			continue
		}
		if filter.From != nil && m.VoucherDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && filter.To.Before(m.VoucherDate) {
			continue
		}
		v := s.state.vouchers[m.VoucherID]
		it := s.state.items[m.ItemID]
		st := s.state.sites[m.SiteID]
		r := balance.HistoryRow{
			MovementID:        m.ID,
			VoucherID:         m.VoucherID,
			TransactionNumber: m.TransactionNumber,
			VoucherDate:       m.VoucherDate,
			TypeID:            m.TypeID,
			Remarks:           v.Remarks,
			ItemID:            m.ItemID,
			ItemCode:          it.Code,
			ItemName:          it.Name,
			SiteID:            m.SiteID,
			SiteCode:          st.Code,
			SiteName:          st.Name,
		}
		r.StockIn, r.StockOut = balance.SplitDelta(m.Delta)
		if filter.ItemID != nil {
			rb := running
			r.RunningBalance = &rb
		}
		rows = append(rows, r)
	}
	page := shared.Slice(rows, filter.Page)
	return page.Items, page.TotalCount, nil
}

// ItemStockBySites implements balance.Store.
func (s *Store) ItemStockBySites(_ context.Context, itemID int64) ([]balance.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.state.items[itemID]
	out := []balance.Row{}
	for _, st := range s.state.sites {
		if qty := s.sumLocked(itemID, st.ID); !qty.IsZero() {
			out = append(out, row(it, st, qty))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessName(out[i].SiteName, out[j].SiteName, out[i].SiteID, out[j].SiteID) })
	return out, nil
}

// SiteStockBalances implements balance.Store.
func (s *Store) SiteStockBalances(_ context.Context, siteID int64) ([]balance.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.sites[siteID]
	out := []balance.Row{}
	for _, it := range s.state.items {
		if qty := s.sumLocked(it.ID, siteID); !qty.IsZero() {
			out = append(out, row(it, st, qty))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessName(out[i].ItemName, out[j].ItemName, out[i].ItemID, out[j].ItemID) })
	return out, nil
}

// Stats implements balance.Store.
func (s *Store) Stats(_ context.Context, since shared.Date) (balance.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st balance.DashboardStats
	for _, it := range s.state.items {
		if it.IsActive {
			st.ActiveItems++
		}
	}
	for _, site := range s.state.sites {
		if site.IsActive {
			st.ActiveSites++
		}
	}
	for _, v := range s.state.vouchers {
		if !v.VoucherDate.Before(since) {
			st.RecentVouchers++
		}
	}
	return st, nil
}

func row(it catalog.Item, st sites.Site, qty decimal.Decimal) balance.Row {
	return balance.Row{
		ItemID:    it.ID,
		ItemCode:  it.Code,
		ItemName:  it.Name,
		BrandName: it.BrandName,
		ModelName: it.ModelName,
		SiteID:    st.ID,
		SiteCode:  st.Code,
		SiteName:  st.Name,
		SiteKind:  st.Kind,
		Quantity:  qty,
	}
}

func sortMovements(ms []ledger.Movement) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.VoucherDate.Equal(b.VoucherDate.Time) {
			return a.VoucherDate.Before(b.VoucherDate)
		}
		if a.TransactionNumber != b.TransactionNumber {
			return a.TransactionNumber < b.TransactionNumber
		}
		return a.ID < b.ID
	})
}

func lessName(a, b string, aID, bID int64) bool {
	if c := strings.Compare(a, b); c != 0 {
		return c < 0
	}
	return aID < bID
}

func eq(p *int64, v int64) bool {
	return p != nil && *p == v
}
