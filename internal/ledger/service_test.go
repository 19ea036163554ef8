package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/balance"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

type fixture struct {
	store    *ledgertest.Store
	ledger   *ledger.Service
	balances *balance.Service
	godown   sites.Site
	siteA    sites.Site
	siteB    sites.Site
	cement   int64
	steel    int64
	recorder *countingRecorder
}

type countingRecorder struct {
	ok     map[string]int
	failed map[string]int
}

func (r *countingRecorder) ObserveWrite(op string, err error) {
	if err != nil {
		r.failed[op]++
		return
	}
	r.ok[op]++
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledgertest.New()
	rec := &countingRecorder{ok: map[string]int{}, failed: map[string]int{}}
	f := &fixture{
		store:    store,
		godown:   store.AddSite("GD", "Main Godown", sites.KindWarehouse),
		siteA:    store.AddSite("SA", "Site A", sites.KindSite),
		siteB:    store.AddSite("SB", "Site B", sites.KindSite),
		cement:   store.AddItem("CEM", "Cement").ID,
		steel:    store.AddItem("STL", "Steel").ID,
		recorder: rec,
	}
	f.ledger = ledger.NewService(store, store, store, ledger.ServiceConfig{Recorder: rec})
	f.balances = balance.NewService(store, balance.ServiceConfig{})
	return f
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(d int) shared.Date {
	return shared.NewDate(time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC))
}

func id(v int64) *int64 { return &v }

func draft(typ txntype.ID, date shared.Date, src, dst *int64, lines ...ledger.DraftLine) ledger.Draft {
	return ledger.Draft{VoucherDate: date, TypeID: typ, SourceSiteID: src, DestinationSiteID: dst, Lines: lines}
}

func line(item int64, q string) ledger.DraftLine {
	return ledger.DraftLine{ItemID: item, Quantity: qty(q)}
}

func (f *fixture) balanceAt(t *testing.T, item, site int64) string {
	t.Helper()
	b, err := f.balances.BalanceAt(context.Background(), item, site)
	require.NoError(t, err)
	return b.String()
}

func (f *fixture) post(t *testing.T, d ledger.Draft) ledger.Voucher {
	t.Helper()
	v, err := f.ledger.Create(context.Background(), d, "")
	require.NoError(t, err)
	return v
}

func TestOpeningTransferUsageDeleteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.post(t, draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "100")))
	require.Equal(t, "100", f.balanceAt(t, f.cement, f.godown.ID))

	transfer := f.post(t, draft(txntype.SiteToSite, day(2), &f.siteA.ID, &f.siteB.ID, line(f.cement, "30")))
	require.Equal(t, "-30", f.balanceAt(t, f.cement, f.siteA.ID))
	require.Equal(t, "30", f.balanceAt(t, f.cement, f.siteB.ID))

	f.post(t, draft(txntype.MaterialUsage, day(3), &f.siteB.ID, nil, line(f.cement, "10")))
	require.Equal(t, "20", f.balanceAt(t, f.cement, f.siteB.ID))

	require.NoError(t, f.ledger.Delete(ctx, transfer.ID, 0))
	require.Equal(t, "0", f.balanceAt(t, f.cement, f.siteA.ID))
	require.Equal(t, "-10", f.balanceAt(t, f.cement, f.siteB.ID))
	require.Equal(t, "100", f.balanceAt(t, f.cement, f.godown.ID))

	_, err := f.ledger.Get(ctx, transfer.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	movements, err := f.ledger.Movements(ctx, transfer.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, movements)
}

func TestTransferConservesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.GodownToSite, day(1), &f.godown.ID, &f.siteA.ID,
		line(f.cement, "12.5"), line(f.steel, "3"), line(f.cement, "7.25")))

	movements, err := f.ledger.Movements(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, movements, 6)

	net := map[int64]decimal.Decimal{}
	for _, m := range movements {
		require.Equal(t, v.TransactionNumber, m.TransactionNumber)
		require.False(t, m.Delta.IsZero())
		net[m.ItemID] = net[m.ItemID].Add(m.Delta)
	}
	for item, n := range net {
		require.True(t, n.IsZero(), "item %d nets to %s", item, n)
	}
	require.Equal(t, "-19.75", f.balanceAt(t, f.cement, f.godown.ID))
	require.Equal(t, "19.75", f.balanceAt(t, f.cement, f.siteA.ID))
}

func TestSingleSidedTypesPostOneMovementPerLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inward := f.post(t, draft(txntype.PurchaseInward, day(1), nil, &f.godown.ID, line(f.cement, "5"), line(f.steel, "2")))
	movements, err := f.ledger.Movements(ctx, inward.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		require.True(t, m.Delta.IsPositive())
		require.Equal(t, f.godown.ID, m.SiteID)
	}

	damaged := f.post(t, draft(txntype.DamagedStock, day(2), &f.godown.ID, nil, line(f.steel, "1")))
	movements, err = f.ledger.Movements(ctx, damaged.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, "-1", movements[0].Delta.String())
}

func TestStockAdjustmentSignFollowsChosenSide(t *testing.T) {
	f := newFixture(t)

	f.post(t, draft(txntype.StockAdjustment, day(1), nil, &f.siteA.ID, line(f.cement, "4")))
	f.post(t, draft(txntype.StockAdjustment, day(2), &f.siteA.ID, nil, line(f.cement, "1.5")))
	require.Equal(t, "2.5", f.balanceAt(t, f.cement, f.siteA.ID))

	_, err := f.ledger.Create(context.Background(), draft(txntype.StockAdjustment, day(3), &f.siteA.ID, &f.siteB.ID, line(f.cement, "1")), "")
	require.ErrorIs(t, err, ledger.ErrInvalidVoucher)
}

func TestDeleteAndRecreateYieldsHigherNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := draft(txntype.GodownToSite, day(5), &f.godown.ID, &f.siteB.ID, line(f.steel, "8"))
	first := f.post(t, d)
	before := []string{f.balanceAt(t, f.steel, f.godown.ID), f.balanceAt(t, f.steel, f.siteB.ID)}

	require.NoError(t, f.ledger.Delete(ctx, first.ID, 0))
	second := f.post(t, d)

	require.Greater(t, second.TransactionNumber, first.TransactionNumber)
	require.NotEqual(t, first.Number, second.Number)
	require.Equal(t, before, []string{f.balanceAt(t, f.steel, f.godown.ID), f.balanceAt(t, f.steel, f.siteB.ID)})
}

func TestBalanceMatchesMovementSumAfterEditCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.PurchaseInward, day(1), nil, &f.siteA.ID, line(f.cement, "10")))
	other := f.post(t, draft(txntype.SiteToSite, day(2), &f.siteA.ID, &f.siteB.ID, line(f.cement, "4")))

	_, err := f.ledger.Update(ctx, v.ID, draft(txntype.PurchaseInward, day(1), nil, &f.siteB.ID, line(f.cement, "6"), line(f.steel, "2")))
	require.NoError(t, err)
	_, err = f.ledger.Update(ctx, other.ID, draft(txntype.SiteToGodown, day(2), &f.siteB.ID, &f.godown.ID, line(f.cement, "1")))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Delete(ctx, v.ID, 0))
	f.post(t, draft(txntype.OpeningStock, day(1), nil, &f.siteA.ID, line(f.steel, "9")))

	sums := map[[2]int64]decimal.Decimal{}
	for _, m := range f.store.AllMovements() {
		k := [2]int64{m.ItemID, m.SiteID}
		sums[k] = sums[k].Add(m.Delta)
		_, err := f.ledger.Get(ctx, m.VoucherID)
		require.NoError(t, err, "movement %d points at a removed voucher", m.ID)
	}
	for _, item := range []int64{f.cement, f.steel} {
		for _, site := range []int64{f.godown.ID, f.siteA.ID, f.siteB.ID} {
			want := sums[[2]int64{item, site}]
			require.Equal(t, want.String(), f.balanceAt(t, item, site))
		}
	}
	require.Equal(t, "-1", f.balanceAt(t, f.cement, f.siteB.ID))
	require.Equal(t, "1", f.balanceAt(t, f.cement, f.godown.ID))

	issues, err := f.ledger.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestUpdateKeepsNumberAndCreationStamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.PurchaseInward, day(1), nil, &f.godown.ID, line(f.cement, "10")))
	remarks := "recounted"
	d := draft(txntype.PurchaseInward, day(4), nil, &f.godown.ID, line(f.cement, "12"))
	d.Remarks = &remarks
	d.ActorID = 7

	updated, err := f.ledger.Update(ctx, v.ID, d)
	require.NoError(t, err)
	require.Equal(t, v.TransactionNumber, updated.TransactionNumber)
	require.Equal(t, v.CreatedAt, updated.CreatedAt)
	require.Equal(t, day(4), updated.VoucherDate)
	require.NotNil(t, updated.UpdatedAt)
	require.EqualValues(t, 7, *updated.UpdatedBy)
	require.Equal(t, "recounted", *updated.Remarks)
	require.Len(t, updated.Lines, 1)
	require.Equal(t, "Cement", updated.Lines[0].ItemName)
	require.Equal(t, "12", f.balanceAt(t, f.cement, f.godown.ID))

	_, err = f.ledger.Update(ctx, 999, d)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAbortedUpdateLeavesOldPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.SiteToSite, day(1), &f.siteA.ID, &f.siteB.ID, line(f.cement, "5")))
	f.store.BeforeCommit = func() error { return errors.New("power cut") }

	_, err := f.ledger.Update(ctx, v.ID, draft(txntype.GodownToSite, day(1), &f.godown.ID, &f.siteB.ID, line(f.cement, "5")))
	require.ErrorIs(t, err, ledgertest.ErrAborted)
	require.Equal(t, "-5", f.balanceAt(t, f.cement, f.siteA.ID))
	require.Equal(t, "0", f.balanceAt(t, f.cement, f.godown.ID))
	require.Equal(t, "5", f.balanceAt(t, f.cement, f.siteB.ID))

	f.store.BeforeCommit = nil
	_, err = f.ledger.Update(ctx, v.ID, draft(txntype.GodownToSite, day(1), &f.godown.ID, &f.siteB.ID, line(f.cement, "5")))
	require.NoError(t, err)
	require.Equal(t, "0", f.balanceAt(t, f.cement, f.siteA.ID))
	require.Equal(t, "-5", f.balanceAt(t, f.cement, f.godown.ID))
	require.Equal(t, "5", f.balanceAt(t, f.cement, f.siteB.ID))
}

func TestAbortedCreateConsumesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.BeforeCommit = func() error { return errors.New("disk full") }
	_, err := f.ledger.Create(ctx, draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "1")), "")
	require.Error(t, err)
	require.Empty(t, f.store.AllMovements())

	f.store.BeforeCommit = nil
	v := f.post(t, draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "1")))
	require.EqualValues(t, 1, v.TransactionNumber)
	require.Equal(t, "TXN-000001", v.Number)
}

func TestConflictSurfacesAsConflict(t *testing.T) {
	f := newFixture(t)
	f.store.Conflicts = 1

	_, err := f.ledger.Create(context.Background(), draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "1")), "")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 1, f.recorder.failed["create"])

	f.post(t, draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "1")))
	require.Equal(t, 1, f.recorder.ok["create"])
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := int64(404)

	cases := []struct {
		name string
		d    ledger.Draft
		want error
	}{
		{"no lines", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID), ledger.ErrEmptyVoucher},
		{"zero quantity", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "0")), ledger.ErrInvalidVoucher},
		{"negative quantity", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "-2")), ledger.ErrInvalidVoucher},
		{"quantity beyond column range", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "100000000000000")), ledger.ErrInvalidVoucher},
		{"too many decimals", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "0.00001")), ledger.ErrInvalidVoucher},
		{"missing date", draft(txntype.OpeningStock, shared.Date{}, nil, &f.godown.ID, line(f.cement, "1")), ledger.ErrInvalidVoucher},
		{"same site", draft(txntype.SiteToSite, day(1), &f.siteA.ID, &f.siteA.ID, line(f.cement, "1")), ledger.ErrInvalidVoucher},
		{"source on inward", draft(txntype.PurchaseInward, day(1), &f.siteA.ID, &f.godown.ID, line(f.cement, "1")), ledger.ErrInvalidVoucher},
		{"missing destination", draft(txntype.GodownToSite, day(1), &f.godown.ID, nil, line(f.cement, "1")), ledger.ErrInvalidVoucher},
		{"wrong site kind", draft(txntype.GodownToSite, day(1), &f.siteA.ID, &f.siteB.ID, line(f.cement, "1")), ledger.ErrInvalidVoucher},
		{"unknown type", draft(99, day(1), nil, &f.godown.ID, line(f.cement, "1")), shared.ErrNotFound},
		{"unknown item", draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(missing, "1")), shared.ErrNotFound},
		{"unknown site", draft(txntype.OpeningStock, day(1), nil, &missing, line(f.cement, "1")), shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Create(ctx, tc.d, "")
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, f.store.AllMovements())
}

func TestLargestStorableQuantityPosts(t *testing.T) {
	f := newFixture(t)
	f.post(t, draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "99999999999999.9999")))
	require.Equal(t, "99999999999999.9999", f.balanceAt(t, f.cement, f.godown.ID))
}

func TestInactiveReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.PurchaseInward, day(1), nil, &f.siteA.ID, line(f.cement, "3")))
	f.store.SetItemActive(f.cement, false)
	f.store.SetSiteActive(f.siteA.ID, false)

	_, err := f.ledger.Create(ctx, draft(txntype.PurchaseInward, day(2), nil, &f.godown.ID, line(f.cement, "1")), "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.ledger.Create(ctx, draft(txntype.PurchaseInward, day(2), nil, &f.siteA.ID, line(f.steel, "1")), "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.ledger.Update(ctx, v.ID, draft(txntype.PurchaseInward, day(1), nil, &f.siteA.ID, line(f.cement, "4")))
	require.NoError(t, err)
	require.Equal(t, "4", f.balanceAt(t, f.cement, f.siteA.ID))
}

type memoryIdempotency struct {
	keys map[string]int64
}

func (m *memoryIdempotency) Lookup(_ context.Context, key string) (int64, bool, error) {
	id, ok := m.keys[key]
	return id, ok && id != 0, nil
}

func (m *memoryIdempotency) Reserve(_ context.Context, key, _ string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = 0
	return nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key string, id int64) error {
	m.keys[key] = id
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestIdempotentCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idem := &memoryIdempotency{keys: map[string]int64{}}
	svc := ledger.NewService(f.store, f.store, f.store, ledger.ServiceConfig{Idempotency: idem})

	d := draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "50"))
	first, err := svc.Create(ctx, d, "req-1")
	require.NoError(t, err)
	again, err := svc.Create(ctx, d, "req-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "50", f.balanceAt(t, f.cement, f.godown.ID))

	_, err = svc.Create(ctx, draft(txntype.OpeningStock, day(1), nil, &missingSite, line(f.cement, "1")), "req-2")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, held := idem.keys["req-2"]
	require.False(t, held)
}

var missingSite = int64(9999)

func TestListNewestFirstAndPaginationInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		f.post(t, draft(txntype.PurchaseInward, day(8-i), nil, &f.godown.ID, line(f.cement, "1")))
	}
	all, err := f.ledger.List(ctx, ledger.ListFilter{Page: shared.PageRequest{Limit: shared.AllRows}})
	require.NoError(t, err)
	require.Equal(t, 7, all.TotalCount)
	for i := 1; i < len(all.Items); i++ {
		require.Greater(t, all.Items[i-1].TransactionNumber, all.Items[i].TransactionNumber)
	}
	require.Equal(t, "Main Godown", *all.Items[0].DestinationSiteName)
	require.Equal(t, "Purchase Inward", all.Items[0].TypeName)

	for size := 1; size <= 4; size++ {
		var joined []int64
		for page := 1; ; page++ {
			p, err := f.ledger.List(ctx, ledger.ListFilter{Page: shared.PageRequest{Page: page, Limit: size}})
			require.NoError(t, err)
			require.Equal(t, 7, p.TotalCount)
			if len(p.Items) == 0 {
				break
			}
			for _, s := range p.Items {
				joined = append(joined, s.ID)
			}
		}
		var want []int64
		for _, s := range all.Items {
			want = append(want, s.ID)
		}
		require.Equal(t, want, joined, "page size %d", size)
	}

	from, to := day(5), day(2)
	empty, err := f.ledger.List(ctx, ledger.ListFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Zero(t, empty.TotalCount)
	require.Empty(t, empty.Items)
}

func TestListByVoucherNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var posted []ledger.Voucher
	for i := 1; i <= 3; i++ {
		posted = append(posted, f.post(t, draft(txntype.PurchaseInward, day(i), nil, &f.godown.ID, line(f.cement, "1"))))
	}
	second := posted[1]

	page, err := f.ledger.List(ctx, ledger.ListFilter{Number: second.Number})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	require.Equal(t, second.ID, page.Items[0].ID)
	require.Equal(t, second.Number, page.Items[0].Number)

	page, err = f.ledger.List(ctx, ledger.ListFilter{Number: "3"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	require.Equal(t, posted[2].ID, page.Items[0].ID)

	page, err = f.ledger.List(ctx, ledger.ListFilter{Number: "TXN-000999"})
	require.NoError(t, err)
	require.Zero(t, page.TotalCount)

	_, err = f.ledger.List(ctx, ledger.ListFilter{Number: "not-a-number"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := draft(txntype.OpeningStock, day(1), nil, &f.godown.ID, line(f.cement, "2"))
	d.ActorID = 3
	v := f.post(t, d)
	_, err := f.ledger.Update(ctx, v.ID, d)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Delete(ctx, v.ID, 3))

	logs := f.store.AuditLog()
	require.Len(t, logs, 3)
	require.Equal(t, "voucher:create", logs[0].Action)
	require.Equal(t, "voucher:update", logs[1].Action)
	require.Equal(t, "voucher:delete", logs[2].Action)
	require.Equal(t, v.TransactionNumber, logs[2].Meta["transaction_number"])
}

func TestIntegrityFindsDamagedPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.post(t, draft(txntype.SiteToSite, day(1), &f.siteA.ID, &f.siteB.ID, line(f.cement, "2")))
	f.store.DropMovement(v.ID)

	issues, err := f.ledger.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, v.ID, issues[0].VoucherID)
}
