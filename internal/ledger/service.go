package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

const idempotencyModule = "ledger.voucher"

// Service coordinates voucher postings.
type Service struct {
	repo     Repository
	items    ItemLookup
	sites    SiteLookup
	cache    Invalidator
	idem     Idempotency
	recorder Recorder
	numbers  numbering.Formatter
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache       Invalidator
	Idempotency Idempotency
	Recorder    Recorder
	Formatter   numbering.Formatter
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, items ItemLookup, sites SiteLookup, cfg ServiceConfig) *Service {
	s := &Service{
		repo:     repo,
		items:    items,
		sites:    sites,
		cache:    cfg.Cache,
		idem:     cfg.Idempotency,
		recorder: cfg.Recorder,
		numbers:  cfg.Formatter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.numbers.Prefix == "" {
		s.numbers = numbering.NewFormatter("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create validates d, assigns the next transaction number and posts the voucher with its
// movements in one transaction. A repeated idempotency key returns the voucher the first
// request created.
func (s *Service) Create(ctx context.Context, d Draft, idemKey string) (Voucher, error) {
	typ, err := checkDraft(d)
	if err != nil {
		return Voucher{}, s.observe("create", err)
	}
	if idemKey != "" && s.idem != nil {
		if id, ok, err := s.idem.Lookup(ctx, idemKey); err != nil {
			return Voucher{}, s.observe("create", fmt.Errorf("%w: idempotency lookup: %v", shared.ErrStorage, err))
		} else if ok {
			return s.Get(ctx, id)
		}
		if err := s.idem.Reserve(ctx, idemKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Voucher{}, s.observe("create", fmt.Errorf("%w: request %s is still being processed", shared.ErrConflict, idemKey))
			}
			return Voucher{}, s.observe("create", fmt.Errorf("%w: idempotency reserve: %v", shared.ErrStorage, err))
		}
	}
	if _, err := s.resolve(ctx, typ, d, nil); err != nil {
		s.releaseKey(ctx, idemKey)
		return Voucher{}, s.observe("create", err)
	}

	var created Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.NextTransactionNumber(ctx)
		if err != nil {
			return err
		}
		v := fromDraft(d)
		v.TransactionNumber = n
		if d.ActorID != 0 {
			v.CreatedBy = &d.ActorID
		}
		v, err = tx.InsertVoucher(ctx, v)
		if err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, DeriveMovements(v)); err != nil {
			return err
		}
		created = v
		return tx.RecordAudit(ctx, auditEntry("create", d.ActorID, v))
	})
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return Voucher{}, s.observe("create", err)
	}
	if idemKey != "" && s.idem != nil {
		if err := s.idem.Complete(ctx, idemKey, created.ID); err != nil {
			s.logger.Warn("idempotency complete failed", slog.String("key", idemKey), slog.Any("error", err))
		}
	}
	s.afterWrite(ctx, "create", created)
	return s.Get(ctx, created.ID)
}

// Update replaces the date, type, sites, remarks and lines of a voucher and re-derives its
// movements. The transaction number and creation stamp are kept.
func (s *Service) Update(ctx context.Context, id int64, d Draft) (Voucher, error) {
	if id <= 0 {
		return Voucher{}, s.observe("update", fmt.Errorf("%w: invalid voucher id", shared.ErrValidation))
	}
	typ, err := checkDraft(d)
	if err != nil {
		return Voucher{}, s.observe("update", err)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Voucher{}, s.observe("update", err)
	}
	if _, err := s.resolve(ctx, typ, d, &current); err != nil {
		return Voucher{}, s.observe("update", err)
	}

	var updated Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockVoucher(ctx, id)
		if err != nil {
			return err
		}
		v := fromDraft(d)
		v.ID = locked.ID
		v.TransactionNumber = locked.TransactionNumber
		v.CreatedAt = locked.CreatedAt
		v.CreatedBy = locked.CreatedBy
		now := s.now().UTC()
		v.UpdatedAt = &now
		if d.ActorID != 0 {
			v.UpdatedBy = &d.ActorID
		}
		if err := tx.DeleteMovements(ctx, id); err != nil {
			return err
		}
		v, err = tx.UpdateVoucher(ctx, v)
		if err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, DeriveMovements(v)); err != nil {
			return err
		}
		updated = v
		return tx.RecordAudit(ctx, auditEntry("update", d.ActorID, v))
	})
	if err != nil {
		return Voucher{}, s.observe("update", err)
	}
	s.afterWrite(ctx, "update", updated)
	return s.Get(ctx, id)
}

// Delete removes a voucher, its lines and its movements.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return s.observe("delete", fmt.Errorf("%w: invalid voucher id", shared.ErrValidation))
	}
	var deleted Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.LockVoucher(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteMovements(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteVoucher(ctx, id); err != nil {
			return err
		}
		deleted = v
		return tx.RecordAudit(ctx, auditEntry("delete", actorID, v))
	})
	if err != nil {
		return s.observe("delete", err)
	}
	s.afterWrite(ctx, "delete", deleted)
	return nil
}

// Get returns a voucher with its lines and resolved display names.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	if id <= 0 {
		return Voucher{}, fmt.Errorf("%w: invalid voucher id", shared.ErrValidation)
	}
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return Voucher{}, err
	}
	if err := s.decorate(ctx, &v); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// List pages vouchers newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) (shared.Page[Summary], error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return shared.EmptyPage[Summary](), nil
	}
	if filter.Number != "" {
		n, err := s.numbers.Parse(filter.Number)
		if err != nil {
			return shared.Page[Summary]{}, err
		}
		filter.TransactionNumber = &n
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.Page[Summary]{}, err
	}
	names, err := s.siteNames(ctx, summarySites(rows))
	if err != nil {
		return shared.Page[Summary]{}, err
	}
	for i := range rows {
		rows[i].Number = s.numbers.Format(rows[i].TransactionNumber)
		rows[i].TypeName = typeName(rows[i].TypeID)
		rows[i].SourceSiteName = lookupName(names, rows[i].SourceSiteID)
		rows[i].DestinationSiteName = lookupName(names, rows[i].DestinationSiteID)
	}
	return shared.Page[Summary]{Items: rows, TotalCount: total}, nil
}

// Movements returns the movements currently posted for a voucher.
func (s *Service) Movements(ctx context.Context, voucherID int64) ([]Movement, error) {
	if _, err := s.repo.Get(ctx, voucherID); err != nil {
		return nil, err
	}
	return s.repo.Movements(ctx, voucherID)
}

// Discrepancy describes a voucher whose stored movements break the posting rule.
type Discrepancy struct {
	VoucherID         int64  `json:"voucher_id"`
	TransactionNumber int64  `json:"transaction_number"`
	Reason            string `json:"reason"`
}

// CheckIntegrity compares every voucher's stored movements with what its type should post.
func (s *Service) CheckIntegrity(ctx context.Context) ([]Discrepancy, error) {
	stats, err := s.repo.PostingStats(ctx)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	for _, st := range stats {
		typ, err := txntype.Lookup(st.TypeID)
		if err != nil {
			out = append(out, Discrepancy{VoucherID: st.VoucherID, TransactionNumber: st.TransactionNumber, Reason: err.Error()})
			continue
		}
		if want := expectedMovements(typ, st.LineCount); st.MovementCount != want {
			out = append(out, Discrepancy{
				VoucherID:         st.VoucherID,
				TransactionNumber: st.TransactionNumber,
				Reason:            fmt.Sprintf("%d movements for %d lines, want %d", st.MovementCount, st.LineCount, want),
			})
			continue
		}
		if typ.RequiresSource && typ.RequiresDestination && st.UnbalancedItems > 0 {
			out = append(out, Discrepancy{
				VoucherID:         st.VoucherID,
				TransactionNumber: st.TransactionNumber,
				Reason:            fmt.Sprintf("%d items do not net to zero on a transfer", st.UnbalancedItems),
			})
		}
	}
	return out, nil
}

func (s *Service) decorate(ctx context.Context, v *Voucher) error {
	v.Number = s.numbers.Format(v.TransactionNumber)
	v.TypeName = typeName(v.TypeID)

	ids := make([]int64, 0, len(v.Lines))
	for _, line := range v.Lines {
		ids = append(ids, line.ItemID)
	}
	items, err := s.items.LookupItems(ctx, ids)
	if err != nil {
		return err
	}
	for i := range v.Lines {
		if item, ok := items[v.Lines[i].ItemID]; ok {
			v.Lines[i].ItemCode = item.Code
			v.Lines[i].ItemName = item.Name
		}
	}
	names, err := s.siteNames(ctx, siteIDs(v.SourceSiteID, v.DestinationSiteID))
	if err != nil {
		return err
	}
	v.SourceSiteName = lookupName(names, v.SourceSiteID)
	v.DestinationSiteName = lookupName(names, v.DestinationSiteID)
	return nil
}

func (s *Service) siteNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	found, err := s.sites.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, site := range found {
		out[id] = site.Name
	}
	return out, nil
}

func (s *Service) afterWrite(ctx context.Context, op string, v Voucher) {
	s.observe(op, nil)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Error("balance cache invalidation failed", slog.String("op", op), slog.Any("error", err))
		}
	}
	s.logger.Info("voucher "+op+"d",
		slog.Int64("voucher_id", v.ID),
		slog.String("number", s.numbers.Format(v.TransactionNumber)),
		slog.Int("lines", len(v.Lines)),
	)
}

func (s *Service) observe(op string, err error) error {
	if s.recorder != nil {
		s.recorder.ObserveWrite(op, err)
	}
	return err
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
	}
}

func fromDraft(d Draft) Voucher {
	v := Voucher{
		VoucherDate:       d.VoucherDate,
		TypeID:            d.TypeID,
		SourceSiteID:      d.SourceSiteID,
		DestinationSiteID: d.DestinationSiteID,
		Remarks:           d.Remarks,
		Lines:             make([]Line, len(d.Lines)),
	}
	for i, line := range d.Lines {
		v.Lines[i] = Line{LineNo: i + 1, ItemID: line.ItemID, Quantity: line.Quantity}
	}
	return v
}

func auditEntry(op string, actorID int64, v Voucher) shared.AuditLog {
	total := decimal.Zero
	for _, line := range v.Lines {
		total = total.Add(line.Quantity)
	}
	return shared.AuditLog{
		ActorID:  actorID,
		Action:   "voucher:" + op,
		Entity:   "voucher",
		EntityID: strconv.FormatInt(v.ID, 10),
		Meta: map[string]any{
			"transaction_number": v.TransactionNumber,
			"type_id":            v.TypeID,
			"voucher_date":       v.VoucherDate.String(),
			"lines":              len(v.Lines),
			"total_quantity":     total.String(),
		},
	}
}

func typeName(id txntype.ID) string {
	t, err := txntype.Lookup(id)
	if err != nil {
		return ""
	}
	return t.Name
}

func siteIDs(ids ...*int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}

func summarySites(rows []Summary) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, r := range rows {
		for _, id := range siteIDs(r.SourceSiteID, r.DestinationSiteID) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func lookupName(names map[int64]string, id *int64) *string {
	if id == nil {
		return nil
	}
	name, ok := names[*id]
	if !ok {
		return nil
	}
	return &name
}
