package balance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// RecentWindowDays is the look-back of the dashboard voucher counter.
const RecentWindowDays = 30

// Service answers balance queries. It is read-only; cached answers are never consulted
// by the ledger.
type Service struct {
	store   Store
	cache   *Cache
	numbers numbering.Formatter
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache     *Cache
	Formatter numbering.Formatter
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewService builds Service.
func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{store: store, cache: cfg.Cache, numbers: cfg.Formatter, logger: cfg.Logger, now: cfg.Now}
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

// BalanceAt returns the all-time sum of movements for one item at one site.
func (s *Service) BalanceAt(ctx context.Context, itemID, siteID int64) (decimal.Decimal, error) {
	if itemID <= 0 || siteID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: item and site are required", shared.ErrValidation)
	}
	var out decimal.Decimal
	err := s.cached(ctx, []string{"at", id(itemID), id(siteID)}, &out, func(ctx context.Context) (any, error) {
		return s.store.BalanceAt(ctx, itemID, siteID)
	})
	return out, err
}

// Balances pages the item × site balance report.
func (s *Service) Balances(ctx context.Context, filter Filter) (shared.Page[Row], error) {
	filter.ItemName = strings.TrimSpace(filter.ItemName)
	filter.Page = filter.Page.Normalize()
	parts := []string{"balances", shared.Fold(filter.ItemName), optID(filter.SiteID), pageKey(filter.Page)}
	var out shared.Page[Row]
	err := s.cached(ctx, parts, &out, func(ctx context.Context) (any, error) {
		rows, total, err := s.store.Balances(ctx, filter)
		if err != nil {
			return nil, err
		}
		return shared.Page[Row]{Items: rows, TotalCount: total}, nil
	})
	return out, err
}

// MovementHistory pages movements in posting order. A date range whose end precedes its
// start yields an empty page.
func (s *Service) MovementHistory(ctx context.Context, filter HistoryFilter) (shared.Page[HistoryRow], error) {
	if filter.Empty() {
		return shared.EmptyPage[HistoryRow](), nil
	}
	filter.Page = filter.Page.Normalize()
	var typeKey string
	if filter.TypeID != nil {
		typeKey = strconv.Itoa(int(*filter.TypeID))
	}
	parts := []string{"history", optID(filter.ItemID), optID(filter.SiteID), typeKey,
		optDate(filter.From), optDate(filter.To), pageKey(filter.Page)}
	var out shared.Page[HistoryRow]
	err := s.cached(ctx, parts, &out, func(ctx context.Context) (any, error) {
		rows, total, err := s.store.MovementHistory(ctx, filter)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Number = s.numbers.Format(rows[i].TransactionNumber)
			if t, err := txntype.Lookup(rows[i].TypeID); err == nil {
				rows[i].TypeName = t.Name
			}
		}
		return shared.Page[HistoryRow]{Items: rows, TotalCount: total}, nil
	})
	return out, err
}

// ItemStockBySites lists the sites holding a nonzero balance of the item.
func (s *Service) ItemStockBySites(ctx context.Context, itemID int64) ([]Row, error) {
	if itemID <= 0 {
		return nil, fmt.Errorf("%w: invalid item id", shared.ErrValidation)
	}
	var out []Row
	err := s.cached(ctx, []string{"item_sites", id(itemID)}, &out, func(ctx context.Context) (any, error) {
		return s.store.ItemStockBySites(ctx, itemID)
	})
	return out, err
}

// SiteStockBalances lists the items with a nonzero balance at the site.
func (s *Service) SiteStockBalances(ctx context.Context, siteID int64) ([]Row, error) {
	if siteID <= 0 {
		return nil, fmt.Errorf("%w: invalid site id", shared.ErrValidation)
	}
	var out []Row
	err := s.cached(ctx, []string{"site_items", id(siteID)}, &out, func(ctx context.Context) (any, error) {
		return s.store.SiteStockBalances(ctx, siteID)
	})
	return out, err
}

// Dashboard returns headline counters. It is not cached since item and site edits do not
// go through the ledger.
func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	since := shared.NewDate(s.now().AddDate(0, 0, -RecentWindowDays))
	st, err := s.store.Stats(ctx, since)
	if err != nil {
		return DashboardStats{}, err
	}
	st.RecentSinceDays = RecentWindowDays
	return st, nil
}

// Warm fills the cache for the unfiltered first balance page.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.Balances(ctx, Filter{})
	return err
}

func (s *Service) cached(ctx context.Context, parts []string, dest any, loader func(context.Context) (any, error)) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("balance cache unavailable", slog.Any("error", err))
		return decodeInto(ctx, loader, dest)
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func optID(v *int64) string {
	if v == nil {
		return "-"
	}
	return id(*v)
}

func optDate(d *shared.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func pageKey(p shared.PageRequest) string {
	return strconv.Itoa(p.Page) + "x" + strconv.Itoa(p.Limit)
}
