package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// quantityScale matches NUMERIC(18,4) on voucher_lines.quantity.
const quantityScale = 4

// maxQuantity is the smallest value NUMERIC(18,4) cannot hold.
var maxQuantity = decimal.New(1, 18-quantityScale)

// checkDraft runs every check that needs no lookups.
func checkDraft(d Draft) (txntype.Type, error) {
	if err := shared.ValidateStruct(d); err != nil {
		return txntype.Type{}, err
	}
	if d.VoucherDate.IsZero() {
		return txntype.Type{}, fmt.Errorf("%w: voucher date is required", ErrInvalidVoucher)
	}
	typ, err := txntype.Lookup(d.TypeID)
	if err != nil {
		return txntype.Type{}, err
	}
	if len(d.Lines) == 0 {
		return txntype.Type{}, ErrEmptyVoucher
	}
	for i, line := range d.Lines {
		if !line.Quantity.IsPositive() {
			return txntype.Type{}, fmt.Errorf("%w: line %d quantity must be greater than zero", ErrInvalidVoucher, i+1)
		}
		if line.Quantity.GreaterThanOrEqual(maxQuantity) {
			return txntype.Type{}, fmt.Errorf("%w: line %d quantity must be less than %s", ErrInvalidVoucher, i+1, maxQuantity)
		}
		if !line.Quantity.Equal(line.Quantity.Round(quantityScale)) {
			return txntype.Type{}, fmt.Errorf("%w: line %d quantity has more than %d decimals", ErrInvalidVoucher, i+1, quantityScale)
		}
	}
	if err := typ.CheckPresence(d.SourceSiteID, d.DestinationSiteID); err != nil {
		return txntype.Type{}, err
	}
	return typ, nil
}

// ItemLookup resolves catalog items by id.
type ItemLookup interface {
	LookupItems(ctx context.Context, ids []int64) (map[int64]catalog.Item, error)
}

// SiteLookup resolves sites by id.
type SiteLookup interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]sites.Site, error)
}

type references struct {
	items map[int64]catalog.Item
	sites map[int64]sites.Site
}

// resolve checks that every referenced item and site exists. Inactive rows are refused unless
// the voucher being replaced already referenced them.
func (s *Service) resolve(ctx context.Context, typ txntype.Type, d Draft, existing *Voucher) (references, error) {
	itemIDs := make([]int64, 0, len(d.Lines))
	seen := make(map[int64]bool, len(d.Lines))
	for _, line := range d.Lines {
		if !seen[line.ItemID] {
			seen[line.ItemID] = true
			itemIDs = append(itemIDs, line.ItemID)
		}
	}
	items, err := s.items.LookupItems(ctx, itemIDs)
	if err != nil {
		return references{}, err
	}
	had := map[int64]bool{}
	if existing != nil {
		for _, line := range existing.Lines {
			had[line.ItemID] = true
		}
	}
	for _, id := range itemIDs {
		item, ok := items[id]
		if !ok {
			return references{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
		}
		if !item.IsActive && !had[id] {
			return references{}, fmt.Errorf("%w: item %s is inactive", ErrInvalidVoucher, item.Code)
		}
	}

	var siteIDs []int64
	for _, id := range []*int64{d.SourceSiteID, d.DestinationSiteID} {
		if id != nil {
			siteIDs = append(siteIDs, *id)
		}
	}
	found, err := s.sites.Lookup(ctx, siteIDs)
	if err != nil {
		return references{}, err
	}
	hadSite := map[int64]bool{}
	if existing != nil {
		for _, id := range []*int64{existing.SourceSiteID, existing.DestinationSiteID} {
			if id != nil {
				hadSite[*id] = true
			}
		}
	}
	var ep txntype.Endpoints
	for i, id := range []*int64{d.SourceSiteID, d.DestinationSiteID} {
		if id == nil {
			continue
		}
		site, ok := found[*id]
		if !ok {
			return references{}, fmt.Errorf("site %d: %w", *id, shared.ErrNotFound)
		}
		if !site.IsActive && !hadSite[*id] {
			return references{}, fmt.Errorf("%w: site %s is inactive", ErrInvalidVoucher, site.Code)
		}
		if i == 0 {
			ep.Source = &site
		} else {
			ep.Destination = &site
		}
	}
	if err := typ.CheckKinds(ep); err != nil {
		return references{}, err
	}
	return references{items: items, sites: found}, nil
}
