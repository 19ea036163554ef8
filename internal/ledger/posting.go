package ledger

import (
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// DeriveMovements applies the directional posting rule to every line of v: an outflow
// at the source site and an inflow at the destination site, whichever are present.
// Line ids must already be assigned.
func DeriveMovements(v Voucher) []Movement {
	out := make([]Movement, 0, 2*len(v.Lines))
	for _, line := range v.Lines {
		base := Movement{
			VoucherID:         v.ID,
			LineID:            line.ID,
			ItemID:            line.ItemID,
			TypeID:            v.TypeID,
			VoucherDate:       v.VoucherDate,
			TransactionNumber: v.TransactionNumber,
		}
		if v.SourceSiteID != nil {
			m := base
			m.SiteID = *v.SourceSiteID
			m.Delta = line.Quantity.Neg()
			out = append(out, m)
		}
		if v.DestinationSiteID != nil {
			m := base
			m.SiteID = *v.DestinationSiteID
			m.Delta = line.Quantity
			out = append(out, m)
		}
	}
	return out
}

// expectedMovements is the number of movements a voucher of type t with n lines posts.
func expectedMovements(t txntype.Type, n int) int {
	switch {
	case t.RequiresSource && t.RequiresDestination:
		return 2 * n
	default:
		return n
	}
}
