// Package txntype holds the fixed table of voucher transaction types and their
// directional capabilities.
package txntype

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
)

// ID identifies a transaction type. Values match the seeded transaction_types rows.
type ID int16

const (
	PurchaseInward  ID = 1
	OpeningStock    ID = 2
	MaterialUsage   ID = 3
	DamagedStock    ID = 4
	GodownToSite    ID = 5
	SiteToGodown    ID = 6
	SiteToSite      ID = 7
	StockAdjustment ID = 8
)

// Type describes how a voucher of this type moves stock.
type Type struct {
	ID                  ID         `json:"id"`
	Name                string     `json:"name"`
	RequiresSource      bool       `json:"requires_source"`
	RequiresDestination bool       `json:"requires_destination"`
	SourceKind          sites.Kind `json:"source_kind,omitempty"`
	DestinationKind     sites.Kind `json:"destination_kind,omitempty"`
}

// Adjusting reports whether the type takes exactly one site of the caller's choosing.
// The chosen side decides the sign of the posting.
func (t Type) Adjusting() bool {
	return !t.RequiresSource && !t.RequiresDestination
}

var table = []Type{
	{ID: PurchaseInward, Name: "Purchase Inward", RequiresDestination: true},
	{ID: OpeningStock, Name: "Opening Stock", RequiresDestination: true},
	{ID: MaterialUsage, Name: "Material Usage", RequiresSource: true},
	{ID: DamagedStock, Name: "Damaged Stock", RequiresSource: true},
	{ID: GodownToSite, Name: "Godown → Site", RequiresSource: true, RequiresDestination: true, SourceKind: sites.KindWarehouse, DestinationKind: sites.KindSite},
	{ID: SiteToGodown, Name: "Site → Godown", RequiresSource: true, RequiresDestination: true, SourceKind: sites.KindSite, DestinationKind: sites.KindWarehouse},
	{ID: SiteToSite, Name: "Site → Site", RequiresSource: true, RequiresDestination: true, SourceKind: sites.KindSite, DestinationKind: sites.KindSite},
	{ID: StockAdjustment, Name: "Stock Adjustment"},
}

// All returns every transaction type ordered by id.
func All() []Type {
	out := make([]Type, len(table))
	copy(out, table)
	return out
}

// Lookup resolves a transaction type by id.
func Lookup(id ID) (Type, error) {
	for _, t := range table {
		if t.ID == id {
			return t, nil
		}
	}
	return Type{}, fmt.Errorf("transaction type %d: %w", id, shared.ErrNotFound)
}

// Verify compares the in-process table against the seeded transaction_types rows and
// fails when they have drifted.
func Verify(ctx context.Context, q db.DBTX) error {
	rows, err := q.Query(ctx, `SELECT id, name, requires_source, requires_destination,
COALESCE(source_kind, ''), COALESCE(destination_kind, '') FROM transaction_types ORDER BY id`)
	if err != nil {
		return fmt.Errorf("%w: load transaction types: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	seen := 0
	for rows.Next() {
		var got Type
		var srcKind, dstKind string
		if err := rows.Scan(&got.ID, &got.Name, &got.RequiresSource, &got.RequiresDestination, &srcKind, &dstKind); err != nil {
			return fmt.Errorf("%w: scan transaction type: %v", shared.ErrStorage, err)
		}
		got.SourceKind, got.DestinationKind = sites.Kind(srcKind), sites.Kind(dstKind)
		want, err := Lookup(got.ID)
		if err != nil {
			return fmt.Errorf("unexpected transaction type row %d %q", got.ID, got.Name)
		}
		if want != got {
			return fmt.Errorf("transaction type %d drifted: have %+v, want %+v", got.ID, got, want)
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: load transaction types: %v", shared.ErrStorage, err)
	}
	if seen != len(table) {
		return fmt.Errorf("transaction_types has %d rows, want %d", seen, len(table))
	}
	return nil
}
