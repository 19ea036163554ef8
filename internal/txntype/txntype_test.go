package txntype

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
)

func ptr(v int64) *int64 { return &v }

func TestTableCapabilities(t *testing.T) {
	all := All()
	require.Len(t, all, 8)
	for i, typ := range all {
		require.Equal(t, ID(i+1), typ.ID)
		if typ.ID == StockAdjustment {
			require.True(t, typ.Adjusting())
			continue
		}
		require.True(t, typ.RequiresSource || typ.RequiresDestination, typ.Name)
	}

	all[0].Name = "mutated"
	again, err := Lookup(PurchaseInward)
	require.NoError(t, err)
	require.Equal(t, "Purchase Inward", again.Name)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup(99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckPresence(t *testing.T) {
	cases := []struct {
		name    string
		id      ID
		src     *int64
		dst     *int64
		wantErr bool
	}{
		{"inward with destination", PurchaseInward, nil, ptr(1), false},
		{"inward with source", PurchaseInward, ptr(1), ptr(2), true},
		{"inward without destination", OpeningStock, nil, nil, true},
		{"usage with source", MaterialUsage, ptr(1), nil, false},
		{"usage with destination", DamagedStock, ptr(1), ptr(2), true},
		{"transfer with both", SiteToSite, ptr(1), ptr(2), false},
		{"transfer same site", SiteToSite, ptr(3), ptr(3), true},
		{"transfer missing destination", GodownToSite, ptr(1), nil, true},
		{"adjustment inflow", StockAdjustment, nil, ptr(1), false},
		{"adjustment outflow", StockAdjustment, ptr(1), nil, false},
		{"adjustment with both", StockAdjustment, ptr(1), ptr(2), true},
		{"adjustment with neither", StockAdjustment, nil, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typ, err := Lookup(tc.id)
			require.NoError(t, err)
			err = typ.CheckPresence(tc.src, tc.dst)
			if tc.wantErr {
				require.ErrorIs(t, err, shared.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckKinds(t *testing.T) {
	godown := &sites.Site{ID: 1, Code: "GD", Kind: sites.KindWarehouse}
	tower := &sites.Site{ID: 2, Code: "TW", Kind: sites.KindSite}

	typ, err := Lookup(GodownToSite)
	require.NoError(t, err)
	require.NoError(t, typ.CheckKinds(Endpoints{Source: godown, Destination: tower}))
	require.ErrorIs(t, typ.CheckKinds(Endpoints{Source: tower, Destination: godown}), ErrDirection)

	inward, err := Lookup(PurchaseInward)
	require.NoError(t, err)
	require.NoError(t, inward.CheckKinds(Endpoints{Destination: tower}))
	require.NoError(t, inward.CheckKinds(Endpoints{Destination: godown}))
}
