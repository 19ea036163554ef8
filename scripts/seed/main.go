package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("wire services: %v", err)
	}
	defer svc.Close(logger)

	n, err := svc.Catalog.CountActiveItems(ctx)
	if err != nil {
		log.Fatalf("count items: %v", err)
	}
	if n > 0 {
		fmt.Println("catalog already populated, nothing to seed")
		return
	}

	fmt.Println("→ Seeding catalog...")
	items, err := seedCatalog(ctx, svc.Catalog)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	fmt.Println("→ Seeding sites...")
	godown, site, err := seedSites(ctx, svc.Sites)
	if err != nil {
		log.Fatalf("seed sites: %v", err)
	}
	fmt.Println("→ Posting vouchers...")
	if err := seedVouchers(ctx, svc.Ledger, items, godown, site); err != nil {
		log.Fatalf("seed vouchers: %v", err)
	}
	fmt.Fprintln(os.Stdout, "✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedCatalog(ctx context.Context, svc *catalog.Service) ([]int64, error) {
	brand, err := svc.CreateLabel(ctx, catalog.KindBrand, catalog.LabelInput{Name: "UltraTech"})
	if err != nil {
		return nil, err
	}
	model, err := svc.CreateLabel(ctx, catalog.KindModel, catalog.LabelInput{Name: "OPC 53"})
	if err != nil {
		return nil, err
	}
	inputs := []catalog.ItemInput{
		{Code: "CEM-50", Name: "Cement 50kg bag", BrandID: &brand.ID, ModelID: &model.ID},
		{Code: "STL-12", Name: "Steel rod 12mm"},
		{Code: "SND-M", Name: "River sand (cubic metre)"},
		{Code: "BRK-R", Name: "Red brick"},
	}
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		item, err := svc.CreateItem(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", in.Code, err)
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func seedSites(ctx context.Context, svc *sites.Service) (int64, int64, error) {
	godown, err := svc.Create(ctx, sites.Input{Code: "GD-MAIN", Name: "Main Godown", Kind: sites.KindWarehouse})
	if err != nil {
		return 0, 0, err
	}
	site, err := svc.Create(ctx, sites.Input{Code: "ST-NORTH", Name: "North Tower Site", Kind: sites.KindSite})
	if err != nil {
		return 0, 0, err
	}
	return godown.ID, site.ID, nil
}

func seedVouchers(ctx context.Context, svc *ledger.Service, items []int64, godown, site int64) error {
	today := time.Now().UTC()
	opening := ledger.Draft{
		VoucherDate:       shared.NewDate(today.AddDate(0, 0, -7)),
		TypeID:            txntype.OpeningStock,
		DestinationSiteID: &godown,
	}
	for i, id := range items {
		opening.Lines = append(opening.Lines, ledger.DraftLine{ItemID: id, Quantity: decimal.NewFromInt(int64(100 * (i + 1)))})
	}
	if _, err := svc.Create(ctx, opening, ""); err != nil {
		return fmt.Errorf("opening stock: %w", err)
	}

	transfer := ledger.Draft{
		VoucherDate:       shared.NewDate(today.AddDate(0, 0, -3)),
		TypeID:            txntype.GodownToSite,
		SourceSiteID:      &godown,
		DestinationSiteID: &site,
		Lines:             []ledger.DraftLine{{ItemID: items[0], Quantity: decimal.NewFromInt(40)}},
	}
	if _, err := svc.Create(ctx, transfer, ""); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	usage := ledger.Draft{
		VoucherDate:  shared.NewDate(today.AddDate(0, 0, -1)),
		TypeID:       txntype.MaterialUsage,
		SourceSiteID: &site,
		Lines:        []ledger.DraftLine{{ItemID: items[0], Quantity: decimal.RequireFromString("12.5")}},
	}
	if _, err := svc.Create(ctx, usage, ""); err != nil {
		return fmt.Errorf("usage: %w", err)
	}
	return nil
}
