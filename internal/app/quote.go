package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"flowpower-sync/internal/model"
	"flowpower-sync/internal/pricing"
	"flowpower-sync/internal/storage"
	"flowpower-sync/internal/twap"
)

// Quote fetches the current wholesale price and prints a one-off tariff
// breakdown without starting the long-running service.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	region := a.Config.Pricing.Region
	now := time.Now()

	var historyStore storage.HistoryStore
	if store != nil {
		historyStore = store
	}
	tracker := twap.New(region, twap.Options{
		WindowDays:   a.Config.TWAP.WindowDays,
		MinSamples:   a.Config.TWAP.MinSamples,
		MinSampleGap: a.Config.TWAP.MinSampleGap,
		SaveInterval: a.Config.TWAP.SaveInterval,
	}, historyStore, a.Logger)
	if err := tracker.Load(ctx, now); err != nil {
		a.Logger.Warn().Err(err).Msg("quoting without persisted TWAP history")
	}

	source := a.newSource()
	prices, err := source.CurrentPrices(ctx)
	if err != nil {
		return err
	}
	current, ok := prices[region]
	if !ok {
		return errors.New("no current wholesale price available for " + region)
	}

	var twapValue *float64
	if v, found := tracker.TWAP(); found {
		twapValue = &v
	}

	params := pricing.Params{
		BaseRate:        a.Config.Pricing.BaseRate,
		PEAEnabled:      a.Config.Pricing.PEAEnabled,
		PEACustomSet:    a.Config.Pricing.PEACustomEnabled,
		PEACustomValue:  a.Config.Pricing.PEACustomValue,
		NetworkTariff:   a.Config.Pricing.NetworkTariff,
		NetworkFlatRate: a.Config.Pricing.NetworkFlatRate,
		OtherFees:       a.Config.Pricing.OtherFees,
		IncludeGST:      a.Config.Pricing.IncludeGST,
	}
	breakdown := pricing.ImportPrice(current.PriceCents, params, twapValue)
	export := pricing.ExportPrice(region, now, model.RegionLocation(region))

	if opts.JSON {
		return printQuoteJSON(region, current, breakdown, export)
	}
	return printQuoteTable(region, current, breakdown, export)
}

func printQuoteJSON(region string, current model.WholesalePrice, breakdown pricing.Breakdown, export pricing.ExportPriceInfo) error {
	payload := map[string]any{
		"region":       region,
		"wholesale":    current,
		"import_price": breakdown,
		"export_price": export,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printQuoteTable(region string, current model.WholesalePrice, breakdown pricing.Breakdown, export pricing.ExportPriceInfo) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Region\t%s\n", region)
	fmt.Fprintf(writer, "Settlement\t%s\n", current.SettlementDate.Format(time.RFC3339))
	fmt.Fprintf(writer, "Wholesale\t%.2f c/kWh (%s)\n", breakdown.Wholesale, current.Status)
	fmt.Fprintf(writer, "PEA\t%.2f c/kWh\n", breakdown.PEA)
	fmt.Fprintf(writer, "TWAP used\t%.2f c/kWh\n", breakdown.TWAPUsed)
	fmt.Fprintf(writer, "Import\t%.2f c/kWh (%.4f $/kWh)\n", breakdown.FinalCents, breakdown.FinalDollars)
	fmt.Fprintf(writer, "Export\t%.1f c/kWh\n", export.ExportCents)
	fmt.Fprintf(writer, "Happy Hour\t%t\n", export.IsHappyHour)
	return writer.Flush()
}
