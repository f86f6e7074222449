package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the most recent stored wholesale samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	region := a.Config.Pricing.Region
	samples, err := store.ListRecentSamples(ctx, region, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRegion\tWholesale (c/kWh)")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.2f\n",
			time.Unix(sample.TS, 0).UTC().Format(time.RFC3339),
			region,
			sample.Price,
		)
	}

	writer.Flush()
	return nil
}
