package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"flowpower-sync/internal/config"
	"flowpower-sync/internal/fetcher"
)

// Sites lists the Amber sites visible to the configured API key.
func (a *App) Sites(ctx context.Context) error {
	if a.Config.Amber.APIKey == "" {
		return errors.New("amber.api_key not configured")
	}
	if a.Config.Pricing.Source != config.SourceAmber {
		a.Logger.Warn().Msg("pricing.source is not amber; listing sites anyway")
	}

	amber := fetcher.NewAmber(fetcher.AmberOptions{
		BaseURL:        a.Config.Amber.BaseURL,
		APIKey:         a.Config.Amber.APIKey,
		Region:         a.Config.Pricing.Region,
		RequestTimeout: a.Config.Amber.RequestTimeout,
	}, a.Logger)

	sites, err := amber.Sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Fprintln(os.Stdout, "no sites found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNMI\tNetwork\tStatus")
	for _, site := range sites {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", site.ID, site.NMI, site.Network, site.Status)
	}
	return writer.Flush()
}
