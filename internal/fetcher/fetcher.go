package fetcher

import (
	"context"
	"errors"

	"flowpower-sync/internal/model"
)

// ErrAuth indicates the upstream rejected the configured credentials.
// Surfaced distinctly so a bad API key is diagnosable from the logs.
var ErrAuth = errors.New("fetcher: authentication failed")

// PriceSource retrieves wholesale spot prices and forward forecasts. The two
// implementations (direct-market AEMO, retailer Amber) share this contract;
// the variant is selected once at construction.
type PriceSource interface {
	// CurrentPrices fetches the freshest dispatch/spot data per region in a
	// common unit. Transient upstream failures degrade to fallbacks or an
	// empty map, never a panic.
	CurrentPrices(ctx context.Context) (map[string]model.WholesalePrice, error)

	// PriceForecast returns up to periods entries for the region, sorted
	// ascending by timestamp and deduplicated. An empty result is a valid
	// state, not an error.
	PriceForecast(ctx context.Context, region string, periods int) ([]model.ForecastPeriod, error)
}
