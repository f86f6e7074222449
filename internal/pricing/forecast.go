package pricing

import (
	"time"

	"flowpower-sync/internal/model"
)

// PricedPeriod is one forecast interval after tariff application.
type PricedPeriod struct {
	Time           time.Time `json:"-"`
	NEMTime        string    `json:"nem_time"`
	WholesaleCents float64   `json:"wholesale_cents"`
	PriceCents     float64   `json:"price_cents"`
	PriceDollars   float64   `json:"price_dollars"`
	PEA            float64   `json:"pea_cents"`
}

// NormalizeWholesale extracts the wholesale price from a forecast period in
// c/kWh, handling both upstream shapes. The $/kWh field takes precedence.
// ok is false when the period carries neither price field.
func NormalizeWholesale(p model.ForecastPeriod) (cents float64, ok bool) {
	switch {
	case p.WholesalePerKwh != nil:
		return *p.WholesalePerKwh * 100, true
	case p.PerKwh != nil:
		return *p.PerKwh, true
	default:
		return 0, false
	}
}

// ForecastPrices applies the import tariff to each forecast period,
// preserving input order. Periods without a usable price are dropped.
func ForecastPrices(periods []model.ForecastPeriod, p Params, twap *float64) []PricedPeriod {
	out := make([]PricedPeriod, 0, len(periods))
	for _, period := range periods {
		cents, ok := NormalizeWholesale(period)
		if !ok {
			continue
		}
		info := ImportPrice(cents, p, twap)
		out = append(out, PricedPeriod{
			Time:           period.Time,
			NEMTime:        period.NEMTime,
			WholesaleCents: cents,
			PriceCents:     info.FinalCents,
			PriceDollars:   info.FinalDollars,
			PEA:            info.PEA,
		})
	}
	return out
}
