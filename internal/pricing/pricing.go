// Package pricing implements the Flow Power tariff math: the Price Efficiency
// Adjustment (PEA), Happy-Hour export rates, and forecast pricing. Pure
// functions only; all I/O lives in fetcher and storage.
package pricing

import "github.com/shopspring/decimal"

const (
	// StaticMarketAvg is the TWAP fallback when insufficient history exists (c/kWh).
	StaticMarketAvg = 8.0
	// Benchmark is the benchmark customer performance component (c/kWh).
	Benchmark = 1.7
	// DefaultBaseRate is the default Flow Power base rate (c/kWh).
	DefaultBaseRate = 34.0
	// GSTRate is applied in network-tariff mode when enabled.
	GSTRate = 0.10
)

// Params selects and parameterises the tariff mode. PEA mode and
// network-tariff mode are mutually exclusive; PEA wins when both are set.
type Params struct {
	BaseRate        float64
	PEAEnabled      bool
	PEACustomSet    bool
	PEACustomValue  float64
	NetworkTariff   bool
	NetworkFlatRate float64
	OtherFees       float64
	IncludeGST      bool
}

// Breakdown is the result of an import price calculation. FinalCents is
// clamped at zero; PEA is reported unclamped.
type Breakdown struct {
	Wholesale    float64 `json:"wholesale_cents"`
	BaseRate     float64 `json:"base_rate_cents"`
	PEA          float64 `json:"pea_cents"`
	Network      float64 `json:"network_cents"`
	OtherFees    float64 `json:"other_fees_cents"`
	GST          float64 `json:"gst_cents"`
	TWAPUsed     float64 `json:"twap_used_cents"`
	FinalCents   float64 `json:"final_cents"`
	FinalDollars float64 `json:"final_dollars"`
}

// PEA computes the Price Efficiency Adjustment in c/kWh. The dynamic TWAP
// replaces the static market average once enough history exists; callers pass
// nil until then. The result may be negative.
func PEA(wholesaleCents float64, twap *float64) float64 {
	avg := StaticMarketAvg
	if twap != nil {
		avg = *twap
	}
	return wholesaleCents - avg - Benchmark
}

// ImportPrice computes the final consumer import price from a wholesale price
// in c/kWh.
func ImportPrice(wholesaleCents float64, p Params, twap *float64) Breakdown {
	b := Breakdown{
		Wholesale: wholesaleCents,
		BaseRate:  p.BaseRate,
	}

	var finalCents float64
	switch {
	case p.PEAEnabled:
		if p.PEACustomSet {
			b.PEA = p.PEACustomValue
		} else {
			b.PEA = PEA(wholesaleCents, twap)
			b.TWAPUsed = StaticMarketAvg
			if twap != nil {
				b.TWAPUsed = *twap
			}
		}
		finalCents = p.BaseRate + b.PEA
	case p.NetworkTariff:
		b.Network = p.NetworkFlatRate
		b.OtherFees = p.OtherFees
		finalCents = wholesaleCents + p.NetworkFlatRate + p.OtherFees
		if p.IncludeGST {
			b.GST = finalCents * GSTRate
			finalCents += b.GST
		}
	default:
		finalCents = p.BaseRate
	}

	if finalCents < 0 {
		finalCents = 0
	}

	b.FinalCents = Round(finalCents, 2)
	b.FinalDollars = Round(finalCents/100, 4)
	return b
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
