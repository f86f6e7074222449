package model

import "time"

// WholesalePrice is one region's spot price for a single poll. Ephemeral;
// never persisted.
type WholesalePrice struct {
	Region         string
	Price          float64 // $/MWh
	PriceCents     float64 // c/kWh (= Price / 10)
	SettlementDate time.Time
	Demand         float64 // MW, zero when the source does not report it
	Status         string  // e.g. "FIRM"
}

// ForecastPeriod is a single forward price interval. The two upstreams shape
// prices differently: the direct-market feed carries both c/kWh (PerKwh) and
// $/kWh (WholesalePerKwh), the retailer feed only c/kWh. Consumers prefer the
// $/kWh field when present; either may be absent.
type ForecastPeriod struct {
	Time            time.Time
	NEMTime         string   // raw upstream timestamp, used for ordering/dedup
	PerKwh          *float64 // c/kWh
	WholesalePerKwh *float64 // $/kWh
	ChannelType     string   // retailer channel ("general", "feedIn", ...); empty for direct-market
}
