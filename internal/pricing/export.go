package pricing

import (
	"time"

	"flowpower-sync/internal/model"
)

// Happy Hour window in local time, inclusive start, exclusive end.
const (
	happyHourStartSec = 17*3600 + 30*60
	happyHourEndSec   = 19*3600 + 30*60
)

// ExportRates holds the fixed Happy-Hour feed-in rate per region in $/kWh.
var ExportRates = map[string]float64{
	"NSW1": 0.45,
	"QLD1": 0.45,
	"SA1":  0.45,
	"VIC1": 0.35,
	"TAS1": 0.00, // no Happy Hour in Tasmania
}

// ExportPriceInfo describes the export tariff at a point in time. Computed
// fresh from the wall clock on every call; never cached.
type ExportPriceInfo struct {
	ExportCents    float64 `json:"export_cents"`
	ExportDollars  float64 `json:"export_dollars"`
	IsHappyHour    bool    `json:"is_happy_hour"`
	HappyHourRate  float64 `json:"happy_hour_rate"` // $/kWh
	Region         string  `json:"region"`
	HappyHourStart string  `json:"happy_hour_start"`
	HappyHourEnd   string  `json:"happy_hour_end"`
}

// ExportPrice resolves the export price for a region at the given instant.
// A nil loc resolves the region's own timezone. The window boundary matters
// to the second for billing, so callers must pass the current wall clock.
func ExportPrice(region string, now time.Time, loc *time.Location) ExportPriceInfo {
	if loc == nil {
		loc = model.RegionLocation(region)
	}

	local := now.In(loc)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	inWindow := sec >= happyHourStartSec && sec < happyHourEndSec

	rate := ExportRates[region]

	info := ExportPriceInfo{
		IsHappyHour:    inWindow,
		HappyHourRate:  rate,
		Region:         region,
		HappyHourStart: "17:30",
		HappyHourEnd:   "19:30",
	}
	if inWindow {
		info.ExportCents = rate * 100
		info.ExportDollars = rate
	}
	return info
}
