package service

import (
	"time"

	"flowpower-sync/internal/model"
	"flowpower-sync/internal/pricing"
)

// Snapshot is the per-cycle aggregate read by consumers. It replaces the
// previous snapshot atomically on each successful cycle and is never mutated
// after publication.
type Snapshot struct {
	Region      string                  `json:"region"`
	Source      string                  `json:"source"`
	ImportPrice *pricing.Breakdown      `json:"import_price"`
	ExportPrice pricing.ExportPriceInfo `json:"export_price"`
	Wholesale   *model.WholesalePrice   `json:"-"`
	Forecast    []pricing.PricedPeriod  `json:"forecast"`
	LastUpdate  time.Time               `json:"last_update"`
	TWAP        *float64                `json:"twap_cents"`
	TWAPDays    float64                 `json:"twap_days"`
	TWAPSamples int                     `json:"twap_samples"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// WholesaleCents returns the spot price in c/kWh, or nil when the last cycle
// had no current price.
func (s *Snapshot) WholesaleCents() *float64 {
	if s == nil || s.Wholesale == nil {
		return nil
	}
	v := s.Wholesale.PriceCents
	return &v
}
