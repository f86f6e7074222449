package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the orchestrator's operational counters and the latest
// published prices.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	ImportPriceDollars prometheus.Gauge
	ExportPriceCents   prometheus.Gauge
	WholesaleCents     prometheus.Gauge
	TWAPCents          prometheus.Gauge
	TWAPSamples        prometheus.Gauge
	ForecastLength     prometheus.Gauge
}

// NewMetrics registers the metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowpower",
			Name:      "update_cycles_total",
			Help:      "Update cycles by outcome.",
		}, []string{"status"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowpower",
			Name:      "fetch_failures_total",
			Help:      "Upstream fetch failures by source.",
		}, []string{"source"}),
		ImportPriceDollars: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "import_price_dollars",
			Help:      "Current import price in $/kWh.",
		}),
		ExportPriceCents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "export_price_cents",
			Help:      "Current export price in c/kWh.",
		}),
		WholesaleCents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "wholesale_price_cents",
			Help:      "Current wholesale spot price in c/kWh.",
		}),
		TWAPCents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "twap_cents",
			Help:      "Rolling time-weighted average price in c/kWh.",
		}),
		TWAPSamples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "twap_samples",
			Help:      "Retained TWAP samples.",
		}),
		ForecastLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowpower",
			Name:      "forecast_periods",
			Help:      "Forecast periods in the latest snapshot.",
		}),
	}
}
