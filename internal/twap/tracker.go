// Package twap maintains the rolling time-weighted average price used as the
// dynamic baseline in the PEA formula.
package twap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flowpower-sync/internal/storage"
)

// Options tune the tracker window and persistence cadence.
type Options struct {
	WindowDays   int           // rolling retention window
	MinSamples   int           // below this TWAP() reports no value
	MinSampleGap time.Duration // samples closer together than this are dropped
	SaveInterval time.Duration // minimum gap between background persists
}

// DefaultOptions match the Flow Power tariff definition: a 30-day window,
// 12-sample minimum (~1 hour of 5-minute data), 240s dedup, 600s save cadence.
func DefaultOptions() Options {
	return Options{
		WindowDays:   30,
		MinSamples:   12,
		MinSampleGap: 240 * time.Second,
		SaveInterval: 600 * time.Second,
	}
}

// Tracker holds one region's price history. Safe for concurrent use; Record
// and the snapshot readers are serialised internally.
type Tracker struct {
	region string
	opts   Options
	store  storage.HistoryStore
	logger zerolog.Logger

	mu       sync.Mutex
	samples  []storage.PriceSample
	lastSave time.Time
	dirty    bool
}

// New constructs a Tracker. store may be nil, which disables persistence.
func New(region string, opts Options, store storage.HistoryStore, logger zerolog.Logger) *Tracker {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 12
	}
	if opts.MinSampleGap <= 0 {
		opts.MinSampleGap = 240 * time.Second
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 600 * time.Second
	}
	return &Tracker{
		region: region,
		opts:   opts,
		store:  store,
		logger: logger.With().Str("component", "twap").Str("region", region).Logger(),
	}
}

// Load restores persisted history, prunes it to the window, and leaves the
// tracker ready to report a baseline on the first cycle. A missing store or a
// load failure is not fatal; the tracker just starts empty.
func (t *Tracker) Load(ctx context.Context, now time.Time) error {
	if t.store == nil {
		return nil
	}

	samples, err := t.store.LoadHistory(ctx, t.region)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to load price history; starting empty")
		return fmt.Errorf("load price history: %w", err)
	}

	t.mu.Lock()
	t.samples = prune(samples, now, t.opts.WindowDays)
	t.lastSave = now
	loaded := len(t.samples)
	t.mu.Unlock()
	t.logger.Info().Int("samples", loaded).Msg("price history loaded")
	return nil
}

// Record appends a price observation. Samples arriving less than
// MinSampleGap after the previous one are dropped so re-polls of the same
// dispatch interval do not skew the average.
func (t *Tracker) Record(priceCents float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.samples); n > 0 {
		last := time.Unix(t.samples[n-1].TS, 0)
		if now.Sub(last) < t.opts.MinSampleGap {
			return
		}
	}

	t.samples = append(t.samples, storage.PriceSample{
		TS:    now.Unix(),
		Price: round2(priceCents),
	})
	t.samples = prune(t.samples, now, t.opts.WindowDays)
	t.dirty = true

	if t.store != nil && now.Sub(t.lastSave) > t.opts.SaveInterval {
		t.lastSave = now
		snapshot := make([]storage.PriceSample, len(t.samples))
		copy(snapshot, t.samples)
		go t.persist(snapshot)
	}
}

// persist writes the pruned history in the background. A failed write is
// logged and left for the next save window or the shutdown flush.
func (t *Tracker) persist(samples []storage.PriceSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := t.store.ReplaceHistory(ctx, t.region, samples); err != nil {
		t.logger.Error().Err(err).Int("samples", len(samples)).Msg("failed to persist price history")
		return
	}
	t.mu.Lock()
	t.dirty = false
	t.mu.Unlock()
	t.logger.Debug().Int("samples", len(samples)).Msg("price history persisted")
}

// Flush persists any unsaved samples synchronously. Called at shutdown.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.store == nil || !t.dirty {
		t.mu.Unlock()
		return nil
	}
	snapshot := make([]storage.PriceSample, len(t.samples))
	copy(snapshot, t.samples)
	t.mu.Unlock()

	if err := t.store.ReplaceHistory(ctx, t.region, snapshot); err != nil {
		return fmt.Errorf("flush price history: %w", err)
	}

	t.mu.Lock()
	t.dirty = false
	t.mu.Unlock()
	return nil
}

// TWAP returns the arithmetic mean of retained samples in c/kWh, rounded to
// 2 decimals. ok is false when fewer than MinSamples are retained; callers
// substitute the static market average in that case.
func (t *Tracker) TWAP() (value float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < t.opts.MinSamples {
		return 0, false
	}
	sum := decimal.Zero
	for _, s := range t.samples {
		sum = sum.Add(decimal.NewFromFloat(s.Price))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(t.samples)))).Round(2)
	return mean.InexactFloat64(), true
}

// AgeDays reports how far back the retained history reaches, rounded to one
// decimal. Zero when no history exists.
func (t *Tracker) AgeDays(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return 0.0
	}
	age := float64(now.Unix()-t.samples[0].TS) / 86400
	return pricingRound(age, 1)
}

// SampleCount reports the number of retained samples.
func (t *Tracker) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

func prune(samples []storage.PriceSample, now time.Time, windowDays int) []storage.PriceSample {
	cutoff := now.Unix() - int64(windowDays)*86400
	kept := samples[:0]
	for _, s := range samples {
		if s.TS >= cutoff {
			kept = append(kept, s)
		}
	}
	return kept
}

func round2(v float64) float64 {
	return pricingRound(v, 2)
}

func pricingRound(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
