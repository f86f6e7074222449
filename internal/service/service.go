package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowpower-sync/internal/alerting"
	"flowpower-sync/internal/config"
	"flowpower-sync/internal/fetcher"
	"flowpower-sync/internal/model"
	"flowpower-sync/internal/pricing"
	"flowpower-sync/internal/scheduler"
	"flowpower-sync/internal/storage"
	"flowpower-sync/internal/twap"
)

// UpdateFailedError marks a cycle that failed as a whole. The previous
// snapshot is retained; the failure feeds the health signal.
type UpdateFailedError struct {
	Reason error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update cycle failed: %v", e.Reason)
}

func (e *UpdateFailedError) Unwrap() error { return e.Reason }

// Service orchestrates fetching, pricing, TWAP maintenance, and snapshot
// publication.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.PriceSource
	tracker   *twap.Tracker
	notifier  alerting.Notifier
	metrics   *Metrics
	logger    zerolog.Logger

	region          string
	sourceName      string
	location        *time.Location
	params          pricing.Params
	forecastPeriods int

	locker  storage.AdvisoryLocker
	lockKey int64

	alertsOn       bool
	alertThreshold float64
	alertCooldown  time.Duration

	mu           sync.RWMutex
	snapshot     *Snapshot
	failures     int
	lastSuccess  time.Time
	lastAlert    time.Time
	wasHappyHour bool
}

// New constructs the update orchestrator.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.PriceSource, tracker *twap.Tracker, locker storage.AdvisoryLocker, notifier alerting.Notifier, metrics *Metrics, logger zerolog.Logger) *Service {
	params := pricing.Params{
		BaseRate:        cfg.Pricing.BaseRate,
		PEAEnabled:      cfg.Pricing.PEAEnabled,
		PEACustomSet:    cfg.Pricing.PEACustomEnabled,
		PEACustomValue:  cfg.Pricing.PEACustomValue,
		NetworkTariff:   cfg.Pricing.NetworkTariff,
		NetworkFlatRate: cfg.Pricing.NetworkFlatRate,
		OtherFees:       cfg.Pricing.OtherFees,
		IncludeGST:      cfg.Pricing.IncludeGST,
	}

	return &Service{
		scheduler:       sched,
		source:          source,
		tracker:         tracker,
		notifier:        notifier,
		metrics:         metrics,
		logger:          logger.With().Str("component", "service").Logger(),
		region:          cfg.Pricing.Region,
		sourceName:      cfg.Pricing.Source,
		location:        model.RegionLocation(cfg.Pricing.Region),
		params:          params,
		forecastPeriods: cfg.Pricing.ForecastPeriods,
		locker:          locker,
		lockKey:         cfg.Scheduler.AdvisoryLockKey,
		alertsOn:        cfg.Alerting.Enabled,
		alertThreshold:  cfg.Alerting.ThresholdCents,
		alertCooldown:   cfg.Alerting.Cooldown,
	}
}

// Run reloads persisted TWAP state, then drives update cycles until ctx is
// cancelled. Unsaved TWAP samples are flushed on the way out.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	if err := s.tracker.Load(ctx, time.Now()); err != nil {
		// Degraded start; the tracker begins empty and the static
		// market average covers the gap.
		s.logger.Warn().Err(err).Msg("starting without persisted TWAP history")
	}

	err := s.scheduler.Run(ctx, s.ProcessCycle)

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if flushErr := s.tracker.Flush(flushCtx); flushErr != nil {
		s.logger.Error().Err(flushErr).Msg("failed to flush TWAP history on shutdown")
	}

	return err
}

// ProcessCycle executes one update cycle. On failure the previous snapshot
// is retained and an UpdateFailedError is returned.
func (s *Service) ProcessCycle(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UpdateFailedError{Reason: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			s.recordFailure()
		}
	}()

	unlock, proceed, lockErr := s.acquireLock(ctx)
	if lockErr != nil {
		return &UpdateFailedError{Reason: lockErr}
	}
	if !proceed {
		s.logger.Debug().Time("trigger", now).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	snap, fresh := s.executeCycle(ctx, now)
	s.publish(snap, fresh)
	if !fresh {
		return &UpdateFailedError{Reason: errDataUnavailable}
	}
	return nil
}

var errDataUnavailable = errors.New("no fresh wholesale price available")

// executeCycle builds the next snapshot. When no fresh wholesale price can be
// fetched the previous snapshot's import data is carried forward so consumers
// keep serving prices; fresh reports whether new data arrived.
func (s *Service) executeCycle(ctx context.Context, now time.Time) (snap *Snapshot, fresh bool) {
	prev := s.Snapshot()
	snap = &Snapshot{
		Region:    s.region,
		Source:    s.sourceName,
		UpdatedAt: now,
	}

	prices, err := s.source.CurrentPrices(ctx)
	if err != nil {
		s.logFetchError(err, "current prices")
	}

	if region, ok := prices[s.region]; ok {
		s.tracker.Record(region.PriceCents, now)
		info := pricing.ImportPrice(region.PriceCents, s.params, s.twapValue())
		regionCopy := region
		snap.ImportPrice = &info
		snap.Wholesale = &regionCopy
		snap.LastUpdate = region.SettlementDate
		fresh = true
	} else {
		if err == nil {
			s.logger.Warn().Str("region", s.region).Msg("no current price for region")
		}
		if prev != nil {
			snap.ImportPrice = prev.ImportPrice
			snap.Wholesale = prev.Wholesale
			snap.LastUpdate = prev.LastUpdate
		}
	}

	forecast, err := s.source.PriceForecast(ctx, s.region, s.forecastPeriods)
	if err != nil {
		s.logFetchError(err, "forecast")
	}
	snap.Forecast = pricing.ForecastPrices(importChannel(forecast), s.params, s.twapValue())
	if len(snap.Forecast) == 0 && prev != nil {
		snap.Forecast = prev.Forecast
	}

	// Export price is wall-clock based; computed even when every fetch failed.
	snap.ExportPrice = pricing.ExportPrice(s.region, now, s.location)

	if value, ok := s.tracker.TWAP(); ok {
		snap.TWAP = &value
	}
	snap.TWAPDays = s.tracker.AgeDays(now)
	snap.TWAPSamples = s.tracker.SampleCount()

	return snap, fresh
}

// importChannel keeps direct-market periods (no channel tag) and the
// retailer's general channel, dropping feed-in and controlled-load entries.
func importChannel(periods []model.ForecastPeriod) []model.ForecastPeriod {
	kept := make([]model.ForecastPeriod, 0, len(periods))
	for _, p := range periods {
		if p.ChannelType == "" || p.ChannelType == "general" {
			kept = append(kept, p)
		}
	}
	return kept
}

func (s *Service) publish(snap *Snapshot, fresh bool) {
	s.mu.Lock()
	previousHappyHour := s.wasHappyHour
	s.snapshot = snap
	if fresh {
		s.failures = 0
		s.lastSuccess = snap.UpdatedAt
	}
	s.wasHappyHour = snap.ExportPrice.IsHappyHour
	s.mu.Unlock()

	s.updateMetrics(snap, fresh)
	s.maybeNotify(snap, previousHappyHour)

	event := s.logger.Info().
		Time("updated_at", snap.UpdatedAt).
		Int("forecast_periods", len(snap.Forecast)).
		Bool("happy_hour", snap.ExportPrice.IsHappyHour)
	if snap.ImportPrice != nil {
		event = event.Float64("import_dollars", snap.ImportPrice.FinalDollars)
	}
	event.Msg("snapshot published")
}

func (s *Service) updateMetrics(snap *Snapshot, fresh bool) {
	if s.metrics == nil {
		return
	}
	if fresh {
		s.metrics.CyclesTotal.WithLabelValues("ok").Inc()
	}
	s.metrics.ExportPriceCents.Set(snap.ExportPrice.ExportCents)
	s.metrics.ForecastLength.Set(float64(len(snap.Forecast)))
	s.metrics.TWAPSamples.Set(float64(snap.TWAPSamples))
	if snap.TWAP != nil {
		s.metrics.TWAPCents.Set(*snap.TWAP)
	}
	if snap.ImportPrice != nil {
		s.metrics.ImportPriceDollars.Set(snap.ImportPrice.FinalDollars)
		s.metrics.WholesaleCents.Set(snap.ImportPrice.Wholesale)
	}
}

func (s *Service) maybeNotify(snap *Snapshot, previousHappyHour bool) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if snap.ExportPrice.IsHappyHour && !previousHappyHour {
		note := alerting.Notification{
			At:          snap.UpdatedAt,
			Region:      s.region,
			Kind:        alerting.KindHappyHourStart,
			ExportCents: snap.ExportPrice.ExportCents,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch happy hour alert")
		}
	}

	if snap.ImportPrice == nil || s.alertThreshold <= 0 {
		return
	}
	if snap.ImportPrice.FinalCents <= s.alertThreshold {
		return
	}

	s.mu.Lock()
	tooSoon := !s.lastAlert.IsZero() && snap.UpdatedAt.Sub(s.lastAlert) < s.alertCooldown
	if !tooSoon {
		s.lastAlert = snap.UpdatedAt
	}
	s.mu.Unlock()
	if tooSoon {
		return
	}

	note := alerting.Notification{
		At:             snap.UpdatedAt,
		Region:         s.region,
		Kind:           alerting.KindPriceSpike,
		ImportCents:    snap.ImportPrice.FinalCents,
		ThresholdCents: s.alertThreshold,
		WholesaleCents: snap.ImportPrice.Wholesale,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch price spike alert")
	}
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues("failed").Inc()
	}
}

func (s *Service) logFetchError(err error, what string) {
	if errors.Is(err, fetcher.ErrAuth) {
		s.logger.Error().Err(err).Str("fetch", what).Msg("upstream rejected credentials")
	} else {
		s.logger.Error().Err(err).Str("fetch", what).Msg("upstream fetch failed")
	}
	if s.metrics != nil {
		s.metrics.FetchFailures.WithLabelValues(s.sourceName).Inc()
	}
}

func (s *Service) twapValue() *float64 {
	if value, ok := s.tracker.TWAP(); ok {
		return &value
	}
	return nil
}

// Snapshot returns the latest published snapshot, or nil before the first
// successful cycle.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Health reports the availability signal for /healthz.
func (s *Service) Health() (lastSuccess time.Time, consecutiveFailures int, hasSnapshot bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess, s.failures, s.snapshot != nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
