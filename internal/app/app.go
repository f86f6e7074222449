package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"flowpower-sync/internal/alerting"
	"flowpower-sync/internal/config"
	"flowpower-sync/internal/fetcher"
	"flowpower-sync/internal/model"
	"flowpower-sync/internal/scheduler"
	"flowpower-sync/internal/server"
	"flowpower-sync/internal/service"
	"flowpower-sync/internal/storage"
	"flowpower-sync/internal/twap"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() fetcher.PriceSource {
	if a.Config.Pricing.Source == config.SourceAmber {
		return fetcher.NewAmber(fetcher.AmberOptions{
			BaseURL:        a.Config.Amber.BaseURL,
			APIKey:         a.Config.Amber.APIKey,
			SiteID:         a.Config.Amber.SiteID,
			Region:         a.Config.Pricing.Region,
			RequestTimeout: a.Config.Amber.RequestTimeout,
		}, a.Logger)
	}

	return fetcher.NewAEMO(fetcher.AEMOOptions{
		DispatchURL:    a.Config.AEMO.DispatchURL,
		PredispatchURL: a.Config.AEMO.PredispatchURL,
		SummaryURL:     a.Config.AEMO.SummaryURL,
		RequestTimeout: a.Config.AEMO.RequestTimeout,
		BulkTimeout:    a.Config.AEMO.BulkTimeout,
		ForecastTTL:    a.Config.AEMO.ForecastTTL,
		UserAgent:      a.Config.AEMO.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running price publisher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:          a.Config.Scheduler.Interval,
		AlignHalfMinute:   a.Config.Scheduler.AlignHalfMinute,
		HappyHourTriggers: a.Config.Scheduler.HappyHourTriggers,
		Location:          model.RegionLocation(a.Config.Pricing.Region),
		StartupDelay:      a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var historyStore storage.HistoryStore
	var locker storage.AdvisoryLocker
	if store != nil {
		historyStore = store
		locker = store
	}

	tracker := twap.New(a.Config.Pricing.Region, twap.Options{
		WindowDays:   a.Config.TWAP.WindowDays,
		MinSamples:   a.Config.TWAP.MinSamples,
		MinSampleGap: a.Config.TWAP.MinSampleGap,
		SaveInterval: a.Config.TWAP.SaveInterval,
	}, historyStore, a.Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	svc := service.New(a.Config, sched, a.newSource(), tracker, locker, a.newNotifier(), metrics, a.Logger)

	errCh := make(chan error, 2)
	if a.Config.Server.Enabled {
		srv := server.New(svc, a.Config.Server.Listen, registry, a.Logger)
		go func() {
			errCh <- srv.Run(ctx)
		}()
	}

	a.Logger.Info().
		Str("source", a.Config.Pricing.Source).
		Str("region", a.Config.Pricing.Region).
		Msg("starting price publisher")
	go func() {
		errCh <- svc.Run(ctx)
	}()

	err = <-errCh
	cancel()
	if a.Config.Server.Enabled {
		// Collect the other goroutine's exit so shutdown completes cleanly.
		if other := <-errCh; err == nil || errors.Is(err, context.Canceled) {
			err = other
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price publisher stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// QuoteOptions configure the one-off quote command.
type QuoteOptions struct {
	JSON bool
}
