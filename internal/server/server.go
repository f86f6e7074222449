package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"flowpower-sync/internal/service"
)

// staleAfter marks the snapshot unhealthy when no cycle succeeded for this
// long. Three missed five-minute cycles.
const staleAfter = 16 * time.Minute

// Server exposes the latest snapshot over HTTP.
type Server struct {
	svc      *service.Service
	listen   string
	logger   zerolog.Logger
	registry *prometheus.Registry
	httpSrv  *http.Server
}

// New constructs the API server. registry may be nil to omit /metrics.
func New(svc *service.Service, listen string, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		svc:      svc,
		listen:   listen,
		logger:   logger.With().Str("component", "server").Logger(),
		registry: registry,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/prices", gziphandler.GzipHandler(http.HandlerFunc(s.handlePrices)))
	mux.Handle("/api/v1/forecast", gziphandler.GzipHandler(http.HandlerFunc(s.handleForecast)))
	mux.HandleFunc("/healthz", s.handleHealthz)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.listen).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.svc.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// forecastResponse carries the forecast as parallel arrays alongside a
// timestamp-keyed map, the two shapes energy schedulers consume.
type forecastResponse struct {
	Region         string             `json:"region"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Forecast       []float64          `json:"forecast"`
	Timestamps     []string           `json:"timestamps"`
	ForecastCents  []float64          `json:"forecast_cents"`
	WholesaleCents []float64          `json:"wholesale_cents"`
	ForecastDict   map[string]float64 `json:"forecast_dict"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.svc.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}

	resp := forecastResponse{
		Region:         snap.Region,
		UpdatedAt:      snap.UpdatedAt,
		Forecast:       make([]float64, 0, len(snap.Forecast)),
		Timestamps:     make([]string, 0, len(snap.Forecast)),
		ForecastCents:  make([]float64, 0, len(snap.Forecast)),
		WholesaleCents: make([]float64, 0, len(snap.Forecast)),
		ForecastDict:   make(map[string]float64, len(snap.Forecast)),
	}
	for _, p := range snap.Forecast {
		ts := p.NEMTime
		if !p.Time.IsZero() {
			ts = p.Time.Format(time.RFC3339)
		}
		resp.Forecast = append(resp.Forecast, p.PriceDollars)
		resp.Timestamps = append(resp.Timestamps, ts)
		resp.ForecastCents = append(resp.ForecastCents, p.PriceCents)
		resp.WholesaleCents = append(resp.WholesaleCents, p.WholesaleCents)
		resp.ForecastDict[ts] = p.PriceDollars
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	lastSuccess, failures, hasSnapshot := s.svc.Health()

	status := http.StatusOK
	healthy := hasSnapshot && time.Since(lastSuccess) < staleAfter
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"healthy":              healthy,
		"consecutive_failures": failures,
	}
	if !lastSuccess.IsZero() {
		body["last_success"] = lastSuccess.Format(time.RFC3339)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
