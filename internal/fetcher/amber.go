package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowpower-sync/internal/model"
)

const defaultAmberBaseURL = "https://api.amber.com.au/v1"

// AmberOptions parameterise the retailer-API client.
type AmberOptions struct {
	BaseURL        string
	APIKey         string
	SiteID         string // optional; first site is auto-selected when empty
	Region         string // NEM region the site belongs to
	RequestTimeout time.Duration
}

// AmberSite is one site on the account.
type AmberSite struct {
	ID      string `json:"id"`
	NMI     string `json:"nmi"`
	Network string `json:"network"`
	Status  string `json:"status"`
}

// amberInterval is a single price interval from the Amber API.
type amberInterval struct {
	Type        string  `json:"type"`
	NemTime     string  `json:"nemTime"`
	StartTime   string  `json:"startTime"`
	PerKwh      float64 `json:"perKwh"`
	SpotPerKwh  float64 `json:"spotPerKwh"`
	ChannelType string  `json:"channelType"`
	Estimate    bool    `json:"estimate"`
}

// Amber fetches prices from the Amber Electric REST API.
type Amber struct {
	opts    AmberOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu     sync.Mutex
	siteID string
}

// NewAmber constructs a retailer-API price source.
func NewAmber(opts AmberOptions, logger zerolog.Logger) *Amber {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAmberBaseURL
	}

	return &Amber{
		opts:    opts,
		logger:  logger.With().Str("component", "amber_fetcher").Logger(),
		client:  &http.Client{},
		baseURL: baseURL,
		siteID:  opts.SiteID,
	}
}

// Sites lists the account's sites.
func (m *Amber) Sites(ctx context.Context) ([]AmberSite, error) {
	body, err := m.get(ctx, m.baseURL+"/sites", nil)
	if err != nil {
		return nil, err
	}

	var sites []AmberSite
	if err := json.Unmarshal(body, &sites); err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}
	return sites, nil
}

// resolveSite returns the configured site id, auto-selecting the account's
// first site when none is configured. The resolution is cached.
func (m *Amber) resolveSite(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.siteID != "" {
		id := m.siteID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	sites, err := m.Sites(ctx)
	if err != nil {
		return "", err
	}
	if len(sites) == 0 {
		return "", fmt.Errorf("amber account has no sites")
	}

	m.mu.Lock()
	m.siteID = sites[0].ID
	m.mu.Unlock()
	m.logger.Info().Str("site_id", sites[0].ID).Msg("auto-selected amber site")
	return sites[0].ID, nil
}

// CurrentPrices fetches the current interval for the configured site and maps
// the general (import) channel onto the configured region.
func (m *Amber) CurrentPrices(ctx context.Context) (map[string]model.WholesalePrice, error) {
	siteID, err := m.resolveSite(ctx)
	if err != nil {
		return nil, err
	}

	body, err := m.get(ctx, fmt.Sprintf("%s/sites/%s/prices/current", m.baseURL, siteID), nil)
	if err != nil {
		return nil, err
	}

	var intervals []amberInterval
	if err := json.Unmarshal(body, &intervals); err != nil {
		return nil, fmt.Errorf("decode current prices: %w", err)
	}

	prices := make(map[string]model.WholesalePrice)
	for _, interval := range intervals {
		if interval.ChannelType != "general" {
			continue
		}
		spot := extractWholesale(interval)
		status := "FIRM"
		if interval.Estimate {
			status = "ESTIMATE"
		}
		prices[m.opts.Region] = model.WholesalePrice{
			Region:         m.opts.Region,
			Price:          spot * 10, // c/kWh back to $/MWh
			PriceCents:     spot,
			SettlementDate: parseAmberTime(interval.NemTime),
			Status:         status,
		}
		break
	}
	return prices, nil
}

// PriceForecast fetches forward intervals at 30-minute resolution. periods is
// the number of 30-minute entries wanted; the API is queried by hours.
func (m *Amber) PriceForecast(ctx context.Context, region string, periods int) ([]model.ForecastPeriod, error) {
	siteID, err := m.resolveSite(ctx)
	if err != nil {
		return nil, err
	}

	hours := periods / 2
	if hours <= 0 {
		hours = 48
	}
	params := url.Values{}
	params.Set("next", strconv.Itoa(hours))
	params.Set("resolution", "30")

	body, err := m.get(ctx, fmt.Sprintf("%s/sites/%s/prices", m.baseURL, siteID), params)
	if err != nil {
		return nil, err
	}

	var intervals []amberInterval
	if err := json.Unmarshal(body, &intervals); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}

	forecasts := make([]model.ForecastPeriod, 0, len(intervals))
	for _, interval := range intervals {
		perKwh := interval.PerKwh
		ts := interval.NemTime
		if ts == "" {
			ts = interval.StartTime
		}
		forecasts = append(forecasts, model.ForecastPeriod{
			Time:        parseAmberTime(ts),
			NEMTime:     ts,
			PerKwh:      &perKwh,
			ChannelType: interval.ChannelType,
		})
	}

	sort.SliceStable(forecasts, func(i, j int) bool {
		return forecasts[i].NEMTime < forecasts[j].NEMTime
	})
	seen := make(map[string]struct{}, len(forecasts))
	unique := forecasts[:0]
	for _, f := range forecasts {
		key := f.ChannelType + "|" + f.NEMTime
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, f)
	}

	return truncatePeriods(unique, periods), nil
}

// extractWholesale converts an Amber interval's native price field to c/kWh.
// Amber reports the NEM spot price as spotPerKwh, already in c/kWh.
func extractWholesale(interval amberInterval) float64 {
	return interval.SpotPerKwh
}

func (m *Amber) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()

	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.opts.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		m.logger.Error().Int("status", resp.StatusCode).Msg("amber authentication failed - check your API key")
		return nil, fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amber api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

func parseAmberTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ PriceSource = (*Amber)(nil)
