package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowpower-sync/internal/model"
)

// NEMWEB publishes raw dispatch data as ZIP'd CSV bulk files roughly every
// five minutes, well ahead of the JSON visualisation API. The client prefers
// the bulk files and falls back to the JSON summary on any failure.
const (
	defaultDispatchURL    = "https://nemweb.com.au/Reports/Current/DispatchIS_Reports/"
	defaultPredispatchURL = "https://nemweb.com.au/Reports/Current/Predispatch_Reports/"
	defaultSummaryURL     = "https://visualisations.aemo.com.au/aemo/apps/api/report/ELEC_NEM_SUMMARY"

	aemoTimeLayout = "2006/01/02 15:04:05"
)

var (
	dispatchFilePattern    = regexp.MustCompile(`PUBLIC_DISPATCHIS_\d{12}_\d+\.zip`)
	predispatchFilePattern = regexp.MustCompile(`PUBLIC_PREDISPATCH_\d{12}_\d{14}[^">\s]*\.zip`)
)

// AEMOOptions parameterise the direct-market client.
type AEMOOptions struct {
	DispatchURL    string
	PredispatchURL string
	SummaryURL     string
	RequestTimeout time.Duration // listings, dispatch files, JSON summary
	BulkTimeout    time.Duration // pre-dispatch bulk downloads
	ForecastTTL    time.Duration
	UserAgent      string
}

// AEMO fetches wholesale prices from NEMWEB bulk files with a JSON fallback.
type AEMO struct {
	opts   AEMOOptions
	logger zerolog.Logger
	client *http.Client

	mu                sync.Mutex
	forecastCache     map[string][]model.ForecastPeriod
	forecastCacheTime time.Time
	lastDispatchFile  string
}

// NewAEMO constructs a direct-market price source.
func NewAEMO(opts AEMOOptions, logger zerolog.Logger) *AEMO {
	if opts.DispatchURL == "" {
		opts.DispatchURL = defaultDispatchURL
	}
	if opts.PredispatchURL == "" {
		opts.PredispatchURL = defaultPredispatchURL
	}
	if opts.SummaryURL == "" {
		opts.SummaryURL = defaultSummaryURL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.BulkTimeout <= 0 {
		opts.BulkTimeout = 60 * time.Second
	}
	if opts.ForecastTTL <= 0 {
		opts.ForecastTTL = 1800 * time.Second
	}

	return &AEMO{
		opts:          opts,
		logger:        logger.With().Str("component", "aemo_fetcher").Logger(),
		client:        &http.Client{},
		forecastCache: make(map[string][]model.ForecastPeriod),
	}
}

// CurrentPrices fetches the latest 5-minute dispatch prices for all NEM
// regions, preferring the NEMWEB ZIP feed and degrading to the JSON summary.
// Total failure yields an empty map, never an error that aborts the cycle.
func (a *AEMO) CurrentPrices(ctx context.Context) (map[string]model.WholesalePrice, error) {
	listing, err := a.get(ctx, a.opts.DispatchURL, a.opts.RequestTimeout)
	if err != nil {
		a.logger.Error().Err(err).Msg("NEMWEB dispatch listing failed")
		return a.currentPricesFallback(ctx)
	}

	matches := dispatchFilePattern.FindAllString(string(listing), -1)
	if len(matches) == 0 {
		a.logger.Warn().Msg("no dispatch files found, using fallback API")
		return a.currentPricesFallback(ctx)
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	a.mu.Lock()
	if latest == a.lastDispatchFile {
		a.logger.Debug().Str("file", latest).Msg("dispatch file unchanged")
	}
	a.mu.Unlock()

	content, err := a.get(ctx, a.opts.DispatchURL+latest, a.opts.RequestTimeout)
	if err != nil {
		a.logger.Error().Err(err).Str("file", latest).Msg("failed to download dispatch file")
		return a.currentPricesFallback(ctx)
	}

	prices := a.parseDispatchZip(content)
	if len(prices) == 0 {
		a.logger.Warn().Str("file", latest).Msg("no prices parsed from dispatch file")
		return a.currentPricesFallback(ctx)
	}

	a.mu.Lock()
	a.lastDispatchFile = latest
	a.mu.Unlock()

	a.logger.Debug().Str("file", latest).Int("regions", len(prices)).Msg("NEMWEB dispatch parsed")
	return prices, nil
}

// parseDispatchZip extracts DISPATCH.PRICE rows from the bulk CSV:
// D,DISPATCH,PRICE,4,SETTLEMENTDATE,RUNNO,REGIONID,DISPATCHINTERVAL,INTERVENTION,RRP,...
// Only non-intervention rows for known regions are kept; malformed rows are
// skipped individually.
func (a *AEMO) parseDispatchZip(content []byte) map[string]model.WholesalePrice {
	prices := make(map[string]model.WholesalePrice)

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to open dispatch ZIP")
		return prices
	}

	for _, file := range reader.File {
		if !strings.HasSuffix(strings.ToUpper(file.Name), ".CSV") {
			continue
		}
		rows, err := readZipCSV(file)
		if err != nil {
			a.logger.Error().Err(err).Str("file", file.Name).Msg("failed to read dispatch CSV")
			continue
		}

		for _, row := range rows {
			if len(row) < 10 {
				continue
			}
			if row[0] != "D" || row[1] != "DISPATCH" || row[2] != "PRICE" {
				continue
			}

			region := row[6]
			if !model.ValidRegion(region) {
				continue
			}

			intervention := 0
			if row[8] != "" {
				parsed, err := strconv.Atoi(strings.TrimSpace(row[8]))
				if err != nil {
					a.logger.Debug().Str("value", row[8]).Msg("bad intervention flag, skipping row")
					continue
				}
				intervention = parsed
			}
			if intervention != 0 {
				continue
			}

			rrp, err := strconv.ParseFloat(strings.TrimSpace(row[9]), 64)
			if err != nil {
				a.logger.Debug().Err(err).Msg("bad RRP value, skipping row")
				continue
			}

			prices[region] = model.WholesalePrice{
				Region:         region,
				Price:          rrp,
				PriceCents:     rrp / 10,
				SettlementDate: parseAEMOTime(row[4], region),
				Status:         "FIRM",
			}
		}
	}

	return prices
}

// currentPricesFallback hits the slower JSON summary endpoint.
func (a *AEMO) currentPricesFallback(ctx context.Context) (map[string]model.WholesalePrice, error) {
	body, err := a.get(ctx, a.opts.SummaryURL, a.opts.RequestTimeout)
	if err != nil {
		a.logger.Error().Err(err).Msg("AEMO fallback API also failed")
		return map[string]model.WholesalePrice{}, nil
	}

	var payload struct {
		Summary []struct {
			RegionID       string  `json:"REGIONID"`
			Price          float64 `json:"PRICE"`
			SettlementDate string  `json:"SETTLEMENTDATE"`
			TotalDemand    float64 `json:"TOTALDEMAND"`
			PriceStatus    string  `json:"PRICESTATUS"`
		} `json:"ELEC_NEM_SUMMARY"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		a.logger.Error().Err(err).Msg("failed to decode AEMO summary")
		return map[string]model.WholesalePrice{}, nil
	}

	prices := make(map[string]model.WholesalePrice)
	for _, item := range payload.Summary {
		if !model.ValidRegion(item.RegionID) {
			continue
		}
		status := item.PriceStatus
		if status == "" {
			status = "FIRM"
		}
		prices[item.RegionID] = model.WholesalePrice{
			Region:         item.RegionID,
			Price:          item.Price,
			PriceCents:     item.Price / 10,
			SettlementDate: parseAEMOTime(item.SettlementDate, item.RegionID),
			Demand:         item.TotalDemand,
			Status:         status,
		}
	}

	a.logger.Debug().Int("regions", len(prices)).Msg("fallback API returned prices")
	return prices, nil
}

// PriceForecast returns the pre-dispatch forecast for a region. Results are
// cached for ForecastTTL; empty results are never cached; on total failure
// previously cached data is returned even if stale.
func (a *AEMO) PriceForecast(ctx context.Context, region string, periods int) ([]model.ForecastPeriod, error) {
	a.mu.Lock()
	if !a.forecastCacheTime.IsZero() && time.Since(a.forecastCacheTime) < a.opts.ForecastTTL {
		if cached, ok := a.forecastCache[region]; ok {
			out := truncatePeriods(cached, periods)
			a.mu.Unlock()
			return out, nil
		}
	}
	a.mu.Unlock()

	forecasts, err := a.fetchPredispatch(ctx, region)
	if err != nil {
		a.logger.Error().Err(err).Str("region", region).Msg("error fetching pre-dispatch forecast")
		a.mu.Lock()
		cached := a.forecastCache[region]
		a.mu.Unlock()
		if len(cached) > 0 {
			a.logger.Info().Int("periods", len(cached)).Str("region", region).Msg("returning cached forecast")
		}
		return truncatePeriods(cached, periods), nil
	}

	if len(forecasts) == 0 {
		// Do not cache empty results; retry next cycle.
		a.logger.Warn().Str("region", region).Msg("no forecast data returned")
		return nil, nil
	}

	a.mu.Lock()
	a.forecastCache[region] = forecasts
	a.forecastCacheTime = time.Now()
	a.mu.Unlock()

	a.logger.Info().Int("periods", len(forecasts)).Str("region", region).Msg("cached forecast")
	return truncatePeriods(forecasts, periods), nil
}

func (a *AEMO) fetchPredispatch(ctx context.Context, region string) ([]model.ForecastPeriod, error) {
	listing, err := a.get(ctx, a.opts.PredispatchURL, a.opts.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("list pre-dispatch reports: %w", err)
	}

	matches := predispatchFilePattern.FindAllString(string(listing), -1)
	if len(matches) == 0 {
		a.logger.Warn().Msg("no pre-dispatch reports found")
		return nil, nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	content, err := a.get(ctx, a.opts.PredispatchURL+latest, a.opts.BulkTimeout)
	if err != nil {
		return nil, fmt.Errorf("download pre-dispatch report: %w", err)
	}

	return a.parsePredispatchZip(content, region), nil
}

// parsePredispatchZip extracts PDREGION rows for the target region:
// D,PDREGION,,5,PREDISPATCHSEQNO,RUNNO,REGIONID,PERIODID,RRP,...
// Rows are sorted ascending by period timestamp and deduplicated.
func (a *AEMO) parsePredispatchZip(content []byte, region string) []model.ForecastPeriod {
	var forecasts []model.ForecastPeriod

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to open pre-dispatch ZIP")
		return nil
	}

	for _, file := range reader.File {
		if !strings.HasSuffix(strings.ToUpper(file.Name), ".CSV") {
			continue
		}
		rows, err := readZipCSV(file)
		if err != nil {
			a.logger.Error().Err(err).Str("file", file.Name).Msg("failed to read pre-dispatch CSV")
			continue
		}

		for _, row := range rows {
			if len(row) < 9 {
				continue
			}
			if row[0] != "D" || row[1] != "PDREGION" || row[6] != region {
				continue
			}

			nemTime := strings.Trim(row[7], `"`)
			rrp, err := strconv.ParseFloat(strings.TrimSpace(row[8]), 64)
			if err != nil {
				a.logger.Debug().Err(err).Msg("bad forecast RRP, skipping row")
				continue
			}

			perKwh := rrp / 10
			perKwhDollars := rrp / 1000
			forecasts = append(forecasts, model.ForecastPeriod{
				Time:            parseAEMOTime(nemTime, region),
				NEMTime:         nemTime,
				PerKwh:          &perKwh,
				WholesalePerKwh: &perKwhDollars,
			})
		}
	}

	// The AEMO timestamp format sorts lexicographically in chronological order.
	sort.SliceStable(forecasts, func(i, j int) bool {
		return forecasts[i].NEMTime < forecasts[j].NEMTime
	})
	seen := make(map[string]struct{}, len(forecasts))
	unique := forecasts[:0]
	for _, f := range forecasts {
		if _, dup := seen[f.NEMTime]; dup {
			continue
		}
		seen[f.NEMTime] = struct{}{}
		unique = append(unique, f)
	}

	a.logger.Info().Int("periods", len(unique)).Str("region", region).Msg("pre-dispatch ZIP parsed")
	return unique
}

func (a *AEMO) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

func readZipCSV(file *zip.File) ([][]string, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed line; keep parsing the remainder.
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseAEMOTime(value, region string) time.Time {
	value = strings.Trim(value, `"`)
	t, err := time.ParseInLocation(aemoTimeLayout, value, model.RegionLocation(region))
	if err != nil {
		return time.Time{}
	}
	return t
}

func truncatePeriods(periods []model.ForecastPeriod, max int) []model.ForecastPeriod {
	if max <= 0 || len(periods) <= max {
		return periods
	}
	return periods[:max]
}

var _ PriceSource = (*AEMO)(nil)
