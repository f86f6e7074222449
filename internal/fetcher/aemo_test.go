package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func buildZip(t *testing.T, name, csvContent string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	file, err := writer.Create(name)
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := file.Write([]byte(csvContent)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

const dispatchCSV = `C,SETTLEMENTDATE,header row
D,DISPATCH,PRICE,4,"2026/01/15 10:05:00",1,NSW1,20260115001,0,85.5
D,DISPATCH,PRICE,4,"2026/01/15 10:05:00",1,VIC1,20260115001,0,-12.0
D,DISPATCH,PRICE,4,"2026/01/15 10:05:00",1,NSW1,20260115001,1,999.0
D,DISPATCH,PRICE,4,"2026/01/15 10:05:00",1,XX99,20260115001,0,50.0
D,DISPATCH,PRICE,4,"2026/01/15 10:05:00",1,QLD1,20260115001,0,notanumber
`

func newDispatchServer(t *testing.T) *httptest.Server {
	t.Helper()
	archive := buildZip(t, "PUBLIC_DISPATCHIS_202601151005_1.CSV", dispatchCSV)
	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<a href="PUBLIC_DISPATCHIS_202601151000_1.zip">old</a>` +
			`<a href="PUBLIC_DISPATCHIS_202601151005_2.zip">new</a>`))
	})
	mux.HandleFunc("/dispatch/PUBLIC_DISPATCHIS_202601151005_2.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	return httptest.NewServer(mux)
}

func TestAEMOCurrentPricesFromDispatchFile(t *testing.T) {
	srv := newDispatchServer(t)
	defer srv.Close()

	a := NewAEMO(AEMOOptions{
		DispatchURL: srv.URL + "/dispatch/",
		SummaryURL:  srv.URL + "/missing",
	}, noopLogger())

	prices, err := a.CurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("CurrentPrices failed: %v", err)
	}

	nsw, ok := prices["NSW1"]
	if !ok {
		t.Fatalf("expected NSW1 price, got %v", prices)
	}
	if nsw.Price != 85.5 {
		t.Fatalf("expected RRP 85.5 $/MWh, got %v", nsw.Price)
	}
	if nsw.PriceCents != 8.55 {
		t.Fatalf("expected 8.55 c/kWh, got %v", nsw.PriceCents)
	}
	if nsw.Status != "FIRM" {
		t.Fatalf("dispatch prices are firm, got %q", nsw.Status)
	}
	if nsw.SettlementDate.IsZero() {
		t.Fatal("settlement date should parse")
	}

	// Negative prices pass through untouched.
	if vic := prices["VIC1"]; vic.PriceCents != -1.2 {
		t.Fatalf("expected VIC1 -1.2 c/kWh, got %v", vic.PriceCents)
	}

	// Intervention rows, unknown regions, and bad RRPs are skipped.
	if _, ok := prices["XX99"]; ok {
		t.Fatal("unknown region should be skipped")
	}
	if _, ok := prices["QLD1"]; ok {
		t.Fatal("row with unparseable RRP should be skipped")
	}
}

func TestAEMOCurrentPricesFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ELEC_NEM_SUMMARY":[
			{"REGIONID":"NSW1","PRICE":120.0,"SETTLEMENTDATE":"2026/01/15 10:05:00","TOTALDEMAND":8000,"PRICESTATUS":"FIRM"},
			{"REGIONID":"BAD1","PRICE":1.0,"SETTLEMENTDATE":"2026/01/15 10:05:00","TOTALDEMAND":1,"PRICESTATUS":"FIRM"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewAEMO(AEMOOptions{
		DispatchURL: srv.URL + "/dispatch/",
		SummaryURL:  srv.URL + "/summary",
	}, noopLogger())

	prices, err := a.CurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("expected 1 region from fallback, got %d", len(prices))
	}
	if prices["NSW1"].PriceCents != 12.0 {
		t.Fatalf("expected 12.0 c/kWh from fallback, got %v", prices["NSW1"].PriceCents)
	}
	if prices["NSW1"].Demand != 8000 {
		t.Fatalf("expected demand 8000, got %v", prices["NSW1"].Demand)
	}
}

func TestAEMOCurrentPricesTotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAEMO(AEMOOptions{
		DispatchURL: srv.URL + "/dispatch/",
		SummaryURL:  srv.URL + "/summary",
	}, noopLogger())

	prices, err := a.CurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("total failure must degrade, not error: %v", err)
	}
	if len(prices) != 0 {
		t.Fatalf("expected empty map, got %v", prices)
	}
}

const predispatchCSV = `C,header
D,PDREGION,,5,20260115001,1,NSW1,"2026/01/15 11:00:00",90.0
D,PDREGION,,5,20260115001,1,NSW1,"2026/01/15 10:30:00",80.0
D,PDREGION,,5,20260115001,1,NSW1,"2026/01/15 10:30:00",81.0
D,PDREGION,,5,20260115001,1,VIC1,"2026/01/15 10:30:00",70.0
`

func newPredispatchServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	archive := buildZip(t, "PUBLIC_PREDISPATCH_202601151030_20260115103000.CSV", predispatchCSV)
	mux := http.NewServeMux()
	mux.HandleFunc("/predispatch/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<a href="PUBLIC_PREDISPATCH_202601151030_20260115103000.zip">f</a>`))
	})
	mux.HandleFunc("/predispatch/PUBLIC_PREDISPATCH_202601151030_20260115103000.zip", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		_, _ = w.Write(archive)
	})
	return httptest.NewServer(mux)
}

func TestAEMOPriceForecast(t *testing.T) {
	srv := newPredispatchServer(t, nil)
	defer srv.Close()

	a := NewAEMO(AEMOOptions{PredispatchURL: srv.URL + "/predispatch/"}, noopLogger())

	periods, err := a.PriceForecast(context.Background(), "NSW1", 48)
	if err != nil {
		t.Fatalf("PriceForecast failed: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected 2 deduplicated NSW1 periods, got %d", len(periods))
	}
	if periods[0].NEMTime != "2026/01/15 10:30:00" {
		t.Fatalf("periods should be sorted ascending, got %q first", periods[0].NEMTime)
	}
	if periods[0].PerKwh == nil || *periods[0].PerKwh != 8.0 {
		t.Fatalf("expected 8.0 c/kWh, got %v", periods[0].PerKwh)
	}
	if periods[0].WholesalePerKwh == nil || *periods[0].WholesalePerKwh != 0.08 {
		t.Fatalf("expected 0.08 $/kWh, got %v", periods[0].WholesalePerKwh)
	}
}

func TestAEMOPriceForecastCached(t *testing.T) {
	hits := 0
	srv := newPredispatchServer(t, &hits)
	defer srv.Close()

	a := NewAEMO(AEMOOptions{
		PredispatchURL: srv.URL + "/predispatch/",
		ForecastTTL:    time.Hour,
	}, noopLogger())

	if _, err := a.PriceForecast(context.Background(), "NSW1", 48); err != nil {
		t.Fatalf("first forecast failed: %v", err)
	}
	if _, err := a.PriceForecast(context.Background(), "NSW1", 48); err != nil {
		t.Fatalf("second forecast failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected a single bulk download with a warm cache, got %d", hits)
	}
}

func TestAEMOPriceForecastStaleCacheOnFailure(t *testing.T) {
	srv := newPredispatchServer(t, nil)

	a := NewAEMO(AEMOOptions{
		PredispatchURL: srv.URL + "/predispatch/",
		ForecastTTL:    time.Nanosecond,
	}, noopLogger())

	periods, err := a.PriceForecast(context.Background(), "NSW1", 48)
	if err != nil || len(periods) != 2 {
		t.Fatalf("warm-up fetch failed: %v (%d periods)", err, len(periods))
	}

	srv.Close()
	time.Sleep(time.Millisecond)

	periods, err = a.PriceForecast(context.Background(), "NSW1", 48)
	if err != nil {
		t.Fatalf("stale cache path must not error: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected stale cached periods, got %d", len(periods))
	}
}

func TestAEMOPriceForecastTruncates(t *testing.T) {
	srv := newPredispatchServer(t, nil)
	defer srv.Close()

	a := NewAEMO(AEMOOptions{PredispatchURL: srv.URL + "/predispatch/"}, noopLogger())

	periods, err := a.PriceForecast(context.Background(), "NSW1", 1)
	if err != nil {
		t.Fatalf("PriceForecast failed: %v", err)
	}
	if len(periods) != 1 {
		t.Fatalf("expected truncation to 1 period, got %d", len(periods))
	}
}
