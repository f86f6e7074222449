package pricing

import (
	"testing"
	"time"
)

func exportAt(t *testing.T, region string, hour, minute, sec int) ExportPriceInfo {
	t.Helper()
	loc := time.FixedZone("AEST", 10*3600)
	now := time.Date(2026, 1, 15, hour, minute, sec, 0, loc)
	return ExportPrice(region, now, loc)
}

func TestExportPriceWindowBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		hour, min int
		sec       int
		want      float64
		happy     bool
	}{
		{"one second before start", 17, 29, 59, 0, false},
		{"window start", 17, 30, 0, 45.0, true},
		{"mid window", 18, 15, 0, 45.0, true},
		{"one second before end", 19, 29, 59, 45.0, true},
		{"window end", 19, 30, 0, 0, false},
		{"midnight", 0, 0, 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := exportAt(t, "NSW1", tc.hour, tc.min, tc.sec)
			if info.IsHappyHour != tc.happy {
				t.Fatalf("IsHappyHour = %t, want %t", info.IsHappyHour, tc.happy)
			}
			if info.ExportCents != tc.want {
				t.Fatalf("ExportCents = %v, want %v", info.ExportCents, tc.want)
			}
		})
	}
}

func TestExportPriceRegionalRates(t *testing.T) {
	if info := exportAt(t, "VIC1", 18, 0, 0); info.ExportCents != 35.0 {
		t.Fatalf("VIC1 should pay 35 c/kWh in the window, got %v", info.ExportCents)
	}
	if info := exportAt(t, "QLD1", 18, 0, 0); info.ExportCents != 45.0 {
		t.Fatalf("QLD1 should pay 45 c/kWh in the window, got %v", info.ExportCents)
	}
	info := exportAt(t, "TAS1", 18, 0, 0)
	if info.ExportCents != 0 {
		t.Fatalf("TAS1 has no Happy Hour rate, got %v", info.ExportCents)
	}
	if !info.IsHappyHour {
		t.Fatal("the window itself still applies in TAS1")
	}
}

func TestExportPriceDollarsMatchCents(t *testing.T) {
	info := exportAt(t, "NSW1", 18, 0, 0)
	if info.ExportDollars != 0.45 {
		t.Fatalf("ExportDollars = %v, want 0.45", info.ExportDollars)
	}
	if info.HappyHourStart != "17:30" || info.HappyHourEnd != "19:30" {
		t.Fatalf("window metadata wrong: %+v", info)
	}
}

func TestExportPriceOutsideWindowKeepsMetadata(t *testing.T) {
	info := exportAt(t, "NSW1", 12, 0, 0)
	if info.HappyHourRate != 0.45 {
		t.Fatalf("rate metadata should be present outside the window, got %v", info.HappyHourRate)
	}
	if info.ExportCents != 0 || info.ExportDollars != 0 {
		t.Fatalf("no export payment outside the window: %+v", info)
	}
}
