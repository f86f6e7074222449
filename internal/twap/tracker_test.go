package twap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flowpower-sync/internal/storage"
)

type fakeHistoryStore struct {
	mu           sync.Mutex
	history      map[string][]storage.PriceSample
	loadErr      error
	replaceErr   error
	replaceCalls int
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{history: make(map[string][]storage.PriceSample)}
}

func (f *fakeHistoryStore) LoadHistory(ctx context.Context, region string) ([]storage.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]storage.PriceSample(nil), f.history[region]...), nil
}

func (f *fakeHistoryStore) ReplaceHistory(ctx context.Context, region string, samples []storage.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.history[region] = append([]storage.PriceSample(nil), samples...)
	return nil
}

func (f *fakeHistoryStore) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaceCalls
}

func (f *fakeHistoryStore) setReplaceErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceErr = err
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTWAPRequiresMinSamples(t *testing.T) {
	tr := New("NSW1", DefaultOptions(), nil, noopLogger())
	now := time.Now()

	for i := 0; i < 11; i++ {
		tr.Record(10.0, now.Add(time.Duration(i)*5*time.Minute))
	}
	if _, ok := tr.TWAP(); ok {
		t.Fatal("11 samples should not yield a TWAP")
	}

	tr.Record(10.0, now.Add(11*5*time.Minute))
	value, ok := tr.TWAP()
	if !ok {
		t.Fatal("12 samples should yield a TWAP")
	}
	if value != 10.0 {
		t.Fatalf("expected mean 10.0, got %v", value)
	}
}

func TestTWAPMeanRounded(t *testing.T) {
	opts := DefaultOptions()
	opts.MinSamples = 3
	tr := New("NSW1", opts, nil, noopLogger())
	now := time.Now()

	for i, price := range []float64{10.0, 10.0, 10.01} {
		tr.Record(price, now.Add(time.Duration(i)*5*time.Minute))
	}
	value, ok := tr.TWAP()
	if !ok {
		t.Fatal("expected a TWAP")
	}
	// (10 + 10 + 10.01) / 3 = 10.003..., rounded to 2 decimals.
	if value != 10.0 {
		t.Fatalf("expected 10.0, got %v", value)
	}
}

func TestRecordDedupsCloseSamples(t *testing.T) {
	tr := New("NSW1", DefaultOptions(), nil, noopLogger())
	now := time.Now()

	tr.Record(10.0, now)
	tr.Record(11.0, now.Add(100*time.Second))
	if got := tr.SampleCount(); got != 1 {
		t.Fatalf("sample within 240s should be dropped, have %d samples", got)
	}

	tr.Record(11.0, now.Add(241*time.Second))
	if got := tr.SampleCount(); got != 2 {
		t.Fatalf("sample past the gap should be kept, have %d samples", got)
	}
}

func TestRecordPrunesOldSamples(t *testing.T) {
	tr := New("NSW1", DefaultOptions(), nil, noopLogger())
	now := time.Now()

	tr.Record(10.0, now.Add(-31*24*time.Hour))
	tr.Record(11.0, now)
	if got := tr.SampleCount(); got != 1 {
		t.Fatalf("expected the 31-day-old sample pruned, have %d samples", got)
	}
}

func TestLoadPrunesPersistedHistory(t *testing.T) {
	store := newFakeHistoryStore()
	now := time.Now()
	store.history["NSW1"] = []storage.PriceSample{
		{TS: now.Add(-40 * 24 * time.Hour).Unix(), Price: 5.0},
		{TS: now.Add(-1 * 24 * time.Hour).Unix(), Price: 6.0},
	}

	tr := New("NSW1", DefaultOptions(), store, noopLogger())
	if err := tr.Load(context.Background(), now); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := tr.SampleCount(); got != 1 {
		t.Fatalf("expected 1 sample after prune, got %d", got)
	}
}

func TestLoadFailureLeavesTrackerEmpty(t *testing.T) {
	store := newFakeHistoryStore()
	store.loadErr = errors.New("connection refused")

	tr := New("NSW1", DefaultOptions(), store, noopLogger())
	if err := tr.Load(context.Background(), time.Now()); err == nil {
		t.Fatal("expected load error")
	}
	if tr.SampleCount() != 0 {
		t.Fatal("tracker should start empty after a failed load")
	}
}

func TestFlushRoundTrip(t *testing.T) {
	store := newFakeHistoryStore()
	tr := New("NSW1", DefaultOptions(), store, noopLogger())
	now := time.Now()
	if err := tr.Load(context.Background(), now); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	tr.Record(10.123, now)
	tr.Record(11.0, now.Add(5*time.Minute))
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	reloaded := New("NSW1", DefaultOptions(), store, noopLogger())
	if err := reloaded.Load(context.Background(), now.Add(5*time.Minute)); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.SampleCount(); got != 2 {
		t.Fatalf("expected 2 samples after round trip, got %d", got)
	}

	// Prices are stored rounded to 2 decimals.
	samples, _ := store.LoadHistory(context.Background(), "NSW1")
	if samples[0].Price != 10.12 {
		t.Fatalf("expected stored price 10.12, got %v", samples[0].Price)
	}
}

func waitForReplaceCalls(t *testing.T, store *fakeHistoryStore, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.replaceCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d background writes, got %d", want, store.replaceCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForClean(t *testing.T, tr *Tracker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		clean := !tr.dirty
		tr.mu.Unlock()
		if clean {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("tracker never marked clean after the background persist")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordPersistsPastSaveCadence(t *testing.T) {
	store := newFakeHistoryStore()
	opts := DefaultOptions()
	opts.SaveInterval = time.Second
	tr := New("NSW1", opts, store, noopLogger())
	now := time.Now()
	if err := tr.Load(context.Background(), now); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Within the save window: no write scheduled.
	tr.Record(10.0, now)
	if got := store.replaceCount(); got != 0 {
		t.Fatalf("no persist expected inside the save window, got %d writes", got)
	}

	tr.Record(11.0, now.Add(5*time.Minute))
	waitForReplaceCalls(t, store, 1)
	waitForClean(t, tr)

	samples, err := store.LoadHistory(context.Background(), "NSW1")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected both samples persisted, got %d", len(samples))
	}

	// The persist cleared the dirty flag, so shutdown has nothing to write.
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if got := store.replaceCount(); got != 1 {
		t.Fatalf("flush of a clean tracker should not write again, got %d writes", got)
	}
}

func TestFailedPersistLeavesDirtyForFlush(t *testing.T) {
	store := newFakeHistoryStore()
	store.setReplaceErr(errors.New("connection refused"))
	opts := DefaultOptions()
	opts.SaveInterval = time.Second
	tr := New("NSW1", opts, store, noopLogger())
	now := time.Now()
	if err := tr.Load(context.Background(), now); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	tr.Record(10.0, now.Add(5*time.Minute))
	waitForReplaceCalls(t, store, 1)

	if _, ok := store.history["NSW1"]; ok {
		t.Fatal("failed write should not reach the store")
	}

	store.setReplaceErr(nil)
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush should retry the failed write: %v", err)
	}
	samples, err := store.LoadHistory(context.Background(), "NSW1")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected the sample persisted by flush, got %d", len(samples))
	}
}

func TestFlushNoopWhenClean(t *testing.T) {
	store := newFakeHistoryStore()
	tr := New("NSW1", DefaultOptions(), store, noopLogger())
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush of a clean tracker should be a no-op: %v", err)
	}
	if _, ok := store.history["NSW1"]; ok {
		t.Fatal("no write expected for a clean tracker")
	}
}

func TestAgeDays(t *testing.T) {
	tr := New("NSW1", DefaultOptions(), nil, noopLogger())
	now := time.Now()

	if got := tr.AgeDays(now); got != 0 {
		t.Fatalf("empty tracker age should be 0, got %v", got)
	}

	tr.Record(10.0, now.Add(-36*time.Hour))
	if got := tr.AgeDays(now); got != 1.5 {
		t.Fatalf("expected age 1.5 days, got %v", got)
	}
}
