package scheduler

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"powerflow/config"
	"powerflow/models"
	"powerflow/processor"
	"powerflow/reader/miso"
)

type lmpKey struct {
	interval models.Interval
	hub      models.Hub
}

// fakeStore keeps records keyed the way the real tables are, so
// re-upserting the same intervals overwrites instead of growing.
type fakeStore struct {
	mu         sync.Mutex
	loads      map[models.Interval]float64
	forecasts  map[models.Interval]float64
	fuel       map[models.Interval]models.FuelMixRecord
	lmps       map[models.Series]map[lmpKey]models.LmpRecord
	watermarks map[models.Series]time.Time
	failAll    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		loads:      map[models.Interval]float64{},
		forecasts:  map[models.Interval]float64{},
		fuel:       map[models.Interval]models.FuelMixRecord{},
		lmps:       map[models.Series]map[lmpKey]models.LmpRecord{},
		watermarks: map[models.Series]time.Time{},
	}
}

func (f *fakeStore) advance(series models.Series, end time.Time) {
	if end.After(f.watermarks[series]) {
		f.watermarks[series] = end
	}
}

func (f *fakeStore) UpsertLoad(ctx context.Context, records []models.LoadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	for _, r := range records {
		f.loads[r.Interval] = r.Load
		f.advance(models.SeriesLoad, r.Interval.End)
	}
	return nil
}

func (f *fakeStore) UpsertForecast(ctx context.Context, records []models.ForecastRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	for _, r := range records {
		f.forecasts[r.Interval] = r.Forecast
		f.advance(models.SeriesForecast, r.Interval.End)
	}
	return nil
}

func (f *fakeStore) UpsertFuelMix(ctx context.Context, records []models.FuelMixRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	for _, r := range records {
		f.fuel[r.Interval] = r
		f.advance(models.SeriesFuelMix, r.Interval.End)
	}
	return nil
}

func (f *fakeStore) UpsertLmp(ctx context.Context, series models.Series, records []models.LmpRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	if f.lmps[series] == nil {
		f.lmps[series] = map[lmpKey]models.LmpRecord{}
	}
	for _, r := range records {
		f.lmps[series][lmpKey{r.Interval, r.Hub}] = r
		f.advance(series, r.Interval.End)
	}
	return nil
}

func (f *fakeStore) Watermark(ctx context.Context, series models.Series) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wm, ok := f.watermarks[series]
	return wm, ok, nil
}

func boolPtr(v bool) *bool { return &v }

func testConfig(serverURL string, series config.SeriesConfig) *config.Config {
	cfg := &config.Config{}
	cfg.Reader.Timeout = 5 * time.Second
	cfg.Reader.MaxConcurrent = 4
	cfg.Reader.ConnectionPool.MaxIdleConns = 4
	cfg.Reader.ConnectionPool.MaxConnsPerHost = 4
	cfg.Reader.ConnectionPool.IdleConnTimeout = time.Minute
	cfg.Reader.RateLimit.RequestsPerSecond = 1000
	cfg.Reader.RateLimit.BurstSize = 100
	cfg.Reader.Retry.MaxAttempts = 2
	cfg.Reader.Retry.BaseDelay = time.Millisecond
	cfg.Reader.Retry.MaxDelay = 2 * time.Millisecond
	cfg.Reader.Retry.MaxJitter = time.Millisecond
	cfg.Source.LoadURL = serverURL + "/load"
	cfg.Source.FuelMixURL = serverURL + "/fuelmix"
	cfg.Source.LmpURL = serverURL + "/lmp"
	cfg.Source.ReportsBaseURL = serverURL + "/marketreports"
	cfg.Scheduler.CycleDeadline = 10 * time.Second
	cfg.Scheduler.MaxWorkers = 4
	cfg.Scheduler.Series = series
	return cfg
}

func newTestScheduler(serverURL string, series config.SeriesConfig, store Store) *Scheduler {
	cfg := testConfig(serverURL, series)
	return New(cfg, miso.NewClient(cfg), processor.NewNormalizer(), store)
}

const loadBody = `{
  "LoadInfo": {
    "RefId": "15-Jan-2024 - Interval 13:05 EST",
    "FiveMinTotalLoad": [
      {"Load": {"Time": "13:00", "Value": 81234.5}},
      {"Load": {"Time": "13:05", "Value": 81301.2}}
    ],
    "MediumTermLoadForecast": [
      {"Forecast": {"HourEnding": 14, "LoadForecast": 82000}}
    ]
  }
}`

func onlySeries(enabled ...models.Series) config.SeriesConfig {
	on := map[models.Series]bool{}
	for _, s := range enabled {
		on[s] = true
	}
	return config.SeriesConfig{
		Load:        boolPtr(on[models.SeriesLoad]),
		Forecast:    boolPtr(on[models.SeriesForecast]),
		FuelMix:     boolPtr(on[models.SeriesFuelMix]),
		RealtimeLMP: boolPtr(on[models.SeriesRealtimeLMP]),
		DayaheadLMP: boolPtr(on[models.SeriesDayaheadLMP]),
	}
}

func TestRunCycleIngestsAndStaysIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/load":
			w.Write([]byte(loadBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := newFakeStore()
	sched := newTestScheduler(server.URL, onlySeries(models.SeriesLoad, models.SeriesForecast), store)

	results, err := sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 series results, got %d", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("series %s failed: %v", res.Series, res.Err)
		}
		if res.Stage != StageDone {
			t.Errorf("series %s stopped at %s", res.Series, res.Stage)
		}
	}
	if len(store.loads) != 2 {
		t.Errorf("expected 2 load intervals, got %d", len(store.loads))
	}
	if len(store.forecasts) != 1 {
		t.Errorf("expected 1 forecast interval, got %d", len(store.forecasts))
	}

	// Same payload again: keys collide, nothing duplicates.
	if _, err := sched.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if len(store.loads) != 2 || len(store.forecasts) != 1 {
		t.Errorf("re-ingestion duplicated rows: %d loads, %d forecasts", len(store.loads), len(store.forecasts))
	}

	wm, ok, _ := store.Watermark(context.Background(), models.SeriesLoad)
	if !ok || wm.IsZero() {
		t.Error("watermark should advance with upserts")
	}
}

func TestRunCycleIsolatesSeriesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/load":
			w.Write([]byte(loadBody))
		case "/fuelmix":
			http.Error(w, "down", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := newFakeStore()
	sched := newTestScheduler(server.URL, onlySeries(models.SeriesLoad, models.SeriesFuelMix), store)

	results, err := sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("a single failing series must not fail the cycle: %v", err)
	}
	var loadRes, fuelRes *SeriesResult
	for i := range results {
		switch results[i].Series {
		case models.SeriesLoad:
			loadRes = &results[i]
		case models.SeriesFuelMix:
			fuelRes = &results[i]
		}
	}
	if loadRes == nil || loadRes.Err != nil {
		t.Error("load series should have succeeded")
	}
	if fuelRes == nil || fuelRes.Err == nil {
		t.Error("fuel mix series should have failed")
	}
	if fuelRes != nil && fuelRes.Stage != StageFetching {
		t.Errorf("fuel mix should have died fetching, got %s", fuelRes.Stage)
	}
}

func TestRunCycleFailsWhenEverySeriesFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(loadBody))
	}))
	defer server.Close()

	store := newFakeStore()
	store.failAll = true
	sched := newTestScheduler(server.URL, onlySeries(models.SeriesLoad, models.SeriesForecast), store)

	if _, err := sched.RunCycle(context.Background()); err == nil {
		t.Fatal("cycle must fail when every series fails")
	}
}

func dayaheadReportCSV(date string) string {
	var b strings.Builder
	b.WriteString("Day-Ahead Market LMPs\n")
	b.WriteString(date + "\n\n")
	b.WriteString("Node,Value")
	for he := 1; he <= 24; he++ {
		fmt.Fprintf(&b, ",HE %d", he)
	}
	b.WriteString("\n")
	for _, component := range []string{"LMP", "MCC", "MLC"} {
		b.WriteString("ARKANSAS.HUB," + component)
		for he := 1; he <= 24; he++ {
			fmt.Fprintf(&b, ",%d.0", he)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestRunBackfillSkipsBadFilesAndLandsTheRest(t *testing.T) {
	// Five daily files; the third is corrupt.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/marketreports/20240101_da_exante_lmp.csv":
			w.Write([]byte(dayaheadReportCSV("01/01/2024")))
		case "/marketreports/20240102_da_exante_lmp.csv":
			w.Write([]byte(dayaheadReportCSV("01/02/2024")))
		case "/marketreports/20240103_da_exante_lmp.csv":
			w.Write([]byte("garbage with no usable header\n"))
		case "/marketreports/20240104_da_exante_lmp.csv":
			w.Write([]byte(dayaheadReportCSV("01/04/2024")))
		case "/marketreports/20240105_da_exante_lmp.csv":
			w.Write([]byte(dayaheadReportCSV("01/05/2024")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := newFakeStore()
	sched := newTestScheduler(server.URL, config.SeriesConfig{}, store)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, models.EST)
	to := time.Date(2024, 1, 5, 0, 0, 0, 0, models.EST)
	result, err := sched.RunBackfill(context.Background(), from, to, []models.Report{models.ReportDayaheadExanteLMP})
	if err != nil {
		t.Fatalf("RunBackfill failed: %v", err)
	}
	if result.Files != 5 || result.Parsed != 4 {
		t.Errorf("expected 4/5 files parsed, got %d/%d", result.Parsed, result.Files)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(result.Failed))
	}
	if result.Failed[0].Ref.Date.Day() != 3 {
		t.Errorf("wrong file recorded as failed: %v", result.Failed[0].Ref.Date)
	}
	// 4 good days x 24 hours x 1 hub.
	if got := len(store.lmps[models.SeriesDayaheadLMP]); got != 96 {
		t.Errorf("expected 96 day-ahead records, got %d", got)
	}
}

func TestRunBackfillFetchesMonthlyArchiveOnce(t *testing.T) {
	var archiveHits int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/marketreports/202401_da_exante_lmp_csv.zip" {
			mu.Lock()
			archiveHits++
			mu.Unlock()
			w.Write(zipWithMembers(map[string]string{
				"20240110_da_exante_lmp.csv": dayaheadReportCSV("01/10/2024"),
				"20240111_da_exante_lmp.csv": dayaheadReportCSV("01/11/2024"),
				"20240112_da_exante_lmp.csv": dayaheadReportCSV("01/12/2024"),
			}))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := newFakeStore()
	cfg := testConfig(server.URL, config.SeriesConfig{})
	cfg.Scheduler.MaxWorkers = 1 // serialize so the cache is warm for later dates
	sched := New(cfg, miso.NewClient(cfg), processor.NewNormalizer(), store)

	from := time.Date(2024, 1, 10, 0, 0, 0, 0, models.EST)
	to := time.Date(2024, 1, 12, 0, 0, 0, 0, models.EST)
	result, err := sched.RunBackfill(context.Background(), from, to, []models.Report{models.ReportDayaheadExanteLMP})
	if err != nil {
		t.Fatalf("RunBackfill failed: %v", err)
	}
	if result.Parsed != 3 {
		t.Errorf("expected 3 parsed files, got %d", result.Parsed)
	}
	if archiveHits != 1 {
		t.Errorf("monthly archive should download once, got %d hits", archiveHits)
	}
}

func zipWithMembers(members map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, _ := zw.Create(name)
		w.Write([]byte(content))
	}
	zw.Close()
	return buf.Bytes()
}

func TestRunBackfillRejectsInvertedRange(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler("http://localhost:1", config.SeriesConfig{}, store)
	from := time.Date(2024, 1, 5, 0, 0, 0, 0, models.EST)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, models.EST)
	if _, err := sched.RunBackfill(context.Background(), from, to, nil); err == nil {
		t.Fatal("inverted range must be rejected")
	}
}
