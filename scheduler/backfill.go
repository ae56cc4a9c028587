package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"powerflow/logger"
	"powerflow/models"
	"powerflow/parser"
	"powerflow/reader/miso"
)

// FileFailure records one report file the backfill could not land,
// with the ref it belongs to. Failed files never block the rest of
// the range.
type FileFailure struct {
	Ref models.FileRef
	Err error
}

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Files    int
	Parsed   int
	Upserted int
	Rejected int
	Failed   []FileFailure
}

// defaultBackfillReports are the families backfilled when the caller
// does not name any. The five-minute real-time price file is opt-in:
// its volume dwarfs the rest of the range.
func defaultBackfillReports() []models.Report {
	return []models.Report{
		models.ReportForecastAndLoad,
		models.ReportGenerationFuelMix,
		models.ReportDayaheadExanteLMP,
	}
}

// archiveCache deduplicates monthly zip downloads within one run.
// Every date in a month resolves to the same archive; fetching it
// thirty times would be pure waste.
type archiveCache struct {
	mu    sync.Mutex
	byURL map[string][]byte
}

func newArchiveCache() *archiveCache {
	return &archiveCache{byURL: map[string][]byte{}}
}

func (c *archiveCache) get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.byURL[url]
	return body, ok
}

func (c *archiveCache) put(url string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byURL[url] = body
}

// RunBackfill ingests the named report families over every market day
// in [from, to]. Files that cannot be fetched or parsed are recorded
// and skipped; the error is non-nil only when the run as a whole is
// broken (context expiry, or every single file failing).
func (s *Scheduler) RunBackfill(ctx context.Context, from, to time.Time, reports []models.Report) (*BackfillResult, error) {
	if to.Before(from) {
		return nil, errors.Errorf("backfill range is inverted: %s after %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	if len(reports) == 0 {
		reports = defaultBackfillReports()
	}

	var refs []models.FileRef
	for _, report := range reports {
		refs = append(refs, s.client.ListReportFiles(report, from, to)...)
	}

	log := s.log.WithFields(logger.Fields{
		"from":  from.Format("2006-01-02"),
		"to":    to.Format("2006-01-02"),
		"files": len(refs),
	})
	log.Info("backfill starting")

	result := &BackfillResult{Files: len(refs)}
	cache := newArchiveCache()
	var mu sync.Mutex
	sem := make(chan struct{}, s.cfg.Scheduler.MaxWorkers)
	var wg sync.WaitGroup

	for _, ref := range refs {
		wg.Add(1)
		go func(ref models.FileRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			upserted, rejected, err := s.ingestReportFile(ctx, ref, cache)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.IncrementFileFailed()
				result.Failed = append(result.Failed, FileFailure{Ref: ref, Err: err})
				return
			}
			logger.IncrementFileParsed()
			result.Parsed++
			result.Upserted += upserted
			result.Rejected += rejected
		}(ref)
	}
	wg.Wait()

	log.WithFields(logger.Fields{
		"parsed":   result.Parsed,
		"failed":   len(result.Failed),
		"upserted": result.Upserted,
		"rejected": result.Rejected,
	}).Info("backfill finished")

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if len(refs) > 0 && result.Parsed == 0 {
		return result, errors.Wrap(result.Failed[0].Err, "every report file failed")
	}
	return result, nil
}

// ingestReportFile lands one file end to end: fetch (or pull from the
// archive cache), parse, normalize, upsert.
func (s *Scheduler) ingestReportFile(ctx context.Context, ref models.FileRef, cache *archiveCache) (int, int, error) {
	body, resolved, err := s.fetchReportCached(ctx, ref, cache)
	if err != nil {
		return 0, 0, err
	}

	rows, err := parser.DecodeReportTable(resolved, body)
	if err != nil {
		return 0, 0, err
	}

	switch ref.Report {
	case models.ReportForecastAndLoad:
		// One file feeds two tables.
		loads, rejL := s.normalizer.LoadRecords(rows)
		forecasts, rejF := s.normalizer.ForecastRecords(rows)
		if err := s.store.UpsertLoad(ctx, loads); err != nil {
			return 0, 0, err
		}
		if err := s.store.UpsertForecast(ctx, forecasts); err != nil {
			return 0, 0, err
		}
		logger.RecordSeriesRows(string(models.SeriesLoad), len(rows), rejL, len(loads))
		logger.RecordSeriesRows(string(models.SeriesForecast), len(rows), rejF, len(forecasts))
		return len(loads) + len(forecasts), rejL + rejF, nil

	case models.ReportGenerationFuelMix:
		records, rej := s.normalizer.FuelMixRecords(rows)
		if err := s.store.UpsertFuelMix(ctx, records); err != nil {
			return 0, 0, err
		}
		logger.RecordSeriesRows(string(models.SeriesFuelMix), len(rows), rej, len(records))
		return len(records), rej, nil

	case models.ReportDayaheadExanteLMP, models.ReportDayaheadExpostLMP:
		records, rej := s.normalizer.LmpRecords(models.SeriesDayaheadLMP, rows, time.Hour)
		if err := s.store.UpsertLmp(ctx, models.SeriesDayaheadLMP, records); err != nil {
			return 0, 0, err
		}
		logger.RecordSeriesRows(string(models.SeriesDayaheadLMP), len(rows), rej, len(records))
		return len(records), rej, nil

	case models.ReportRealtimeExanteLMP:
		records, rej := s.normalizer.LmpRecords(models.SeriesRealtimeLMP, rows, 5*time.Minute)
		if err := s.store.UpsertLmp(ctx, models.SeriesRealtimeLMP, records); err != nil {
			return 0, 0, err
		}
		logger.RecordSeriesRows(string(models.SeriesRealtimeLMP), len(rows), rej, len(records))
		return len(records), rej, nil

	default:
		return 0, 0, errors.Errorf("report %s has no ingestion route", ref.Report)
	}
}

// fetchReportCached resolves one ref to file bytes, consulting the
// archive cache first so a month's worth of dates costs one download.
func (s *Scheduler) fetchReportCached(ctx context.Context, ref models.FileRef, cache *archiveCache) ([]byte, models.FileRef, error) {
	archiveRef := ref
	archiveRef.Archived = true
	archiveURL := s.archiveURL(ref)
	if body, ok := cache.get(archiveURL); ok {
		archiveRef.URL = archiveURL
		return body, archiveRef, nil
	}

	body, resolved, err := s.client.FetchReportFile(ctx, ref)
	if err != nil {
		return nil, ref, err
	}
	if resolved.Archived {
		cache.put(resolved.URL, body)
	}
	return body, resolved, nil
}

func (s *Scheduler) archiveURL(ref models.FileRef) string {
	name := miso.ReportFilename(ref.Report, ref.Date, true)
	return strings.TrimRight(s.cfg.Source.ReportsBaseURL, "/") + "/" + name
}
