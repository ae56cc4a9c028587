// Package scheduler drives ingestion: per-series cycles for the
// real-time feeds and date-ranged backfills over the market report
// archive. Series are independent; one failing never stalls the rest.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"powerflow/config"
	"powerflow/logger"
	"powerflow/models"
	"powerflow/parser"
	"powerflow/processor"
	"powerflow/reader/miso"
)

// Store is the record sink a scheduler drains into.
type Store interface {
	UpsertLoad(ctx context.Context, records []models.LoadRecord) error
	UpsertForecast(ctx context.Context, records []models.ForecastRecord) error
	UpsertFuelMix(ctx context.Context, records []models.FuelMixRecord) error
	UpsertLmp(ctx context.Context, series models.Series, records []models.LmpRecord) error
	Watermark(ctx context.Context, series models.Series) (time.Time, bool, error)
}

// Stage names where in its pipeline a series currently is. It is
// carried in logs and results so a failure names the step it died in.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageFetching    Stage = "fetching"
	StageParsing     Stage = "parsing"
	StageNormalizing Stage = "normalizing"
	StagePersisting  Stage = "persisting"
	StageDone        Stage = "done"
)

// SeriesResult is the outcome of one series within one cycle.
type SeriesResult struct {
	Series   models.Series
	Stage    Stage
	Fetched  int
	Rejected int
	Upserted int
	Err      error
}

// Scheduler wires the client, normalizer and store into runs.
type Scheduler struct {
	cfg        *config.Config
	client     *miso.Client
	normalizer *processor.Normalizer
	store      Store
	log        *logger.Entry
}

func New(cfg *config.Config, client *miso.Client, normalizer *processor.Normalizer, store Store) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		client:     client,
		normalizer: normalizer,
		store:      store,
		log:        logger.GetLogger().WithComponent("scheduler"),
	}
}

func (s *Scheduler) enabledSeries() []models.Series {
	toggles := s.cfg.Scheduler.Series
	var enabled []models.Series
	for _, series := range models.AllSeries() {
		var toggle *bool
		switch series {
		case models.SeriesLoad:
			toggle = toggles.Load
		case models.SeriesForecast:
			toggle = toggles.Forecast
		case models.SeriesFuelMix:
			toggle = toggles.FuelMix
		case models.SeriesRealtimeLMP:
			toggle = toggles.RealtimeLMP
		case models.SeriesDayaheadLMP:
			toggle = toggles.DayaheadLMP
		}
		if config.SeriesEnabled(toggle) {
			enabled = append(enabled, series)
		}
	}
	return enabled
}

// RunCycle ingests every enabled series once, under the configured
// deadline and worker cap. It returns per-series outcomes; the error
// is non-nil only when every series failed, so a partially degraded
// source still counts as a working cycle.
func (s *Scheduler) RunCycle(ctx context.Context) ([]SeriesResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.CycleDeadline)
	defer cancel()

	cycleID := uuid.New().String()
	enabled := s.enabledSeries()
	log := s.log.WithFields(logger.Fields{"cycle_id": cycleID})
	log.WithFields(logger.Fields{"series_count": len(enabled)}).Info("cycle starting")
	started := time.Now()

	results := make([]SeriesResult, len(enabled))
	sem := make(chan struct{}, s.cfg.Scheduler.MaxWorkers)
	var wg sync.WaitGroup
	for i, series := range enabled {
		wg.Add(1)
		go func(i int, series models.Series) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.runSeries(ctx, cycleID, series)
		}(i, series)
	}
	wg.Wait()

	logger.IncrementCycle()

	failed := 0
	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		}
	}
	log.WithFields(logger.Fields{
		"duration_ms": time.Since(started).Milliseconds(),
		"failed":      failed,
	}).Info("cycle finished")

	if len(results) > 0 && failed == len(results) {
		return results, errors.Wrap(firstErr, "every series failed")
	}
	return results, nil
}

func (s *Scheduler) runSeries(ctx context.Context, cycleID string, series models.Series) SeriesResult {
	res := SeriesResult{Series: series, Stage: StageIdle}
	log := s.log.WithFields(logger.Fields{"cycle_id": cycleID, "series": string(series)})

	fail := func(err error) SeriesResult {
		res.Err = err
		log.WithError(err).WithFields(logger.Fields{"stage": string(res.Stage)}).Error("series failed")
		return res
	}

	var rows []models.RawRow
	if series == models.SeriesDayaheadLMP {
		res.Stage = StageFetching
		fetched, err := s.fetchDayaheadRows(ctx)
		if err != nil {
			return fail(err)
		}
		rows = fetched
	} else {
		res.Stage = StageFetching
		payload, err := s.client.FetchRealtime(ctx, series)
		if err != nil {
			return fail(err)
		}
		res.Stage = StageParsing
		parsed, err := parser.DecodeRows(payload)
		if err != nil {
			return fail(err)
		}
		rows = parsed
	}
	res.Fetched = len(rows)

	res.Stage = StageNormalizing
	var persist func(context.Context) error
	var upserted, rejected int
	switch series {
	case models.SeriesLoad:
		records, rej := s.normalizer.LoadRecords(rows)
		upserted, rejected = len(records), rej
		persist = func(ctx context.Context) error { return s.store.UpsertLoad(ctx, records) }
	case models.SeriesForecast:
		records, rej := s.normalizer.ForecastRecords(rows)
		upserted, rejected = len(records), rej
		persist = func(ctx context.Context) error { return s.store.UpsertForecast(ctx, records) }
	case models.SeriesFuelMix:
		records, rej := s.normalizer.FuelMixRecords(rows)
		upserted, rejected = len(records), rej
		persist = func(ctx context.Context) error { return s.store.UpsertFuelMix(ctx, records) }
	case models.SeriesRealtimeLMP:
		records, rej := s.normalizer.LmpRecords(series, rows, 5*time.Minute)
		upserted, rejected = len(records), rej
		persist = func(ctx context.Context) error { return s.store.UpsertLmp(ctx, series, records) }
	case models.SeriesDayaheadLMP:
		records, rej := s.normalizer.LmpRecords(series, rows, time.Hour)
		upserted, rejected = len(records), rej
		persist = func(ctx context.Context) error { return s.store.UpsertLmp(ctx, series, records) }
	}

	res.Stage = StagePersisting
	if err := persist(ctx); err != nil {
		return fail(err)
	}

	res.Rejected = rejected
	res.Upserted = upserted
	res.Stage = StageDone
	logger.RecordSeriesRows(string(series), res.Fetched, rejected, upserted)
	log.WithFields(logger.Fields{
		"fetched":  res.Fetched,
		"rejected": rejected,
		"upserted": upserted,
	}).Info("series ingested")
	return res
}

// fetchDayaheadRows pulls today's day-ahead price file. Day-ahead
// prices publish as a market report, not a live endpoint, so the
// cycle path and the backfill path share the file machinery.
func (s *Scheduler) fetchDayaheadRows(ctx context.Context) ([]models.RawRow, error) {
	today := time.Now().In(models.EST)
	refs := s.client.ListReportFiles(models.ReportDayaheadExanteLMP, today, today)
	if len(refs) == 0 {
		return nil, errors.New("no day-ahead file ref for today")
	}
	body, ref, err := s.client.FetchReportFile(ctx, refs[0])
	if err != nil {
		return nil, err
	}
	rows, err := parser.DecodeReportTable(ref, body)
	if err != nil {
		logger.IncrementFileFailed()
		return nil, err
	}
	logger.IncrementFileParsed()
	return rows, nil
}
