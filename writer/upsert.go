package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"powerflow/logger"
	"powerflow/models"
)

type upsertSpec struct {
	table   string
	series  models.Series
	colDefs string
	columns []string
	keys    []string
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

// upsert lands one batch: copy into a session temp table, then insert
// with conflict-update into the real table, then advance the series
// watermark. All three happen in one transaction so a batch is either
// fully visible or not at all.
func (s *Store) upsert(ctx context.Context, spec upsertSpec, rows [][]any, maxEnd time.Time) error {
	tmp := uniqueTableName(spec.table)

	var updates []string
	keySet := map[string]bool{}
	for _, k := range spec.keys {
		keySet[k] = true
	}
	for _, c := range spec.columns {
		if !keySet[c] {
			updates = append(updates, fmt.Sprintf(`"%s" = EXCLUDED."%s"`, c, c))
		}
	}

	err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		createStmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s) ON COMMIT DROP", tmp, spec.colDefs)
		if _, err := tx.Exec(ctx, createStmt); err != nil {
			return err
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, spec.columns, pgx.CopyFromRows(rows)); err != nil {
			return err
		}

		upsertStmt := fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
			spec.table,
			quoteColumns(spec.columns),
			quoteColumns(spec.columns),
			tmp,
			quoteColumns(spec.keys),
			strings.Join(updates, ", "),
		)
		if _, err := tx.Exec(ctx, upsertStmt); err != nil {
			return err
		}

		return setWatermark(ctx, tx, spec.series, maxEnd)
	})
	if err != nil {
		return persistenceErr("upsert_"+spec.table, err)
	}

	s.log.WithFields(logger.Fields{
		"table":     spec.table,
		"rows":      len(rows),
		"watermark": maxEnd.Format(time.RFC3339),
	}).Info("batch upserted")
	return nil
}

var intervalKeys = []string{"start", "end"}

// UpsertLoad lands a batch of load observations.
func (s *Store) UpsertLoad(ctx context.Context, records []models.LoadRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	var maxEnd time.Time
	for i, r := range records {
		rows[i] = []any{r.Interval.Start, r.Interval.End, r.Load}
		if r.Interval.End.After(maxEnd) {
			maxEnd = r.Interval.End
		}
	}
	return s.upsert(ctx, upsertSpec{
		table:   "load",
		series:  models.SeriesLoad,
		colDefs: `start timestamptz, "end" timestamptz, load double precision`,
		columns: []string{"start", "end", "load"},
		keys:    intervalKeys,
	}, rows, maxEnd)
}

// UpsertForecast lands a batch of load-forecast values.
func (s *Store) UpsertForecast(ctx context.Context, records []models.ForecastRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	var maxEnd time.Time
	for i, r := range records {
		rows[i] = []any{r.Interval.Start, r.Interval.End, r.Forecast}
		if r.Interval.End.After(maxEnd) {
			maxEnd = r.Interval.End
		}
	}
	return s.upsert(ctx, upsertSpec{
		table:   "forecast",
		series:  models.SeriesForecast,
		colDefs: `start timestamptz, "end" timestamptz, forecast double precision`,
		columns: []string{"start", "end", "forecast"},
		keys:    intervalKeys,
	}, rows, maxEnd)
}

// UpsertFuelMix lands a batch of generation-mix observations. Nil
// fuel fields become NULL, preserving "not reported" through re-runs.
func (s *Store) UpsertFuelMix(ctx context.Context, records []models.FuelMixRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	var maxEnd time.Time
	for i, r := range records {
		rows[i] = []any{
			r.Interval.Start, r.Interval.End,
			r.Nuclear, r.Coal, r.NaturalGas, r.Wind,
			r.Solar, r.Imports, r.Other, r.Total,
		}
		if r.Interval.End.After(maxEnd) {
			maxEnd = r.Interval.End
		}
	}
	return s.upsert(ctx, upsertSpec{
		table:  "fuelmix",
		series: models.SeriesFuelMix,
		colDefs: `start timestamptz, "end" timestamptz,
			nuclear double precision, coal double precision,
			natural_gas double precision, wind double precision,
			solar double precision, imports double precision,
			other double precision, total double precision`,
		columns: []string{
			"start", "end", "nuclear", "coal", "natural_gas",
			"wind", "solar", "imports", "other", "total",
		},
		keys: intervalKeys,
	}, rows, maxEnd)
}

// UpsertLmp lands a batch of nodal prices into the table the series
// maps to. Only the two LMP series are valid here.
func (s *Store) UpsertLmp(ctx context.Context, series models.Series, records []models.LmpRecord) error {
	if series != models.SeriesRealtimeLMP && series != models.SeriesDayaheadLMP {
		return persistenceErr("upsert_lmp", fmt.Errorf("series %s is not an LMP series", series))
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	var maxEnd time.Time
	for i, r := range records {
		rows[i] = []any{r.Interval.Start, r.Interval.End, string(r.Hub), r.Lmp, r.Mcc, r.Mlc}
		if r.Interval.End.After(maxEnd) {
			maxEnd = r.Interval.End
		}
	}
	return s.upsert(ctx, upsertSpec{
		table:  string(series),
		series: series,
		colDefs: `start timestamptz, "end" timestamptz, node text,
			lmp double precision, mcc double precision, mlc double precision`,
		columns: []string{"start", "end", "node", "lmp", "mcc", "mlc"},
		keys:    []string{"start", "end", "node"},
	}, rows, maxEnd)
}

// Watermark reports how far a series has been ingested: the greatest
// interval end ever committed for it. ok is false when the series has
// never landed a batch.
func (s *Store) Watermark(ctx context.Context, series models.Series) (time.Time, bool, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT last_end FROM ingest_watermark WHERE series = $1", string(series),
	).Scan(&last)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, persistenceErr("watermark", err)
	}
	return last.UTC(), true, nil
}

// setWatermark advances the series high-water mark, monotonically:
// backfilling older intervals never moves it backwards.
func setWatermark(ctx context.Context, tx pgx.Tx, series models.Series, end time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ingest_watermark (series, last_end, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (series) DO UPDATE SET
			last_end = GREATEST(ingest_watermark.last_end, EXCLUDED.last_end),
			updated_at = EXCLUDED.updated_at`,
		string(series), end, time.Now().UTC(),
	)
	return err
}
