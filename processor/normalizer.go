// Package processor converts raw parser rows into validated, typed
// records. Every semantic rule lives here: market-time to UTC,
// hub-name reconciliation, numeric plausibility. Bad rows are
// rejected and counted one at a time, never whole batches.
package processor

import (
	"strings"
	"time"

	"powerflow/logger"
	"powerflow/models"
	"powerflow/parser"
)

// hubAliases reconciles node spellings that drifted across report
// vintages onto the canonical hub names. Names that do not resolve
// are rejected, never coerced.
var hubAliases = map[string]models.Hub{
	"MINNESOTA.HUB":   models.HubMinn,
	"MINNESOTA HUB":   models.HubMinn,
	"MINN HUB":        models.HubMinn,
	"MISSISSIPPI.HUB": models.HubMs,
	"MISSISSIPPI HUB": models.HubMs,
	"MS HUB":          models.HubMs,
}

// Normalizer validates raw rows into typed records.
type Normalizer struct {
	log *logger.Entry
}

func NewNormalizer() *Normalizer {
	return &Normalizer{log: logger.GetLogger().WithComponent("normalizer")}
}

// resolveHub maps a raw node name onto a canonical hub. Matching is
// case-insensitive and whitespace-tolerant.
func resolveHub(raw string) (models.Hub, error) {
	name := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	if hub := models.Hub(strings.ReplaceAll(name, " ", ".")); hub.Valid() {
		return hub, nil
	}
	if hub := models.Hub(name); hub.Valid() {
		return hub, nil
	}
	if hub, ok := hubAliases[name]; ok {
		return hub, nil
	}
	return "", invalid(parser.FieldNode, "unknown node %q", raw)
}

func (n *Normalizer) reject(series models.Series, err error) {
	n.log.WithError(err).WithFields(logger.Fields{"series": string(series)}).Warn("row rejected")
}

// LoadRecords normalizes actual-load rows. Five-minute grain is the
// default; hour-ending rows carry their own hourly grain.
func (n *Normalizer) LoadRecords(rows []models.RawRow) ([]models.LoadRecord, int) {
	records := make([]models.LoadRecord, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		rec, err := n.normalizeLoad(row)
		if err != nil {
			n.reject(models.SeriesLoad, err)
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (n *Normalizer) normalizeLoad(row models.RawRow) (models.LoadRecord, error) {
	interval, err := intervalFromRow(row, 5*time.Minute)
	if err != nil {
		return models.LoadRecord{}, err
	}
	load, err := numericField(row, parser.FieldLoad, 0, maxPlausibleMW)
	if err != nil {
		return models.LoadRecord{}, err
	}
	return models.LoadRecord{Interval: interval, Load: load}, nil
}

// ForecastRecords normalizes hourly load-forecast rows.
func (n *Normalizer) ForecastRecords(rows []models.RawRow) ([]models.ForecastRecord, int) {
	records := make([]models.ForecastRecord, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		rec, err := n.normalizeForecast(row)
		if err != nil {
			n.reject(models.SeriesForecast, err)
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (n *Normalizer) normalizeForecast(row models.RawRow) (models.ForecastRecord, error) {
	interval, err := intervalFromRow(row, time.Hour)
	if err != nil {
		return models.ForecastRecord{}, err
	}
	forecast, err := numericField(row, parser.FieldForecast, 0, maxPlausibleMW)
	if err != nil {
		return models.ForecastRecord{}, err
	}
	return models.ForecastRecord{Interval: interval, Forecast: forecast}, nil
}

// FuelMixRecords normalizes generation-mix rows. Individual fuel
// columns are nullable; a row needs an interval and at least one
// value to survive.
func (n *Normalizer) FuelMixRecords(rows []models.RawRow) ([]models.FuelMixRecord, int) {
	records := make([]models.FuelMixRecord, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		rec, err := n.normalizeFuelMix(row)
		if err != nil {
			n.reject(models.SeriesFuelMix, err)
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (n *Normalizer) normalizeFuelMix(row models.RawRow) (models.FuelMixRecord, error) {
	grain := 5 * time.Minute
	if _, hourly := row[parser.FieldHourEnding]; hourly {
		grain = time.Hour
	}
	interval, err := intervalFromRow(row, grain)
	if err != nil {
		return models.FuelMixRecord{}, err
	}

	rec := models.FuelMixRecord{Interval: interval}
	fuels := []struct {
		key string
		dst **float64
		min float64
	}{
		{parser.FieldNuclear, &rec.Nuclear, 0},
		{parser.FieldCoal, &rec.Coal, 0},
		{parser.FieldNaturalGas, &rec.NaturalGas, 0},
		{parser.FieldWind, &rec.Wind, 0},
		{parser.FieldSolar, &rec.Solar, 0},
		// Imports flip negative when the footprint exports.
		{parser.FieldImports, &rec.Imports, -maxPlausibleMW},
		{parser.FieldOther, &rec.Other, 0},
		{parser.FieldTotal, &rec.Total, 0},
	}
	populated := 0
	for _, f := range fuels {
		v, err := optionalField(row, f.key, f.min, maxPlausibleMW)
		if err != nil {
			return models.FuelMixRecord{}, err
		}
		if v != nil {
			populated++
		}
		*f.dst = v
	}
	if populated == 0 {
		return models.FuelMixRecord{}, invalid("fuel_mix", "row carries no fuel values")
	}
	return rec, nil
}

// LmpRecords normalizes nodal price rows at the given grain
// (five-minute for the real-time feed, hourly for day-ahead files).
// Prices may be negative; magnitudes are bounds-checked.
func (n *Normalizer) LmpRecords(series models.Series, rows []models.RawRow, grain time.Duration) ([]models.LmpRecord, int) {
	records := make([]models.LmpRecord, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		rec, err := n.normalizeLmp(row, grain)
		if err != nil {
			n.reject(series, err)
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (n *Normalizer) normalizeLmp(row models.RawRow, grain time.Duration) (models.LmpRecord, error) {
	interval, err := intervalFromRow(row, grain)
	if err != nil {
		return models.LmpRecord{}, err
	}
	rawNode, ok := row[parser.FieldNode].(string)
	if !ok {
		return models.LmpRecord{}, invalid(parser.FieldNode, "missing")
	}
	hub, err := resolveHub(rawNode)
	if err != nil {
		return models.LmpRecord{}, err
	}
	lmp, err := numericField(row, parser.FieldLmp, -maxPlausibleDolMW, maxPlausibleDolMW)
	if err != nil {
		return models.LmpRecord{}, err
	}
	mcc, err := numericField(row, parser.FieldMcc, -maxPlausibleDolMW, maxPlausibleDolMW)
	if err != nil {
		return models.LmpRecord{}, err
	}
	mlc, err := numericField(row, parser.FieldMlc, -maxPlausibleDolMW, maxPlausibleDolMW)
	if err != nil {
		return models.LmpRecord{}, err
	}
	return models.LmpRecord{Interval: interval, Hub: hub, Lmp: lmp, Mcc: mcc, Mlc: mlc}, nil
}
