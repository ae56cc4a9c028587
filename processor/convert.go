package processor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"powerflow/models"
	"powerflow/parser"
)

// Plausibility bounds. MISO system load peaks around 127 GW; a value
// past a terawatt-scale megawatt count is feed corruption, not demand.
const (
	maxPlausibleMW    = 1_000_000.0
	maxPlausibleDolMW = 10_000.0
)

// timestampLayouts are the layouts observed across the feeds and
// report vintages. Layouts without a zone are taken as market time.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"01/02/2006",
	"2006-01-02",
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.ParseInLocation(layout, s, models.EST); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, invalid("timestamp", "unparseable value %q", s)
	default:
		return time.Time{}, invalid("timestamp", "unexpected type %T", v)
	}
}

// intervalFromRow builds the UTC interval a row covers, accepting the
// shapes the parsers emit: explicit start/end, a bare start or
// interval timestamp plus the series grain, a date with a clock time,
// or a market day with an hour-ending label. Hour ending H covers
// [H-1, H); the grain for that shape is always one hour.
func intervalFromRow(row models.RawRow, grain time.Duration) (models.Interval, error) {
	if rawStart, ok := row[parser.FieldStart]; ok {
		start, err := parseTimestamp(rawStart)
		if err != nil {
			return models.Interval{}, err
		}
		if rawEnd, ok := row[parser.FieldEnd]; ok {
			end, err := parseTimestamp(rawEnd)
			if err != nil {
				return models.Interval{}, err
			}
			return models.NewInterval(start, end)
		}
		return models.NewInterval(start, start.Add(grain))
	}

	if rawDate, ok := row[parser.FieldDate]; ok {
		if _, hasClock := row[parser.FieldTime]; hasClock {
			return clockInterval(row, rawDate, grain)
		}
	}

	if _, ok := row[parser.FieldHourEnding]; ok {
		return hourEndingInterval(row)
	}

	if rawTime, ok := row[parser.FieldTime]; ok {
		start, err := parseTimestamp(rawTime)
		if err != nil {
			return models.Interval{}, err
		}
		return models.NewInterval(start, start.Add(grain))
	}

	return models.Interval{}, invalid("interval", "row carries no timing fields")
}

func clockInterval(row models.RawRow, rawDate any, grain time.Duration) (models.Interval, error) {
	day, err := parseTimestamp(rawDate)
	if err != nil {
		return models.Interval{}, err
	}
	clock, ok := row[parser.FieldTime].(string)
	if !ok {
		return models.Interval{}, invalid(parser.FieldTime, "unexpected type %T", row[parser.FieldTime])
	}
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 {
		return models.Interval{}, invalid(parser.FieldTime, "unparseable clock %q", clock)
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return models.Interval{}, invalid(parser.FieldTime, "unparseable clock %q", clock)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, models.EST)
	return models.NewInterval(start, start.Add(grain))
}

func hourEndingInterval(row models.RawRow) (models.Interval, error) {
	rawDay, ok := row[parser.FieldMarketDay]
	if !ok {
		rawDay, ok = row[parser.FieldDate]
	}
	if !ok {
		return models.Interval{}, invalid(parser.FieldMarketDay, "missing market day for hour-ending row")
	}
	day, err := parseTimestamp(rawDay)
	if err != nil {
		return models.Interval{}, err
	}

	he, err := intField(row, parser.FieldHourEnding)
	if err != nil {
		return models.Interval{}, err
	}
	if he < 1 || he > 24 {
		return models.Interval{}, invalid(parser.FieldHourEnding, "out of range: %d", he)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, models.EST).
		Add(time.Duration(he-1) * time.Hour)
	return models.NewInterval(start, start.Add(time.Hour))
}

func intField(row models.RawRow, key string) (int, error) {
	v, ok := row[key]
	if !ok {
		return 0, invalid(key, "missing")
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, invalid(key, "not an integer: %q", t.String())
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, invalid(key, "not an integer: %q", t)
		}
		return n, nil
	default:
		return 0, invalid(key, "unexpected type %T", v)
	}
}

func floatValue(key string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, invalid(key, "not numeric: %q", t.String())
		}
		return f, nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, invalid(key, "not numeric: %q", t)
		}
		return f, nil
	default:
		return 0, invalid(key, "unexpected type %T", v)
	}
}

// numericField parses and bounds-checks a required numeric field,
// rounding to cent precision like the rest of the pipeline stores.
func numericField(row models.RawRow, key string, min, max float64) (float64, error) {
	v, ok := row[key]
	if !ok {
		return 0, invalid(key, "missing")
	}
	f, err := floatValue(key, v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < min || f >= max {
		return 0, invalid(key, "implausible value %v", f)
	}
	return round2(f), nil
}

// optionalField is numericField for columns that legitimately go
// missing across report vintages; absence yields nil, not an error.
func optionalField(row models.RawRow, key string, min, max float64) (*float64, error) {
	v, ok := row[key]
	if !ok {
		return nil, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := floatValue(key, v)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || f < min || f >= max {
		return nil, invalid(key, "implausible value %v", f)
	}
	r := round2(f)
	return &r, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
