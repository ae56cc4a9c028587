package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"powerflow/models"
)

// refIDLayout matches the RefId timestamps the real-time endpoints
// carry, e.g. "30-Aug-2026 - Interval 13:05 EST".
const refIDLayout = "02-Jan-2006 - Interval 15:04"

func parseRefID(refID string) (time.Time, error) {
	s := strings.TrimSpace(refID)
	s = strings.TrimSuffix(s, " EST")
	t, err := time.ParseInLocation(refIDLayout, s, models.EST)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad RefId %q: %w", refID, err)
	}
	return t, nil
}

type loadEnvelope struct {
	LoadInfo struct {
		RefID            string `json:"RefId"`
		FiveMinTotalLoad []struct {
			Load struct {
				Time  string      `json:"Time"`
				Value json.Number `json:"Value"`
			} `json:"Load"`
		} `json:"FiveMinTotalLoad"`
		MediumTermLoadForecast []struct {
			Forecast struct {
				HourEnding   json.Number `json:"HourEnding"`
				LoadForecast json.Number `json:"LoadForecast"`
			} `json:"Forecast"`
		} `json:"MediumTermLoadForecast"`
	} `json:"LoadInfo"`
}

type fuelMixEnvelope struct {
	RefID   string      `json:"RefId"`
	TotalMW json.Number `json:"TotalMW"`
	Fuel    struct {
		Type []struct {
			IntervalEST string      `json:"INTERVALEST"`
			Category    string      `json:"CATEGORY"`
			Act         json.Number `json:"ACT"`
		} `json:"Type"`
	} `json:"Fuel"`
}

// DecodeJSONRows decodes a real-time JSON payload into raw rows. The
// upstream endpoints wrap their data in envelopes keyed by RefId; a
// plain array of objects is accepted as well, with its keys passed
// through unchanged.
func DecodeJSONRows(payload *models.RawPayload) ([]models.RawRow, error) {
	source := "json:" + string(payload.Series)
	data := bytes.TrimSpace(payload.Data)
	if len(data) == 0 {
		return nil, parseErr(source, "empty body", nil)
	}
	if data[0] == '[' {
		return decodeJSONArray(source, data)
	}

	switch payload.Series {
	case models.SeriesLoad:
		return decodeLoadJSON(source, data)
	case models.SeriesForecast:
		return decodeForecastJSON(source, data)
	case models.SeriesFuelMix:
		return decodeFuelMixJSON(source, data)
	default:
		return nil, parseErr(source, "series has no JSON decoder", nil)
	}
}

// decodeJSONArray handles the bare [{"start": ..., "end": ..., ...}]
// shape. Keys are lowercased; values stay as decoded.
func decodeJSONArray(source string, data []byte) ([]models.RawRow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, parseErr(source, "malformed JSON array", err)
	}
	rows := make([]models.RawRow, 0, len(objects))
	for _, obj := range objects {
		row := models.RawRow{}
		for k, v := range obj {
			row[strings.ToLower(strings.TrimSpace(k))] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeLoadJSON(source string, data []byte) ([]models.RawRow, error) {
	var env loadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, parseErr(source, "malformed envelope", err)
	}
	if len(env.LoadInfo.FiveMinTotalLoad) == 0 {
		return nil, parseErr(source, "envelope carries no five-minute load entries", nil)
	}
	ref, err := parseRefID(env.LoadInfo.RefID)
	if err != nil {
		return nil, parseErr(source, "unusable reference timestamp", err)
	}
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, models.EST)

	rows := make([]models.RawRow, 0, len(env.LoadInfo.FiveMinTotalLoad))
	for _, entry := range env.LoadInfo.FiveMinTotalLoad {
		rows = append(rows, models.RawRow{
			FieldDate: day,
			FieldTime: entry.Load.Time,
			FieldLoad: entry.Load.Value.String(),
		})
	}
	return rows, nil
}

func decodeForecastJSON(source string, data []byte) ([]models.RawRow, error) {
	var env loadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, parseErr(source, "malformed envelope", err)
	}
	if len(env.LoadInfo.MediumTermLoadForecast) == 0 {
		return nil, parseErr(source, "envelope carries no forecast entries", nil)
	}
	ref, err := parseRefID(env.LoadInfo.RefID)
	if err != nil {
		return nil, parseErr(source, "unusable reference timestamp", err)
	}
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, models.EST)

	rows := make([]models.RawRow, 0, len(env.LoadInfo.MediumTermLoadForecast))
	for _, entry := range env.LoadInfo.MediumTermLoadForecast {
		rows = append(rows, models.RawRow{
			FieldDate:       day,
			FieldHourEnding: entry.Forecast.HourEnding.String(),
			FieldForecast:   entry.Forecast.LoadForecast.String(),
		})
	}
	return rows, nil
}

// decodeFuelMixJSON flattens the per-category entries into a single
// wide row for the interval the RefId names.
func decodeFuelMixJSON(source string, data []byte) ([]models.RawRow, error) {
	var env fuelMixEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, parseErr(source, "malformed envelope", err)
	}
	ref, err := parseRefID(env.RefID)
	if err != nil {
		return nil, parseErr(source, "unusable reference timestamp", err)
	}

	row := models.RawRow{FieldStart: ref}
	if env.TotalMW.String() != "" {
		row[FieldTotal] = env.TotalMW.String()
	}
	var other float64
	haveOther := false
	for _, entry := range env.Fuel.Type {
		key, ok := canonicalHeader(entry.Category)
		if !ok {
			key = FieldOther
		}
		if key == FieldOther {
			// Categories outside the tracked mix fold into "other".
			if v, err := entry.Act.Float64(); err == nil {
				other += v
				haveOther = true
			}
			continue
		}
		if _, dup := row[key]; !dup {
			row[key] = entry.Act.String()
		}
	}
	if haveOther {
		row[FieldOther] = strconv.FormatFloat(other, 'f', -1, 64)
	}
	if len(row) < 2 {
		return nil, parseErr(source, "envelope carries no fuel categories", nil)
	}
	return []models.RawRow{row}, nil
}
