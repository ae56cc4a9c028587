package parser

import (
	"strings"

	"powerflow/models"
)

// Canonical raw-row field keys. Parsers reconcile whatever headers a
// payload carries onto these; the normalizer only ever sees canonical
// keys.
const (
	FieldStart      = "start"
	FieldEnd        = "end"
	FieldDate       = "date"
	FieldTime       = "time"
	FieldMarketDay  = "market_day"
	FieldHourEnding = "hour_ending"
	FieldLoad       = "load"
	FieldForecast   = "forecast"
	FieldNode       = "node"
	FieldLmp        = "lmp"
	FieldMcc        = "mcc"
	FieldMlc        = "mlc"

	FieldNuclear    = "nuclear"
	FieldCoal       = "coal"
	FieldNaturalGas = "natural_gas"
	FieldWind       = "wind"
	FieldSolar      = "solar"
	FieldImports    = "imports"
	FieldOther      = "other"
	FieldTotal      = "total"
)

// headerAliases maps normalized header variants, as observed across
// report vintages, onto canonical field keys. Keys here are already
// lowercased with whitespace collapsed.
var headerAliases = map[string]string{
	"market day":            FieldMarketDay,
	"market_day":            FieldMarketDay,
	"date":                  FieldDate,
	"he":                    FieldHourEnding,
	"hour ending":           FieldHourEnding,
	"hourending":            FieldHourEnding,
	"hour end":              FieldHourEnding,
	"time":                  FieldTime,
	"time (est)":            FieldTime,
	"interval":              FieldTime,
	"intervalest":           FieldTime,
	"interval (est)":        FieldTime,
	"miso mtlf (mwh)":       FieldForecast,
	"mtlf (mwh)":            FieldForecast,
	"mtlf":                  FieldForecast,
	"load forecast":         FieldForecast,
	"miso actualload (mwh)": FieldLoad,
	"actualload (mwh)":      FieldLoad,
	"actual load (mwh)":     FieldLoad,
	"actual load":           FieldLoad,
	"node":                  FieldNode,
	"cpnode":                FieldNode,
	"cp node":               FieldNode,
	"lmp":                   FieldLmp,
	"rt ex-ante lmp":        FieldLmp,
	"mcc":                   FieldMcc,
	"rt ex-ante mcc":        FieldMcc,
	"mlc":                   FieldMlc,
	"rt ex-ante mlc":        FieldMlc,

	"nuclear":     FieldNuclear,
	"coal":        FieldCoal,
	"gas":         FieldNaturalGas,
	"natural gas": FieldNaturalGas,
	"wind":        FieldWind,
	"solar":       FieldSolar,
	"imports":     FieldImports,
	"import":      FieldImports,
	"other":       FieldOther,
	"miso":        FieldTotal,
	"total":       FieldTotal,
	"total mw":    FieldTotal,
}

// requiredFields is the minimum canonical header set a table must
// reconcile onto before any of its rows are accepted.
var requiredFields = map[models.Report][]string{
	models.ReportForecastAndLoad:   {FieldMarketDay, FieldHourEnding, FieldForecast, FieldLoad},
	models.ReportGenerationFuelMix: {FieldHourEnding},
	models.ReportDayaheadExanteLMP: {FieldNode},
	models.ReportDayaheadExpostLMP: {FieldNode},
	models.ReportRealtimeExanteLMP: {FieldTime, FieldNode, FieldLmp, FieldMlc, FieldMcc},
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), " ")
}

// canonicalHeader resolves one raw header cell to a canonical field
// key. Unknown headers return ok=false and the column is ignored.
func canonicalHeader(h string) (string, bool) {
	key, ok := headerAliases[normalizeHeader(h)]
	return key, ok
}

// reconcileHeader maps a header row onto canonical keys by column
// index. It returns ok=false when any required field is missing.
func reconcileHeader(cells []string, required []string) (map[int]string, bool) {
	byIndex := make(map[int]string, len(cells))
	seen := make(map[string]bool, len(cells))
	for i, cell := range cells {
		key, ok := canonicalHeader(cell)
		if !ok || seen[key] {
			continue
		}
		byIndex[i] = key
		seen[key] = true
	}
	for _, key := range required {
		if !seen[key] {
			return nil, false
		}
	}
	return byIndex, true
}
