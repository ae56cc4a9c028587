package parser

import (
	"strconv"
	"strings"
	"time"

	"powerflow/models"
)

// Each market day carries at most 24 hour-ending rows; anything past
// that in the forecast file belongs to future days.
const hoursPerMarketDay = 24

// preferredSheet routes workbook reports to the tab that carries the
// table when the workbook has several.
var preferredSheet = map[models.Report]string{
	models.ReportGenerationFuelMix: "fuel mix",
}

// DecodeReportTable decodes one market report file into raw rows.
// Archived refs are unpacked from their monthly zip first. Sheets are
// tried until one reconciles onto the report's expected field set; a
// file where none does is a ParseError, never a panic.
func DecodeReportTable(ref models.FileRef, data []byte) ([]models.RawRow, error) {
	if ref.Archived {
		inner, err := extractFromZip(data, ref.Filename)
		if err != nil {
			return nil, err
		}
		data = inner
	}

	sheets, err := reportSheets(ref.Filename, data)
	if err != nil {
		return nil, err
	}

	if want, ok := preferredSheet[ref.Report]; ok {
		ordered := make([]namedSheet, 0, len(sheets))
		for _, s := range sheets {
			if strings.Contains(strings.ToLower(s.name), want) {
				ordered = append(ordered, s)
			}
		}
		for _, s := range sheets {
			if !strings.Contains(strings.ToLower(s.name), want) {
				ordered = append(ordered, s)
			}
		}
		sheets = ordered
	}

	for _, sheet := range sheets {
		rows, ok := decodeReportSheet(ref.Report, sheet.rows)
		if ok {
			return rows, nil
		}
	}
	return nil, parseErr(ref.Filename, "no sheet reconciles onto the expected fields", nil)
}

func decodeReportSheet(report models.Report, sheet [][]string) ([]models.RawRow, bool) {
	switch report {
	case models.ReportForecastAndLoad:
		return decodeForecastAndLoadSheet(sheet)
	case models.ReportGenerationFuelMix:
		return decodeFuelMixSheet(sheet)
	case models.ReportRealtimeExanteLMP:
		rows, ok := tableRows(sheet, requiredFields[report])
		return rows, ok && len(rows) > 0
	case models.ReportDayaheadExanteLMP, models.ReportDayaheadExpostLMP:
		return decodeDayaheadLmpSheet(sheet)
	default:
		return nil, false
	}
}

// decodeForecastAndLoadSheet reads the daily forecast vs actual table.
// The file carries six days of forecast but actuals only for the first;
// rows without an actual drop out, and the first market day's 24 hours
// bound the result either way.
func decodeForecastAndLoadSheet(sheet [][]string) ([]models.RawRow, bool) {
	rows, ok := tableRows(sheet, requiredFields[models.ReportForecastAndLoad])
	if !ok || len(rows) == 0 {
		return nil, false
	}
	firstDay, _ := rows[0][FieldMarketDay].(string)
	out := make([]models.RawRow, 0, hoursPerMarketDay)
	for _, row := range rows {
		if day, _ := row[FieldMarketDay].(string); day != firstDay {
			break
		}
		out = append(out, row)
		if len(out) == hoursPerMarketDay {
			break
		}
	}
	return out, true
}

// decodeFuelMixSheet reads the hourly generation mix summary. The
// sheet leads with a "Market Date" banner, then a header row whose
// system-wide section starts at the "HE" column; regional columns to
// the left are ignored.
func decodeFuelMixSheet(sheet [][]string) ([]models.RawRow, bool) {
	marketDay := ""
	headerIdx, heCol := -1, -1

scan:
	for i, row := range sheet {
		for j, cell := range row {
			n := normalizeHeader(cell)
			if strings.HasPrefix(n, "market date") && marketDay == "" {
				marketDay = bannerValue(cell, row, j)
			}
			if n == "he" {
				headerIdx, heCol = i, j
				break scan
			}
		}
	}
	if headerIdx < 0 || marketDay == "" {
		return nil, false
	}

	header := sheet[headerIdx]
	columns := map[int]string{}
	seen := map[string]bool{}
	for j := heCol; j < len(header); j++ {
		key, ok := canonicalHeader(header[j])
		if !ok || seen[key] {
			continue
		}
		columns[j] = key
		seen[key] = true
	}
	if !seen[FieldHourEnding] {
		return nil, false
	}

	var rows []models.RawRow
	for _, record := range sheet[headerIdx+1:] {
		row := models.RawRow{FieldMarketDay: marketDay}
		for idx, key := range columns {
			if idx >= len(record) || strings.TrimSpace(record[idx]) == "" {
				continue
			}
			row[key] = record[idx]
		}
		he, _ := row[FieldHourEnding].(string)
		if n, err := strconv.Atoi(strings.TrimSpace(he)); err != nil || n < 1 || n > hoursPerMarketDay {
			break
		}
		rows = append(rows, row)
	}
	return rows, len(rows) > 0
}

// bannerValue pulls the value out of a "Market Date: ..." banner cell,
// falling back to the next non-empty cell on the same row.
func bannerValue(cell string, row []string, col int) string {
	if _, after, found := strings.Cut(cell, ":"); found && strings.TrimSpace(after) != "" {
		return strings.TrimSpace(after)
	}
	for j := col + 1; j < len(row); j++ {
		if v := strings.TrimSpace(row[j]); v != "" {
			return v
		}
	}
	return ""
}

// decodeDayaheadLmpSheet reads the hourly day-ahead price table. The
// market day sits alone near the top; below it each node spans three
// rows (Value = LMP, MCC, MLC) pivoted over HE 1..HE 24 columns. The
// pivot is undone here so every emitted row is one (node, hour).
func decodeDayaheadLmpSheet(sheet [][]string) ([]models.RawRow, bool) {
	marketDay := ""
	headerIdx, nodeCol, valueCol := -1, -1, -1
	var heCols map[int]int

	for i, row := range sheet {
		if marketDay == "" {
			for _, cell := range row {
				if isUSDate(strings.TrimSpace(cell)) {
					marketDay = strings.TrimSpace(cell)
					break
				}
			}
		}
		nc, vc, hes := dayaheadHeader(row)
		if nc >= 0 && vc >= 0 && len(hes) > 0 {
			headerIdx, nodeCol, valueCol, heCols = i, nc, vc, hes
			break
		}
	}
	if headerIdx < 0 || marketDay == "" {
		return nil, false
	}

	type priceSet map[int]map[string]string // hour ending -> component -> value
	perNode := map[string]priceSet{}
	var order []string
	for _, record := range sheet[headerIdx+1:] {
		if nodeCol >= len(record) || valueCol >= len(record) {
			continue
		}
		node := strings.TrimSpace(record[nodeCol])
		component := normalizeHeader(record[valueCol])
		if node == "" || (component != FieldLmp && component != FieldMcc && component != FieldMlc) {
			continue
		}
		prices, ok := perNode[node]
		if !ok {
			prices = priceSet{}
			perNode[node] = prices
			order = append(order, node)
		}
		for col, he := range heCols {
			if col >= len(record) || strings.TrimSpace(record[col]) == "" {
				continue
			}
			if prices[he] == nil {
				prices[he] = map[string]string{}
			}
			prices[he][component] = strings.TrimSpace(record[col])
		}
	}

	var rows []models.RawRow
	for _, node := range order {
		prices := perNode[node]
		for he := 1; he <= hoursPerMarketDay; he++ {
			components := prices[he]
			if components[FieldLmp] == "" {
				continue
			}
			rows = append(rows, models.RawRow{
				FieldMarketDay:  marketDay,
				FieldHourEnding: strconv.Itoa(he),
				FieldNode:       node,
				FieldLmp:        components[FieldLmp],
				FieldMcc:        components[FieldMcc],
				FieldMlc:        components[FieldMlc],
			})
		}
	}
	return rows, len(rows) > 0
}

// dayaheadHeader recognizes the pivoted header row: a node column, a
// value column and the HE 1..HE 24 hour columns.
func dayaheadHeader(row []string) (nodeCol, valueCol int, heCols map[int]int) {
	nodeCol, valueCol = -1, -1
	heCols = map[int]int{}
	for j, cell := range row {
		n := normalizeHeader(cell)
		switch {
		case n == "node" || n == "cpnode" || n == "cp node":
			if nodeCol < 0 {
				nodeCol = j
			}
		case n == "value" || n == "type":
			if valueCol < 0 {
				valueCol = j
			}
		default:
			if he, ok := hourEndingHeader(n); ok {
				heCols[j] = he
			}
		}
	}
	return nodeCol, valueCol, heCols
}

func hourEndingHeader(normalized string) (int, bool) {
	fields := strings.Fields(normalized)
	if len(fields) != 2 || fields[0] != "he" {
		return 0, false
	}
	he, err := strconv.Atoi(fields[1])
	if err != nil || he < 1 || he > hoursPerMarketDay {
		return 0, false
	}
	return he, true
}

func isUSDate(s string) bool {
	_, err := time.Parse("01/02/2006", s)
	return err == nil
}
