package parser

import (
	"bytes"
	"encoding/csv"
	"strings"

	"powerflow/models"
)

// DecodeCSVRows decodes a real-time CSV payload, today the rolling
// market day LMP feed. Preamble lines before the header are tolerated;
// the first line that reconciles onto the required field set is taken
// as the header and everything after it as data.
func DecodeCSVRows(payload *models.RawPayload) ([]models.RawRow, error) {
	source := "csv:" + string(payload.Series)
	required, ok := csvRequiredFields(payload.Series)
	if !ok {
		return nil, parseErr(source, "series has no CSV decoder", nil)
	}

	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, parseErr(source, "malformed CSV", err)
	}

	rows, ok := tableRows(records, required)
	if !ok {
		return nil, parseErr(source, "header cannot be reconciled", nil)
	}
	return rows, nil
}

func csvRequiredFields(series models.Series) ([]string, bool) {
	switch series {
	case models.SeriesRealtimeLMP:
		return requiredFields[models.ReportRealtimeExanteLMP], true
	default:
		return nil, false
	}
}

// tableRows scans for the header line and converts every following
// record into a raw row. Short or empty trailing records are skipped,
// matching the footer noise the feed sometimes appends.
func tableRows(records [][]string, required []string) ([]models.RawRow, bool) {
	for i, record := range records {
		columns, ok := reconcileHeader(record, required)
		if !ok {
			continue
		}
		var rows []models.RawRow
		for _, data := range records[i+1:] {
			row, ok := rowFromRecord(data, columns, required)
			if !ok {
				continue
			}
			rows = append(rows, row)
		}
		return rows, true
	}
	return nil, false
}

func rowFromRecord(record []string, columns map[int]string, required []string) (models.RawRow, bool) {
	row := models.RawRow{}
	for idx, key := range columns {
		if idx >= len(record) {
			continue
		}
		row[key] = record[idx]
	}
	for _, key := range required {
		v, ok := row[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, false
		}
	}
	return row, true
}
