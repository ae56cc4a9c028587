// Package parser turns fetched bytes into loosely-typed raw rows.
// It owns container formats and header reconciliation only; all
// semantic conversion (times, hubs, numbers) lives in the processor.
package parser

import "powerflow/models"

// DecodeRows dispatches a real-time payload to its format decoder.
func DecodeRows(payload *models.RawPayload) ([]models.RawRow, error) {
	switch payload.Format {
	case models.FormatJSON:
		return DecodeJSONRows(payload)
	case models.FormatCSV:
		return DecodeCSVRows(payload)
	default:
		return nil, parseErr(string(payload.Series), "unknown payload format", nil)
	}
}
