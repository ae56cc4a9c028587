package models

import "time"

// PayloadFormat tells the parser how to decode a fetched body.
type PayloadFormat string

const (
	FormatJSON PayloadFormat = "json"
	FormatCSV  PayloadFormat = "csv"
)

// RawPayload is the undecoded body of one real-time fetch. The source
// client never interprets it; parsing happens downstream.
type RawPayload struct {
	Series    Series
	Format    PayloadFormat
	Data      []byte
	FetchedAt time.Time
}

// RawRow is one loosely-typed row emitted by the format parsers, keyed
// by canonical field names. Values keep their original representation
// (usually strings) so the normalizer owns all semantic conversion.
type RawRow map[string]any

// Report identifies one MISO market report family. Reports are
// published daily and archived monthly as zip files.
type Report string

const (
	ReportForecastAndLoad   Report = "forecast_and_load"
	ReportGenerationFuelMix Report = "generation_fuel_mix"
	ReportDayaheadExanteLMP Report = "dayahead_exante_lmp"
	ReportDayaheadExpostLMP Report = "dayahead_expost_lmp"
	ReportRealtimeExanteLMP Report = "realtime_exante_lmp"
)

// AllReports lists every report family supported by the backfill job.
func AllReports() []Report {
	return []Report{
		ReportForecastAndLoad,
		ReportGenerationFuelMix,
		ReportDayaheadExanteLMP,
		ReportDayaheadExpostLMP,
		ReportRealtimeExanteLMP,
	}
}

// FileRef names one market report file covering a single market day.
// Filename is always the unarchived daily name; when Archived is set
// the bytes at URL are a monthly zip containing that file.
type FileRef struct {
	Report   Report
	Date     time.Time
	Filename string
	URL      string
	Archived bool
}
