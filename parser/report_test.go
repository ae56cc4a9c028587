package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"powerflow/models"
)

func dayaheadCSV(t *testing.T) []byte {
	t.Helper()
	var b strings.Builder
	b.WriteString("Day-Ahead Market LMPs\n")
	b.WriteString("01/15/2024\n")
	b.WriteString("\n")
	b.WriteString("Node,Value")
	for he := 1; he <= 24; he++ {
		fmt.Fprintf(&b, ",HE %d", he)
	}
	b.WriteString("\n")
	for _, node := range []string{"ARKANSAS.HUB", "ILLINOIS.HUB"} {
		for _, component := range []string{"LMP", "MCC", "MLC"} {
			b.WriteString(node + "," + component)
			for he := 1; he <= 24; he++ {
				fmt.Fprintf(&b, ",%d.5", he)
			}
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

func TestDecodeReportTableDayaheadCSV(t *testing.T) {
	ref := models.FileRef{
		Report:   models.ReportDayaheadExanteLMP,
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, models.EST),
		Filename: "20240115_da_exante_lmp.csv",
	}
	rows, err := DecodeReportTable(ref, dayaheadCSV(t))
	if err != nil {
		t.Fatalf("DecodeReportTable failed: %v", err)
	}
	if len(rows) != 48 {
		t.Fatalf("expected 2 nodes x 24 hours, got %d rows", len(rows))
	}
	first := rows[0]
	if first[FieldNode] != "ARKANSAS.HUB" {
		t.Errorf("unexpected node: %v", first[FieldNode])
	}
	if first[FieldMarketDay] != "01/15/2024" {
		t.Errorf("market day not captured: %v", first[FieldMarketDay])
	}
	if first[FieldHourEnding] != "1" {
		t.Errorf("unexpected hour ending: %v", first[FieldHourEnding])
	}
	if first[FieldLmp] != "1.5" || first[FieldMcc] != "1.5" || first[FieldMlc] != "1.5" {
		t.Errorf("pivot not undone: %v", first)
	}
}

func TestDecodeReportTableFromZipArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("20240115_da_exante_lmp.csv")
	if err != nil {
		t.Fatalf("create zip member: %v", err)
	}
	if _, err := w.Write(dayaheadCSV(t)); err != nil {
		t.Fatalf("write zip member: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	ref := models.FileRef{
		Report:   models.ReportDayaheadExanteLMP,
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, models.EST),
		Filename: "20240115_da_exante_lmp.csv",
		Archived: true,
	}
	rows, err := DecodeReportTable(ref, buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeReportTable failed: %v", err)
	}
	if len(rows) != 48 {
		t.Fatalf("expected 48 rows from archived file, got %d", len(rows))
	}
}

func TestDecodeReportTableZipMissingMember(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("some_other_file.csv")
	w.Write([]byte("x"))
	zw.Close()

	ref := models.FileRef{
		Report:   models.ReportDayaheadExanteLMP,
		Filename: "20240115_da_exante_lmp.csv",
		Archived: true,
	}
	if _, err := DecodeReportTable(ref, buf.Bytes()); !IsParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func fuelMixWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	const sheet = "RT Generation Fuel Mix"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	f.SetCellValue(sheet, "A1", "Market Date: 2024-01-15")
	header := []any{"Central", "North", "South", "HE", "Coal", "Gas", "Nuclear", "Wind", "Solar", "Imports", "Other", "MISO"}
	if err := f.SetSheetRow(sheet, "A3", &header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for he := 1; he <= 3; he++ {
		row := []any{100, 100, 100, he, 21000, 30000, 9000, 8000, 500, -1200, 700, 68000}
		cell := fmt.Sprintf("A%d", 3+he)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("write data row: %v", err)
		}
	}
	f.SetCellValue(sheet, "A7", "Totals are preliminary")
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialize workbook: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeReportTableFuelMixWorkbook(t *testing.T) {
	ref := models.FileRef{
		Report:   models.ReportGenerationFuelMix,
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, models.EST),
		Filename: "20240116_sr_gfm.xlsx",
	}
	rows, err := DecodeReportTable(ref, fuelMixWorkbook(t))
	if err != nil {
		t.Fatalf("DecodeReportTable failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 hourly rows, got %d", len(rows))
	}
	row := rows[0]
	if row[FieldMarketDay] != "2024-01-15" {
		t.Errorf("market day banner not captured: %v", row[FieldMarketDay])
	}
	if row[FieldHourEnding] != "1" {
		t.Errorf("unexpected hour ending: %v", row[FieldHourEnding])
	}
	if row[FieldNaturalGas] != "30000" {
		t.Errorf("Gas column not reconciled: %v", row[FieldNaturalGas])
	}
	if row[FieldTotal] != "68000" {
		t.Errorf("MISO column not reconciled: %v", row[FieldTotal])
	}
}

func TestDecodeForecastAndLoadSheetStopsAtFirstMarketDay(t *testing.T) {
	sheet := [][]string{
		{"", ""},
		{"Market Day", "HourEnding", "MISO MTLF (MWh)", "MISO ActualLoad (MWh)"},
	}
	for he := 1; he <= 24; he++ {
		sheet = append(sheet, []string{"2024-01-15", fmt.Sprint(he), "82000", "81000"})
	}
	// The next market day carries forecast only; no actuals yet.
	sheet = append(sheet, []string{"2024-01-16", "1", "80000", ""})

	rows, ok := decodeForecastAndLoadSheet(sheet)
	if !ok {
		t.Fatal("sheet should reconcile")
	}
	if len(rows) != 24 {
		t.Fatalf("expected 24 rows for the first market day, got %d", len(rows))
	}
	if rows[23][FieldHourEnding] != "24" {
		t.Errorf("unexpected last hour ending: %v", rows[23][FieldHourEnding])
	}
}

func TestDecodeReportTableCorruptBytes(t *testing.T) {
	ref := models.FileRef{
		Report:   models.ReportGenerationFuelMix,
		Filename: "20240116_sr_gfm.xlsx",
	}
	if _, err := DecodeReportTable(ref, []byte("this is not a workbook")); !IsParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
