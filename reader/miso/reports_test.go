package miso

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"powerflow/models"
)

func marketDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, models.EST)
}

func TestReportFilename(t *testing.T) {
	day := marketDay(2024, time.January, 15)
	cases := []struct {
		report   models.Report
		archived bool
		want     string
	}{
		// Backward-looking reports stamp the next calendar day.
		{models.ReportForecastAndLoad, false, "20240116_df_al.xls"},
		{models.ReportGenerationFuelMix, false, "20240116_sr_gfm.xlsx"},
		{models.ReportRealtimeExanteLMP, false, "20240116_5min_exante_lmp.xlsx"},
		// Day-ahead files stamp the market day itself.
		{models.ReportDayaheadExanteLMP, false, "20240115_da_exante_lmp.csv"},
		{models.ReportDayaheadExpostLMP, false, "20240115_da_expost_lmp.csv"},
		{models.ReportDayaheadExanteLMP, true, "202401_da_exante_lmp_csv.zip"},
		{models.ReportForecastAndLoad, true, "202401_df_al_xls.zip"},
	}
	for _, c := range cases {
		got := ReportFilename(c.report, day, c.archived)
		if got != c.want {
			t.Errorf("ReportFilename(%s, archived=%v) = %s, want %s", c.report, c.archived, got, c.want)
		}
	}
}

func TestListReportFiles(t *testing.T) {
	client := NewClient(testConfig(t, "http://example.test"))
	refs := client.ListReportFiles(
		models.ReportDayaheadExanteLMP,
		marketDay(2024, time.January, 30),
		marketDay(2024, time.February, 2),
	)
	if len(refs) != 4 {
		t.Fatalf("expected 4 refs for an inclusive range, got %d", len(refs))
	}
	if refs[0].Filename != "20240130_da_exante_lmp.csv" {
		t.Errorf("unexpected first filename: %s", refs[0].Filename)
	}
	if refs[3].Filename != "20240202_da_exante_lmp.csv" {
		t.Errorf("unexpected last filename: %s", refs[3].Filename)
	}
	for _, ref := range refs {
		if ref.Archived {
			t.Error("listed refs must start unarchived")
		}
	}
}

func TestFetchReportFileDaily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/marketreports/20240115_da_exante_lmp.csv" {
			w.Write([]byte("daily-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	refs := client.ListReportFiles(models.ReportDayaheadExanteLMP, marketDay(2024, time.January, 15), marketDay(2024, time.January, 15))
	body, resolved, err := client.FetchReportFile(context.Background(), refs[0])
	if err != nil {
		t.Fatalf("FetchReportFile failed: %v", err)
	}
	if string(body) != "daily-bytes" {
		t.Errorf("unexpected body: %s", body)
	}
	if resolved.Archived {
		t.Error("daily hit should not be marked archived")
	}
}

func TestFetchReportFileFallsBackToArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/marketreports/202401_da_exante_lmp_csv.zip" {
			w.Write([]byte("zip-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	refs := client.ListReportFiles(models.ReportDayaheadExanteLMP, marketDay(2024, time.January, 15), marketDay(2024, time.January, 15))
	body, resolved, err := client.FetchReportFile(context.Background(), refs[0])
	if err != nil {
		t.Fatalf("FetchReportFile failed: %v", err)
	}
	if string(body) != "zip-bytes" {
		t.Errorf("unexpected body: %s", body)
	}
	if !resolved.Archived {
		t.Error("archive hit must be marked archived")
	}
	if resolved.Filename != "20240115_da_exante_lmp.csv" {
		t.Errorf("ref must keep the daily member name: %s", resolved.Filename)
	}
}

func TestFetchReportFileNotAvailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	refs := client.ListReportFiles(models.ReportDayaheadExanteLMP, marketDay(2024, time.January, 15), marketDay(2024, time.January, 15))
	_, _, err := client.FetchReportFile(context.Background(), refs[0])
	if !errors.Is(err, ErrReportNotAvailable) {
		t.Fatalf("expected ErrReportNotAvailable, got %v", err)
	}
}
