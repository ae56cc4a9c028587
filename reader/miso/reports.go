package miso

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"powerflow/logger"
	"powerflow/models"
)

// ErrReportNotAvailable marks a report file missing both as a daily
// file and inside its monthly archive. Callers skip the date.
var ErrReportNotAvailable = errors.New("report file not available")

type reportNaming struct {
	suffix string
	ext    string
}

var reportNames = map[models.Report]reportNaming{
	models.ReportForecastAndLoad:   {suffix: "df_al", ext: "xls"},
	models.ReportGenerationFuelMix: {suffix: "sr_gfm", ext: "xlsx"},
	models.ReportDayaheadExanteLMP: {suffix: "da_exante_lmp", ext: "csv"},
	models.ReportDayaheadExpostLMP: {suffix: "da_expost_lmp", ext: "csv"},
	models.ReportRealtimeExanteLMP: {suffix: "5min_exante_lmp", ext: "xlsx"},
}

// publishLag gives the calendar-day offset between a market day and
// the date stamped on its file. Backward-looking reports publish the
// morning after under the next day's stamp.
var publishLag = map[models.Report]int{
	models.ReportForecastAndLoad:   1,
	models.ReportGenerationFuelMix: 1,
	models.ReportRealtimeExanteLMP: 1,
}

// ReportFilename returns the deterministic name for the market day's
// file: {YYYYMMDD}_{suffix}.{ext} daily, {YYYYMM}_{suffix}_{ext}.zip
// once the month rolls into the archive.
func ReportFilename(report models.Report, marketDay time.Time, archived bool) string {
	naming := reportNames[report]
	stamp := marketDay.AddDate(0, 0, publishLag[report])
	if archived {
		return fmt.Sprintf("%s_%s_%s.zip", stamp.Format("200601"), naming.suffix, naming.ext)
	}
	return fmt.Sprintf("%s_%s.%s", stamp.Format("20060102"), naming.suffix, naming.ext)
}

func (c *Client) reportURL(filename string) string {
	return strings.TrimRight(c.cfg.Source.ReportsBaseURL, "/") + "/" + filename
}

// ListReportFiles enumerates the refs for every market day in
// [from, to], inclusive. Refs start unarchived; FetchReportFile
// resolves archive fallback at fetch time.
func (c *Client) ListReportFiles(report models.Report, from, to time.Time) []models.FileRef {
	var refs []models.FileRef
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, models.EST)
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, models.EST)
	for !day.After(last) {
		filename := ReportFilename(report, day, false)
		refs = append(refs, models.FileRef{
			Report:   report,
			Date:     day,
			Filename: filename,
			URL:      c.reportURL(filename),
		})
		day = day.AddDate(0, 0, 1)
	}
	return refs
}

// FetchReportFile downloads one report file. A daily 404 falls
// through to the monthly archive; a second 404 means the file does
// not exist at all and surfaces as ErrReportNotAvailable. Transient
// failures retry at each step.
func (c *Client) FetchReportFile(ctx context.Context, ref models.FileRef) ([]byte, models.FileRef, error) {
	body, err := c.fetchURL(ctx, "fetch_report_"+string(ref.Report), ref.URL)
	if err == nil {
		logger.IncrementFetch()
		return body, ref, nil
	}
	if !isNotFound(err) {
		return nil, ref, err
	}

	archiveRef := ref
	archiveRef.Archived = true
	archiveRef.URL = c.reportURL(ReportFilename(ref.Report, ref.Date, true))
	c.log.WithFields(logger.Fields{
		"report": string(ref.Report),
		"date":   ref.Date.Format("2006-01-02"),
		"url":    archiveRef.URL,
	}).Debug("daily file gone, trying monthly archive")

	body, err = c.fetchURL(ctx, "fetch_archive_"+string(ref.Report), archiveRef.URL)
	if err == nil {
		logger.IncrementFetch()
		return body, archiveRef, nil
	}
	if isNotFound(err) {
		return nil, ref, errors.Wrapf(ErrReportNotAvailable, "%s for %s", ref.Report, ref.Date.Format("2006-01-02"))
	}
	return nil, ref, err
}

func (c *Client) fetchURL(ctx context.Context, operation, url string) ([]byte, error) {
	var body []byte
	err := c.policy.Execute(ctx, operation, func() error {
		b, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func isNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
