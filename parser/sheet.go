package parser

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// namedSheet is one tabular sheet extracted from a report file. CSV
// files yield a single unnamed sheet; workbooks yield one per tab.
type namedSheet struct {
	name string
	rows [][]string
}

// extractFromZip pulls the named member out of a monthly archive.
func extractFromZip(data []byte, filename string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, parseErr(filename, "malformed zip archive", err)
	}
	want := strings.ToLower(filename)
	for _, f := range zr.File {
		if strings.ToLower(path.Base(f.Name)) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, parseErr(filename, "unreadable archive member", err)
		}
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, parseErr(filename, "unreadable archive member", err)
		}
		return body, nil
	}
	return nil, parseErr(filename, "archive does not contain the file", nil)
}

// reportSheets decodes the file bytes into sheets according to the
// extension the upstream naming convention dictates.
func reportSheets(filename string, data []byte) ([]namedSheet, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		return csvSheet(filename, data)
	case ".xlsx":
		return xlsxSheets(filename, data)
	case ".xls":
		return xlsSheets(filename, data)
	default:
		return nil, parseErr(filename, "unsupported file extension", nil)
	}
}

func csvSheet(filename string, data []byte) ([]namedSheet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, parseErr(filename, "malformed CSV", err)
	}
	return []namedSheet{{rows: records}}, nil
}

func xlsxSheets(filename string, data []byte) ([]namedSheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, parseErr(filename, "malformed xlsx workbook", err)
	}
	defer f.Close()

	var sheets []namedSheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		sheets = append(sheets, namedSheet{name: name, rows: rows})
	}
	if len(sheets) == 0 {
		return nil, parseErr(filename, "workbook has no readable sheets", nil)
	}
	return sheets, nil
}

func xlsSheets(filename string, data []byte) ([]namedSheet, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil || wb == nil {
		return nil, parseErr(filename, "malformed xls workbook", err)
	}

	var sheets []namedSheet
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, row.LastCol())
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, namedSheet{name: sheet.Name, rows: rows})
	}
	if len(sheets) == 0 {
		return nil, parseErr(filename, "workbook has no readable sheets", nil)
	}
	return sheets, nil
}
