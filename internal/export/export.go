// Package export renders history query results as CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/history"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"

	sheetName       = "History"
	timestampLayout = "2006-01-02 15:04:05.000"
)

// Header is the column order of every export.
var Header = []string{"ID", "Timestamp", "Channel", "Slave ID", "Address", "Function", "Value", "Unit"}

var columnWidths = []float64{10, 24, 20, 10, 10, 10, 14, 10}

// utf8BOM prefixes CSV output.
const utf8BOM = "\ufeff"

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", errors.New().WithData(ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName builds a download name such as history-20240501-120000.csv.
func (f Format) FileName(now time.Time) string {
	return "history-" + now.Format("20060102-150405") + "." + string(f)
}

// Write renders records in the given format.
func Write(w io.Writer, f Format, records []history.Record) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	}
	return errors.New().WithData(ErrUnknownFormat, string(f))
}

func row(r history.Record) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Timestamp.Format(timestampLayout),
		r.Channel,
		strconv.Itoa(r.Identity.SlaveID),
		strconv.Itoa(r.Identity.Address),
		r.Identity.Function.Tag(),
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Unit,
	}
}

func WriteCSV(w io.Writer, records []history.Record) error {
	errFactory := errors.New()

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	return nil
}

func WriteXLSX(w io.Writer, records []history.Record) error {
	errFactory := errors.New()

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	for col, title := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
		if err := f.SetColWidth(sheetName, name, name, columnWidths[col]); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
		values := []any{
			r.ID,
			r.Timestamp.Format(timestampLayout),
			r.Channel,
			r.Identity.SlaveID,
			r.Identity.Address,
			r.Identity.Function.Tag(),
			r.Value,
			r.Unit,
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	return nil
}
