// Package export moves activity records in and out of spreadsheets.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/agentworkforce/offlinesync/internal/records"
)

const SheetName = "Activities"

var header = []string{"ID", "Student", "Activity", "Date", "Hours", "Created At"}

// WriteXLSX writes recs as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, recs []records.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &row); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{rec.ID, rec.StudentName, rec.Activity, rec.Date, rec.Hours, rec.CreatedAt.UTC().Format(time.RFC3339)}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write record %d: %w", rec.ID, err)
		}
	}
	if err := f.SetColWidth(SheetName, "B", "C", 24); err != nil {
		return err
	}
	return f.Write(w)
}

// ReadDrafts reads records back from the first sheet of a workbook. Columns
// are found by header name, so an ID column is optional and ignored. Blank
// rows are skipped.
func ReadDrafts(r io.Reader) ([]records.Draft, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cols, err := columnIndex(rows[0])
	if err != nil {
		return nil, err
	}

	var drafts []records.Draft
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		hoursRaw := cell(row, cols["hours"])
		hours, err := strconv.Atoi(hoursRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: hours %q is not a whole number", records.ErrInvalidInput, i+2, hoursRaw)
		}
		drafts = append(drafts, records.Draft{
			StudentName: cell(row, cols["student"]),
			Activity:    cell(row, cols["activity"]),
			Date:        cell(row, cols["date"]),
			Hours:       hours,
		})
	}
	return drafts, nil
}

func columnIndex(headerRow []string) (map[string]int, error) {
	cols := map[string]int{}
	for i, h := range headerRow {
		key := strings.ToLower(strings.TrimSpace(h))
		switch key {
		case "student", "student name", "studentname":
			key = "student"
		}
		cols[key] = i
	}
	var missing []string
	for _, want := range []string{"student", "activity", "date", "hours"} {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", records.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return cols, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
