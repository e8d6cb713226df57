package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/agentworkforce/offlinesync/internal/records"
)

func TestWriteXLSX(t *testing.T) {
	created := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	recs := []records.Record{
		{ID: 1, StudentName: "Ana", Activity: "Lab", Date: "2024-01-15", Hours: 2, CreatedAt: created},
		{ID: 2, StudentName: "Ben", Activity: "Field trip", Date: "2024-01-16", Hours: 8, CreatedAt: created},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, recs))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, SheetName, f.GetSheetName(0))
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"1", "Ana", "Lab", "2024-01-15", "2", "2024-01-15T09:30:00Z"}, rows[1])
	assert.Equal(t, "Field trip", rows[2][2])
}

func TestExportedWorkbookReadsBackAsDrafts(t *testing.T) {
	recs := []records.Record{
		{ID: 4, StudentName: "Ana", Activity: "Lab", Date: "2024-01-15", Hours: 2, CreatedAt: time.Now()},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, recs))

	drafts, err := ReadDrafts(&buf)
	require.NoError(t, err)
	assert.Equal(t, []records.Draft{recs[0].Draft()}, drafts)
}

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &rows[i]))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadDraftsByHeaderName(t *testing.T) {
	buf := workbook(t,
		[]any{"Hours", "Date", "Student Name", "Activity"},
		[]any{3, "2024-02-01", "Carla", "Library"},
		[]any{"", "", "", ""},
		[]any{1, "2024-02-02", "Dev", "Tutoring"},
	)
	drafts, err := ReadDrafts(buf)
	require.NoError(t, err)
	assert.Equal(t, []records.Draft{
		{StudentName: "Carla", Activity: "Library", Date: "2024-02-01", Hours: 3},
		{StudentName: "Dev", Activity: "Tutoring", Date: "2024-02-02", Hours: 1},
	}, drafts)
}

func TestReadDraftsRejectsBadInput(t *testing.T) {
	_, err := ReadDrafts(workbook(t, []any{"Student", "Activity", "Date"}))
	assert.True(t, errors.Is(err, records.ErrInvalidInput))

	_, err = ReadDrafts(workbook(t,
		[]any{"Student", "Activity", "Date", "Hours"},
		[]any{"Ana", "Lab", "2024-01-15", "two"},
	))
	assert.ErrorIs(t, err, records.ErrInvalidInput)
	assert.Contains(t, err.Error(), "row 2")
}
