// Package report renders operator diagnostics (dead-lettered jobs and
// superseded versions) as an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

const (
	SheetDeadLetters = "Dead letters"
	SheetSuperseded  = "Superseded"
)

var deadLetterHeader = []string{"Entity", "Record ID", "State", "Attempts", "Last error", "Next attempt", "Queued at"}

var supersededHeader = []string{"Entity", "Record ID", "Side", "Revision", "Deleted", "Updated at", "Recorded at", "Reason", "Payload"}

var columnWidths = map[string][]float64{
	SheetDeadLetters: {14, 38, 14, 10, 60, 22, 22},
	SheetSuperseded:  {14, 38, 8, 10, 8, 22, 22, 36, 80},
}

// Write renders both listings into one workbook and writes it to w.
func Write(w io.Writer, dead []models.SyncJob, lost []models.SupersededVersion) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDeadLetters); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSuperseded); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	deadRows := make([][]any, 0, len(dead))
	for _, j := range dead {
		deadRows = append(deadRows, []any{
			j.EntityType, j.RecordID, string(j.State), j.AttemptCount, j.LastError,
			formatTime(j.NextAttemptAt), formatTime(j.CreatedAt),
		})
	}
	if err := writeSheet(f, SheetDeadLetters, deadLetterHeader, deadRows, headerStyle); err != nil {
		return err
	}

	lostRows := make([][]any, 0, len(lost))
	for _, v := range lost {
		lostRows = append(lostRows, []any{
			v.EntityType, v.RecordID, string(v.Side), v.Revision, yesNo(v.Deleted),
			formatTime(v.UpdatedAt), formatTime(v.RecordedAt), v.Reason, string(v.Payload),
		})
	}
	if err := writeSheet(f, SheetSuperseded, supersededHeader, lostRows, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("%s header style: %w", sheet, err)
	}

	for i, w := range columnWidths[sheet] {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("%s column width: %w", sheet, err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
