package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fairshare-app/fairshare/internal/history"
)

// Service renders a project's history as an .xlsx workbook.
type Service struct {
	history *history.Service
}

func NewService(historyService *history.Service) *Service {
	return &Service{history: historyService}
}

var historyHeaders = []string{
	"time", "operation", "object type", "object", "changed property",
	"before", "after", "ip",
}

// WriteProjectHistory streams the workbook for one project to w.
func (s *Service) WriteProjectHistory(ctx context.Context, w io.Writer, projectID string) error {
	entries, err := s.history.ProjectHistory(ctx, projectID, true)
	if err != nil {
		return fmt.Errorf("failed to load history for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "History"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create history sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := setRow(f, sheet, 1, toCells(historyHeaders)); err != nil {
		return err
	}
	for i, entry := range entries {
		row := []any{
			entry.Time.UTC().Format(time.RFC3339),
			entry.OpName,
			entry.ObjectType,
			entry.ObjectDesc,
			entry.PropChanged,
			formatCell(entry.ValBefore),
			formatCell(entry.ValAfter),
			entry.RemoteAddr.ValueOrZero(),
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func formatCell(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []any:
		out := ""
		for i, item := range v {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%v", item)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}
