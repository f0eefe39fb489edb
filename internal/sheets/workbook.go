// Package sheets persists registrations into the categorized sheets of an
// .xlsx workbook.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"driver_intake/internal/registration"
)

// Sheet names.
const (
	SheetTAC        = "TAC"
	SheetAggregate  = "Aggregate"
	SheetIncomplete = "Incomplete Contacts"
	SheetOthers     = "Others"
)

// DefaultSheets are created with every new workbook.
var DefaultSheets = []string{SheetTAC, SheetAggregate, SheetIncomplete}

// TimeLayout is how RegisteredAt is written to the sheet.
const TimeLayout = "02/01/2006 15:04"

var columnWidths = map[registration.Field]float64{
	registration.FieldName:            28,
	registration.FieldNationalID:      16,
	registration.FieldPhone:           16,
	registration.FieldCity:            20,
	registration.FieldCategory:        12,
	registration.FieldLicensePlate:    12,
	registration.FieldCourseCompleted: 16,
	registration.FieldRegisteredAt:    18,
	registration.FieldStatus:          12,
}

// Workbook appends registrations to a workbook file on disk. Each call opens,
// updates and closes the file; calls are serialized.
type Workbook struct {
	mu     sync.Mutex
	path   string
	loc    *time.Location
	logger *zap.Logger
}

// NewWorkbook creates a workbook sink for path. Timestamps are written in loc.
func NewWorkbook(path string, loc *time.Location, logger *zap.Logger) *Workbook {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workbook{path: path, loc: loc, logger: logger}
}

// Path returns the workbook file path.
func (w *Workbook) Path() string {
	return w.path
}

// WriteRecord appends rec as a new row of sheet, creating the file and the
// sheet (with its header row) when absent.
func (w *Workbook) WriteRecord(_ context.Context, sheet string, rec registration.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ensureSheet(f, sheet); err != nil {
		return storageError("prepare sheet "+sheet, err)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return storageError("read sheet "+sheet, err)
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return storageError("locate row", err)
	}

	values := w.rowValues(rec)
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return storageError("write row", err)
	}

	if err := f.SaveAs(w.path); err != nil {
		return storageError("save "+w.path, err)
	}

	w.logger.Debug("Row appended",
		zap.String("sheet", sheet),
		zap.String("phone", rec.Phone),
		zap.Int("row", len(rows)+1),
	)
	return nil
}

// ReadSheet returns every data row of sheet in order. A missing file or sheet
// yields no records.
func (w *Workbook) ReadSheet(_ context.Context, sheet string) ([]registration.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, storageError("open "+w.path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx == -1 {
		return nil, nil
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, storageError("read sheet "+sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	records := make([]registration.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, w.parseRow(header, row))
	}
	return records, nil
}

// open loads the workbook, or creates it with the default sheets.
func (w *Workbook) open() (*excelize.File, error) {
	if _, err := os.Stat(w.path); err == nil {
		f, err := excelize.OpenFile(w.path)
		if err != nil {
			return nil, storageError("open "+w.path, err)
		}
		return f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, storageError("stat "+w.path, err)
	}

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageError("create dir", err)
		}
	}

	f := excelize.NewFile()
	for _, name := range DefaultSheets {
		if err := ensureSheet(f, name); err != nil {
			f.Close()
			return nil, storageError("create sheet "+name, err)
		}
	}

	// Drop the default Sheet1 once the real sheets exist
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, storageError("drop default sheet", err)
	}
	if idx, err := f.GetSheetIndex(DefaultSheets[0]); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	w.logger.Info("Workbook created", zap.String("path", w.path))
	return f, nil
}

func (w *Workbook) rowValues(rec registration.Record) []interface{} {
	values := make([]interface{}, 0, len(registration.Columns))
	for _, col := range registration.Columns {
		if col == registration.FieldRegisteredAt {
			if rec.RegisteredAt.IsZero() {
				values = append(values, "")
			} else {
				values = append(values, rec.RegisteredAt.In(w.loc).Format(TimeLayout))
			}
			continue
		}
		values = append(values, rec.Get(col))
	}
	return values
}

func (w *Workbook) parseRow(header, row []string) registration.Record {
	var rec registration.Record
	for i, name := range header {
		if i >= len(row) {
			break
		}
		field := registration.Field(name)
		if field == registration.FieldRegisteredAt {
			if ts, err := time.ParseInLocation(TimeLayout, row[i], w.loc); err == nil {
				rec.RegisteredAt = ts
			}
			continue
		}
		rec.Set(field, row[i])
	}
	return rec
}

// ensureSheet creates sheet with a styled, frozen header row when it is
// missing or empty.
func ensureSheet(f *excelize.File, sheet string) error {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return err
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	} else {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			return nil
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range registration.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, string(col)); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, columnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func storageError(op string, err error) error {
	return fmt.Errorf("sheets: %s: %w: %w", op, registration.ErrStorage, err)
}
