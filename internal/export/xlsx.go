// Package export renders tables as spreadsheets.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is used when no sheet name is given.
const DefaultSheet = "Data"

// maxSheetName is the sheet name limit imposed by Excel.
const maxSheetName = 31

// columnWidth is applied to every column.
const columnWidth = 24

// WriteXLSX writes columns as a bold header row followed by rows into a
// single-sheet workbook. Rows shorter than the header are padded with empty
// cells.
func WriteXLSX(w io.Writer, sheet string, columns []string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet = SheetName(sheet)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if len(columns) > 0 {
		if err := sw.SetColWidth(1, len(columns), columnWidth); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := sw.SetRow("A1", cells(columns, len(columns)), excelize.RowOpts{StyleID: bold}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells(row, len(columns))); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cells(values []string, width int) []interface{} {
	if len(values) > width {
		width = len(values)
	}
	out := make([]interface{}, width)
	for i := range out {
		out[i] = ""
		if i < len(values) {
			out[i] = values[i]
		}
	}
	return out
}

// SheetName makes name usable as a worksheet name.
func SheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if name == "" {
		return DefaultSheet
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}
