// Package export renders passes as downloadable tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"entrypass/internal/passes"
)

// Header is the first row of every export.
var Header = []string{"Name", "Roll No", "Branch", "Year", "Attended"}

func row(p passes.EntryPass) []string {
	attended := "False"
	if p.Attended {
		attended = "True"
	}
	return []string{p.Name, p.RollNo, passes.Branch(p.RollNo), passes.Year(p.RollNo), attended}
}

// WriteCSV writes the header and one row per pass, with derived fields computed here.
func WriteCSV(w io.Writer, all []passes.EntryPass) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, p := range all {
		if err := cw.Write(row(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the same table as a single-sheet workbook.
func WriteXLSX(w io.Writer, all []passes.EntryPass) error {
	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(file.GetActiveSheetIndex())

	for i, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for idx, p := range all {
		for col, v := range row(p) {
			cell, _ := excelize.CoordinatesToCellName(col+1, idx+2)
			if err := file.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}
	return file.Write(w)
}
