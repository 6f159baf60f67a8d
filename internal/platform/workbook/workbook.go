// Package workbook loads the census workbook into header-indexed sheets.
//
// A workbook is either an .xlsx file read with excelize, or a pair of CSV
// files standing in for the "IP" and "New OP" sheets. Either way the caller
// gets the same Sheet values: trimmed header names, column lookup by ordered
// alias lists, and cell accessors that report sheet/row/column on failure.
package workbook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Workbook holds the sheets of one uploaded file.
type Workbook struct {
	sheets map[string]*Sheet
	order  []string
}

func newWorkbook() *Workbook {
	return &Workbook{sheets: make(map[string]*Sheet)}
}

func (w *Workbook) add(s *Sheet) {
	if _, ok := w.sheets[s.Name]; !ok {
		w.order = append(w.order, s.Name)
	}
	w.sheets[s.Name] = s
}

// Sheet returns the sheet with the given name. Names are matched after
// trimming surrounding whitespace.
func (w *Workbook) Sheet(name string) (*Sheet, error) {
	if s, ok := w.sheets[strings.TrimSpace(name)]; ok {
		return s, nil
	}
	return nil, &MissingSheetError{Sheet: name}
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Open reads an .xlsx workbook. Cells are read as raw values so that date
// cells come back as Excel serial numbers regardless of display format.
func Open(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := newWorkbook()
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheet := NewSheet(strings.TrimSpace(name), rows)
		sheet.SerialDates = true
		wb.add(sheet)
	}
	return wb, nil
}

// OpenFile reads an .xlsx workbook from disk.
func OpenFile(path string) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Open(f)
}

// FromCSV builds a workbook from one CSV per sheet, keyed by sheet name.
func FromCSV(sheets map[string]io.Reader) (*Workbook, error) {
	wb := newWorkbook()
	for _, name := range []string{SheetInpatient, SheetOutpatient} {
		r, ok := sheets[name]
		if !ok {
			continue
		}
		rows, err := readCSV(r)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		wb.add(NewSheet(name, rows))
	}
	var extra []string
	for name := range sheets {
		if _, done := wb.sheets[name]; !done {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		rows, err := readCSV(sheets[name])
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		wb.add(NewSheet(name, rows))
	}
	return wb, nil
}

// FromCSVFiles opens ipPath and opPath as the "IP" and "New OP" sheets.
func FromCSVFiles(ipPath, opPath string) (*Workbook, error) {
	ip, err := os.Open(ipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ipPath, err)
	}
	defer ip.Close()

	op, err := os.Open(opPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opPath, err)
	}
	defer op.Close()

	return FromCSV(map[string]io.Reader{SheetInpatient: ip, SheetOutpatient: op})
}

// readCSV reads every record, dropping a leading byte order mark. Spreadsheet
// exports are often UTF-8 with BOM, or UTF-16 with BOM on Windows.
func readCSV(r io.Reader) ([][]string, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	reader := csv.NewReader(dec)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
