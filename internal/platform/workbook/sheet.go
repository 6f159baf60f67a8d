package workbook

import "strings"

// Sheet names the census workbook must contain.
const (
	SheetInpatient  = "IP"
	SheetOutpatient = "New OP"
)

// Row is one data row. Num is its spreadsheet row number.
type Row struct {
	Num   int
	Cells []string
}

// Sheet is a header plus data rows. Header names are whitespace-trimmed.
type Sheet struct {
	Name   string
	Header []string
	Rows   []Row

	// SerialDates is set for sheets read from .xlsx, whose raw date cells
	// are Excel serial numbers.
	SerialDates bool

	index map[string]int
}

// NewSheet builds a Sheet from raw rows where raw[0] is the header. Rows in
// which every cell is blank are dropped; remaining rows keep their original
// spreadsheet row number.
func NewSheet(name string, raw [][]string) *Sheet {
	s := &Sheet{Name: name, index: make(map[string]int)}
	if len(raw) == 0 {
		return s
	}

	s.Header = make([]string, len(raw[0]))
	for i, h := range raw[0] {
		h = strings.TrimSpace(h)
		s.Header[i] = h
		if _, dup := s.index[h]; !dup && h != "" {
			s.index[h] = i
		}
	}

	for i, cells := range raw[1:] {
		if blank(cells) {
			continue
		}
		s.Rows = append(s.Rows, Row{Num: i + 2, Cells: cells})
	}
	return s
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Len returns the number of data rows.
func (s *Sheet) Len() int { return len(s.Rows) }

// Has reports whether the sheet has a column with the given name.
func (s *Sheet) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Require returns the column for name or a *MissingColumnError.
func (s *Sheet) Require(name string) (Column, error) {
	idx, ok := s.index[name]
	if !ok {
		return Column{}, &MissingColumnError{Sheet: s.Name, Column: name}
	}
	return Column{Name: name, Index: idx}, nil
}

// Resolve returns the first column present among aliases, in order. When
// none is present the returned Column is absent and reads as "".
func (s *Sheet) Resolve(aliases ...string) Column {
	for _, a := range aliases {
		if idx, ok := s.index[a]; ok {
			return Column{Name: a, Index: idx}
		}
	}
	return Column{Index: -1}
}

// Column is a resolved column position.
type Column struct {
	Name  string
	Index int
}

// Present reports whether the column exists in its sheet.
func (c Column) Present() bool { return c.Index >= 0 }

// Value returns the trimmed cell of row for this column, or "" when the
// column is absent or the row is short.
func (c Column) Value(row Row) string {
	if c.Index < 0 || c.Index >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[c.Index])
}
