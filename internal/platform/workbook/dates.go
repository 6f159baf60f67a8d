package workbook

import (
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// maxExcelSerial is the serial number of 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958465

// excelLeapBugSerial is 1900-02-29, a day that exists only in Excel.
const excelLeapBugSerial = 60

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006 15:04:05",
	"20060102",
}

// ParseDate parses a text cell into a calendar date using dateLayouts. Any
// time of day is dropped. Bare numbers are rejected; see ParseSerialDate.
func ParseDate(raw string) (civil.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return civil.Date{}, ErrMissingValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, ErrInvalidDate
}

// ParseSerialDate parses a raw .xlsx date cell. Plain serial numbers
// ("45301", "45301.75") are read in the 1900 date system; anything else
// falls back to ParseDate.
func ParseSerialDate(raw string) (civil.Date, error) {
	raw = strings.TrimSpace(raw)
	if !isPlainDecimal(raw) {
		return ParseDate(raw)
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || serial < 1 || serial >= maxExcelSerial+1 {
		// "20240110" and friends.
		return ParseDate(raw)
	}
	days := int(math.Floor(serial))
	switch {
	case days == excelLeapBugSerial:
		return civil.Date{}, ErrInvalidDate
	case days < excelLeapBugSerial:
		return civil.Date{Year: 1899, Month: time.December, Day: 31}.AddDays(days), nil
	default:
		return civil.Date{Year: 1899, Month: time.December, Day: 30}.AddDays(days), nil
	}
}

// isPlainDecimal reports whether s is digits with at most one decimal point
// and no sign or exponent.
func isPlainDecimal(s string) bool {
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

// DateCell parses the date in col of row. Sheets read from .xlsx also
// accept Excel serial numbers. It returns a *CellError that
// names the sheet, row and column when the cell is blank or unparsable.
func (s *Sheet) DateCell(row Row, col Column) (civil.Date, error) {
	raw := col.Value(row)
	parse := ParseDate
	if s.SerialDates {
		parse = ParseSerialDate
	}
	d, err := parse(raw)
	if err != nil {
		return civil.Date{}, &CellError{Sheet: s.Name, Row: row.Num, Column: col.Name, Value: raw, Err: err}
	}
	return d, nil
}

// RequiredCell returns the trimmed value of col in row, or a *CellError
// wrapping ErrMissingValue when it is blank.
func (s *Sheet) RequiredCell(row Row, col Column) (string, error) {
	v := col.Value(row)
	if v == "" {
		return "", &CellError{Sheet: s.Name, Row: row.Num, Column: col.Name, Err: ErrMissingValue}
	}
	return v, nil
}
