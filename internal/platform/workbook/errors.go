package workbook

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrMissingValue = errors.New("missing value")
)

// MissingSheetError is returned when a required sheet is not in the workbook.
type MissingSheetError struct {
	Sheet string
}

func (e *MissingSheetError) Error() string {
	return fmt.Sprintf("workbook has no sheet named %q", e.Sheet)
}

// MissingColumnError is returned when a sheet lacks a required column.
type MissingColumnError struct {
	Sheet  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("sheet %q: missing required column %q", e.Sheet, e.Column)
}

// CellError locates a bad cell. Row is the 1-based spreadsheet row number,
// counting the header as row 1.
type CellError struct {
	Sheet  string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *CellError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("sheet %q row %d column %q: %v", e.Sheet, e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("sheet %q row %d column %q: %v: %q", e.Sheet, e.Row, e.Column, e.Err, e.Value)
}

func (e *CellError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by the workbook's content
// rather than by I/O.
func IsInputError(err error) bool {
	var sheetErr *MissingSheetError
	var colErr *MissingColumnError
	var cellErr *CellError
	return errors.As(err, &sheetErr) || errors.As(err, &colErr) || errors.As(err, &cellErr)
}
