package workbook

import (
	"errors"
	"testing"
)

func TestNewSheet_TrimsHeaders(t *testing.T) {
	s := NewSheet("IP", [][]string{
		{" MRN ", "APPT_DATE\t", "PATIENT"},
		{"100", "2024-01-10", "Doe, Jane"},
	})

	if !s.Has("MRN") || !s.Has("APPT_DATE") {
		t.Fatalf("expected trimmed headers, got %q", s.Header)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", s.Len())
	}
}

func TestNewSheet_SkipsBlankRowsKeepsRowNumbers(t *testing.T) {
	s := NewSheet("New OP", [][]string{
		{"MRN", "APPT_DATE"},
		{"1", "2024-01-01"},
		{"", "  "},
		{},
		{"2", "2024-01-02"},
	})

	if s.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", s.Len())
	}
	if s.Rows[0].Num != 2 {
		t.Errorf("expected first row number 2, got %d", s.Rows[0].Num)
	}
	if s.Rows[1].Num != 5 {
		t.Errorf("expected second row number 5, got %d", s.Rows[1].Num)
	}
}

func TestNewSheet_Empty(t *testing.T) {
	s := NewSheet("IP", nil)
	if s.Len() != 0 {
		t.Errorf("expected no rows, got %d", s.Len())
	}
	if _, err := s.Require("MRN"); err == nil {
		t.Error("expected missing column error on an empty sheet")
	}
}

func TestSheet_Require(t *testing.T) {
	s := NewSheet("New OP", [][]string{{"MRN"}})

	col, err := s.Require("MRN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if col.Index != 0 || col.Name != "MRN" {
		t.Errorf("unexpected column %+v", col)
	}

	_, err = s.Require("APPT_DATE")
	var colErr *MissingColumnError
	if !errors.As(err, &colErr) {
		t.Fatalf("expected *MissingColumnError, got %T", err)
	}
	if colErr.Sheet != "New OP" || colErr.Column != "APPT_DATE" {
		t.Errorf("unexpected error fields %+v", colErr)
	}
	if !IsInputError(err) {
		t.Error("expected IsInputError to be true")
	}
}

func TestSheet_ResolveFirstAliasWins(t *testing.T) {
	s := NewSheet("New OP", [][]string{
		{"PATIENT_NAME", "PATIENT", "PHONE"},
		{"Name From PATIENT_NAME", "Name From PATIENT", "555-0100"},
	})

	name := s.Resolve("NAME", "PATIENT", "PATIENT_NAME")
	if name.Name != "PATIENT" {
		t.Errorf("expected PATIENT to win, got %q", name.Name)
	}
	if got := name.Value(s.Rows[0]); got != "Name From PATIENT" {
		t.Errorf("unexpected value %q", got)
	}

	phone := s.Resolve("HOME_PHONE", "PHONE")
	if got := phone.Value(s.Rows[0]); got != "555-0100" {
		t.Errorf("expected PHONE fallback, got %q", got)
	}
}

func TestSheet_ResolveAbsentReadsEmpty(t *testing.T) {
	s := NewSheet("New OP", [][]string{{"MRN"}, {"1"}})
	email := s.Resolve("EMAIL")
	if email.Present() {
		t.Fatal("expected EMAIL to be absent")
	}
	if got := email.Value(s.Rows[0]); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestColumn_ValueShortRow(t *testing.T) {
	s := NewSheet("IP", [][]string{{"MRN", "PATIENT", "MED_SERVICE"}, {"1"}})
	svc, _ := s.Require("MED_SERVICE")
	if got := svc.Value(s.Rows[0]); got != "" {
		t.Errorf("expected empty value for short row, got %q", got)
	}
}

func TestSheet_RequiredCell(t *testing.T) {
	s := NewSheet("IP", [][]string{{"MRN", "PATIENT"}, {"", "Someone"}})
	mrn, _ := s.Require("MRN")

	_, err := s.RequiredCell(s.Rows[0], mrn)
	var cellErr *CellError
	if !errors.As(err, &cellErr) {
		t.Fatalf("expected *CellError, got %T", err)
	}
	if cellErr.Row != 2 || cellErr.Column != "MRN" {
		t.Errorf("unexpected location row=%d column=%s", cellErr.Row, cellErr.Column)
	}
	if !errors.Is(err, ErrMissingValue) {
		t.Error("expected ErrMissingValue")
	}
}
