package census

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ehr/census/internal/platform/workbook"
)

func csvWorkbook(t *testing.T, ip, op string) *workbook.Workbook {
	t.Helper()
	sheets := map[string]io.Reader{}
	if ip != "" {
		sheets[workbook.SheetInpatient] = strings.NewReader(ip)
	}
	if op != "" {
		sheets[workbook.SheetOutpatient] = strings.NewReader(op)
	}
	wb, err := workbook.FromCSV(sheets)
	if err != nil {
		t.Fatalf("FromCSV: %v", err)
	}
	return wb
}

const (
	ipCSV = "PATIENT,MRN,MED_SERVICE,APPT_DATE\nDoe Jane,100,Medicine,2024-01-10\n"
	opCSV = "NAME,MRN,SERVICE,HOME_PHONE,EMAIL,APPT_DATE,PATIENT_CLASS\n" +
		"Roe Rick,200,Cardiology,555-0200,rick@example.com,2024-01-01,Outpatient\n" +
		"Roe Rick,200,Cardiology,555-0200,rick@example.com,01/15/2024,Outpatient\n"
)

func TestDecode_Scenario(t *testing.T) {
	recs, err := Decode(csvWorkbook(t, ipCSV, opCSV))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(recs.Inpatient) != 1 || len(recs.Outpatient) != 2 {
		t.Fatalf("unexpected record counts: %d ip, %d op", len(recs.Inpatient), len(recs.Outpatient))
	}

	ip := recs.Inpatient[0]
	if ip.MRN != "100" || ip.Date != day("2024-01-10") || ip.Patient != "Doe Jane" || ip.MedService != "Medicine" {
		t.Errorf("unexpected inpatient record: %+v", ip)
	}

	op := recs.Outpatient[1]
	if op.Date != day("2024-01-15") {
		t.Errorf("expected US-style date to parse, got %s", op.Date)
	}
	if op.Name != "Roe Rick" || op.Service != "Cardiology" || op.Phone != "555-0200" || op.Email != "rick@example.com" {
		t.Errorf("unexpected display fields: %+v", op)
	}
}

func TestDecodeOutpatient_AliasFallback(t *testing.T) {
	tests := []struct {
		name      string
		csv       string
		wantName  string
		wantSvc   string
		wantPhone string
	}{
		{
			name:      "secondary aliases",
			csv:       "PATIENT_NAME,MRN,MED_SERVICE,PHONE,APPT_DATE,PATIENT_CLASS\nAl,200,Neuro,555-1,2024-01-01,Outpatient\n",
			wantName:  "Al",
			wantSvc:   "Neuro",
			wantPhone: "555-1",
		},
		{
			name:     "PATIENT before PATIENT_NAME",
			csv:      "PATIENT_NAME,PATIENT,MRN,APPT_DATE,PATIENT_CLASS\nLong,Short,200,2024-01-01,Outpatient\n",
			wantName: "Short",
		},
		{
			name:     "MED_SERVICE preferred over SERVICE",
			csv:      "SERVICE,MED_SERVICE,MRN,APPT_DATE,PATIENT_CLASS\nGeneral,Specific,200,2024-01-01,Outpatient\n",
			wantSvc: "Specific",
		},
		{
			name: "no optional columns",
			csv:  "MRN,APPT_DATE,PATIENT_CLASS\n200,2024-01-01,Outpatient\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Decode(csvWorkbook(t, ipCSV, tt.csv))
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			a := recs.Outpatient[0]
			if a.Name != tt.wantName || a.Service != tt.wantSvc || a.Phone != tt.wantPhone {
				t.Errorf("got name=%q service=%q phone=%q", a.Name, a.Service, a.Phone)
			}
			if a.Email != "" {
				t.Errorf("expected empty email, got %q", a.Email)
			}
		})
	}
}

func TestDecode_MissingColumn(t *testing.T) {
	tests := []struct {
		name       string
		ip, op     string
		wantSheet  string
		wantColumn string
	}{
		{"ip med service", "PATIENT,MRN,APPT_DATE\nA,1,2024-01-01\n", opCSV, "IP", "MED_SERVICE"},
		{"ip date", "PATIENT,MRN,MED_SERVICE\nA,1,Med\n", opCSV, "IP", "APPT_DATE"},
		{"op class", ipCSV, "MRN,APPT_DATE\n1,2024-01-01\n", "New OP", "PATIENT_CLASS"},
		{"op mrn", ipCSV, "NAME,APPT_DATE,PATIENT_CLASS\nA,2024-01-01,Outpatient\n", "New OP", "MRN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(csvWorkbook(t, tt.ip, tt.op))
			var colErr *workbook.MissingColumnError
			if !errors.As(err, &colErr) {
				t.Fatalf("expected MissingColumnError, got %v", err)
			}
			if colErr.Sheet != tt.wantSheet || colErr.Column != tt.wantColumn {
				t.Errorf("expected %s/%s, got %s/%s", tt.wantSheet, tt.wantColumn, colErr.Sheet, colErr.Column)
			}
			if !workbook.IsInputError(err) {
				t.Error("expected an input error")
			}
		})
	}
}

func TestDecode_InvalidDate(t *testing.T) {
	op := "MRN,APPT_DATE,PATIENT_CLASS\n200,2024-01-01,Outpatient\n200,next tuesday,Outpatient\n"

	_, err := Decode(csvWorkbook(t, ipCSV, op))
	var cellErr *workbook.CellError
	if !errors.As(err, &cellErr) {
		t.Fatalf("expected CellError, got %v", err)
	}
	if cellErr.Sheet != "New OP" || cellErr.Row != 3 || cellErr.Column != "APPT_DATE" {
		t.Errorf("unexpected location: %+v", cellErr)
	}
	if !errors.Is(err, workbook.ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestDecode_BlankMRN(t *testing.T) {
	ip := "PATIENT,MRN,MED_SERVICE,APPT_DATE\nA,,Med,2024-01-10\n"

	_, err := Decode(csvWorkbook(t, ip, opCSV))
	if !errors.Is(err, workbook.ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	var cellErr *workbook.CellError
	if errors.As(err, &cellErr) && (cellErr.Sheet != "IP" || cellErr.Column != "MRN") {
		t.Errorf("unexpected location: %+v", cellErr)
	}
}

func TestDecode_MissingSheet(t *testing.T) {
	_, err := Decode(csvWorkbook(t, ipCSV, ""))
	var sheetErr *workbook.MissingSheetError
	if !errors.As(err, &sheetErr) {
		t.Fatalf("expected MissingSheetError, got %v", err)
	}
	if sheetErr.Sheet != "New OP" {
		t.Errorf("expected New OP, got %q", sheetErr.Sheet)
	}
}

func TestDecode_HeaderOnlySheetsAreValid(t *testing.T) {
	recs, err := Decode(csvWorkbook(t,
		"PATIENT,MRN,MED_SERVICE,APPT_DATE\n",
		"MRN,APPT_DATE,PATIENT_CLASS\n\n,,\n"))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(recs.Inpatient) != 0 || len(recs.Outpatient) != 0 {
		t.Errorf("expected no records, got %+v", recs)
	}
}
