package census

import (
	"bytes"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/census/internal/domain/episode"
)

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ipRec(mrn, date, patient, svc string) InpatientRecord {
	return InpatientRecord{MRN: mrn, Date: day(date), Patient: patient, MedService: svc}
}

func opAppt(mrn, date, class string) episode.Appointment {
	return episode.Appointment{MRN: mrn, Date: day(date), PatientClass: class}
}

// scenarioRecords: MRN 100 inpatient on 2024-01-10; MRN 200 outpatient on
// 2024-01-01 and 2024-01-15.
func scenarioRecords() *Records {
	op1 := opAppt("200", "2024-01-01", "Outpatient")
	op1.Name = "Roe, Rick"
	op1.Service = "Cardiology"
	op1.Phone = "555-0200"
	op1.Email = "rick@example.com"
	op2 := opAppt("200", "2024-01-15", "Outpatient")
	op2.Name = "Roe, Rick"

	return &Records{
		Inpatient:  []InpatientRecord{ipRec("100", "2024-01-10", "Doe, Jane", "Medicine")},
		Outpatient: []episode.Appointment{op1, op2},
	}
}

var scenarioSheets = map[string][][]interface{}{
	"IP": {
		{"PATIENT", "MRN", "MED_SERVICE", "APPT_DATE"},
		{"Doe, Jane", "100", "Medicine", "2024-01-10"},
	},
	"New OP": {
		{"NAME", "MRN", "SERVICE", "HOME_PHONE", "EMAIL", "APPT_DATE", "PATIENT_CLASS"},
		{"Roe, Rick", "200", "Cardiology", "555-0200", "rick@example.com", "2024-01-01", "Outpatient"},
		{"Roe, Rick", "200", "Cardiology", "555-0200", "rick@example.com", "2024-01-15", "Outpatient"},
		{"Poe, Pat", "300", "Psych", "", "", "2024-01-09", "Telemedicine"},
	},
}

func buildXLSX(t *testing.T, sheets map[string][][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for i, row := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			r := row
			if err := f.SetSheetRow(name, cell, &r); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
