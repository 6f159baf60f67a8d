package census

import (
	"github.com/ehr/census/internal/domain/episode"
	"github.com/ehr/census/internal/platform/workbook"
)

// Column names shared by both sheets.
const (
	ColApptDate     = "APPT_DATE"
	ColMRN          = "MRN"
	ColPatient      = "PATIENT"
	ColMedService   = "MED_SERVICE"
	ColPatientClass = "PATIENT_CLASS"
)

// Ordered alias lists for the outpatient display fields. The first alias
// present in the sheet header wins; if none is present the field is empty.
var (
	NameAliases    = []string{"NAME", "PATIENT", "PATIENT_NAME"}
	MRNAliases     = []string{"MRN"}
	ServiceAliases = []string{"MED_SERVICE", "SERVICE"}
	PhoneAliases   = []string{"HOME_PHONE", "PHONE"}
	EmailAliases   = []string{"EMAIL"}
)

// Decode reads both census sheets from wb.
func Decode(wb *workbook.Workbook) (*Records, error) {
	ipSheet, err := wb.Sheet(workbook.SheetInpatient)
	if err != nil {
		return nil, err
	}
	opSheet, err := wb.Sheet(workbook.SheetOutpatient)
	if err != nil {
		return nil, err
	}

	ip, err := DecodeInpatient(ipSheet)
	if err != nil {
		return nil, err
	}
	op, err := DecodeOutpatient(opSheet)
	if err != nil {
		return nil, err
	}
	return &Records{Inpatient: ip, Outpatient: op}, nil
}

// DecodeInpatient reads the inpatient sheet. APPT_DATE, MRN, PATIENT and
// MED_SERVICE are required columns.
func DecodeInpatient(s *workbook.Sheet) ([]InpatientRecord, error) {
	cols, err := requireAll(s, ColApptDate, ColMRN, ColPatient, ColMedService)
	if err != nil {
		return nil, err
	}
	dateCol, mrnCol, patientCol, svcCol := cols[0], cols[1], cols[2], cols[3]

	out := make([]InpatientRecord, 0, s.Len())
	for _, row := range s.Rows {
		mrn, err := s.RequiredCell(row, mrnCol)
		if err != nil {
			return nil, err
		}
		d, err := s.DateCell(row, dateCol)
		if err != nil {
			return nil, err
		}
		out = append(out, InpatientRecord{
			MRN:        mrn,
			Date:       d,
			Patient:    patientCol.Value(row),
			MedService: svcCol.Value(row),
		})
	}
	return out, nil
}

// DecodeOutpatient reads the outpatient sheet. APPT_DATE, MRN and
// PATIENT_CLASS are required; display fields are resolved through their
// alias lists once for the whole sheet.
func DecodeOutpatient(s *workbook.Sheet) ([]episode.Appointment, error) {
	cols, err := requireAll(s, ColApptDate, ColMRN, ColPatientClass)
	if err != nil {
		return nil, err
	}
	dateCol, classCol := cols[0], cols[2]

	mrnCol := s.Resolve(MRNAliases...)
	nameCol := s.Resolve(NameAliases...)
	svcCol := s.Resolve(ServiceAliases...)
	phoneCol := s.Resolve(PhoneAliases...)
	emailCol := s.Resolve(EmailAliases...)

	out := make([]episode.Appointment, 0, s.Len())
	for _, row := range s.Rows {
		mrn, err := s.RequiredCell(row, mrnCol)
		if err != nil {
			return nil, err
		}
		d, err := s.DateCell(row, dateCol)
		if err != nil {
			return nil, err
		}
		out = append(out, episode.Appointment{
			MRN:          mrn,
			Date:         d,
			PatientClass: classCol.Value(row),
			Name:         nameCol.Value(row),
			Service:      svcCol.Value(row),
			Phone:        phoneCol.Value(row),
			Email:        emailCol.Value(row),
		})
	}
	return out, nil
}

func requireAll(s *workbook.Sheet, names ...string) ([]workbook.Column, error) {
	cols := make([]workbook.Column, len(names))
	for i, name := range names {
		col, err := s.Require(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return cols, nil
}
