package episode

import (
	"strings"

	"cloud.google.com/go/civil"
)

// DefaultGapDays is the longest gap, in whole days, between two consecutive
// appointments of one patient that still keeps them in the same episode.
const DefaultGapDays = 20

// DefaultTelemedicineClass is the patient class excluded before grouping.
const DefaultTelemedicineClass = "Telemedicine"

// Appointment is one outpatient appointment row. Display fields are already
// resolved from their column aliases when the sheet is loaded.
type Appointment struct {
	MRN          string     `json:"mrn"`
	Date         civil.Date `json:"appt_date"`
	PatientClass string     `json:"patient_class"`
	Name         string     `json:"name"`
	Service      string     `json:"service"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email"`
}

// IsClass reports whether the appointment's patient class equals class,
// ignoring surrounding whitespace.
func (a Appointment) IsClass(class string) bool {
	return strings.TrimSpace(a.PatientClass) == class
}

// Episode is a contiguous run of one patient's appointments.
type Episode struct {
	ID           int        `json:"id"`
	MRN          string     `json:"mrn"`
	Admit        civil.Date `json:"admit_date"`
	Discharge    civil.Date `json:"discharge_date"`
	Appointments int        `json:"appointments"`
}

// Covers reports whether d falls within [Admit, Discharge].
func (e Episode) Covers(d civil.Date) bool {
	return !d.Before(e.Admit) && !d.After(e.Discharge)
}

// Days returns the inclusive length of the episode in days.
func (e Episode) Days() int {
	return e.Discharge.DaysSince(e.Admit) + 1
}
