package census

import (
	"cloud.google.com/go/civil"

	"github.com/ehr/census/internal/domain/episode"
)

// Roster provenance tags.
const (
	SourceIP    = "IP"
	SourceNewOP = "New OP"
)

// InpatientRecord is one row of the inpatient sheet. Presence is exactly
// the appointment date.
type InpatientRecord struct {
	MRN        string     `json:"mrn"`
	Date       civil.Date `json:"appt_date"`
	Patient    string     `json:"patient"`
	MedService string     `json:"med_service"`
}

// Records are the two decoded input sets of one query.
type Records struct {
	Inpatient  []InpatientRecord     `json:"inpatient"`
	Outpatient []episode.Appointment `json:"outpatient"`
}

// RosterEntry is one patient active on the query date.
type RosterEntry struct {
	Patient    string `json:"patient"`
	MRN        string `json:"mrn"`
	MedService string `json:"med_service"`
	HomePhone  string `json:"home_phone"`
	Email      string `json:"email"`
	Source     string `json:"source"`
}

// DailyCount is one point of the rolling trend.
type DailyCount struct {
	Date  civil.Date `json:"date"`
	IP    int        `json:"ip_patients"`
	NewOP int        `json:"new_op_patients"`
	Total int        `json:"total_unique_patients"`
}
