// Package census answers point-in-time questions over encounter records:
// which patients are active on a date, and how many were active on each day
// of a rolling window.
//
// Inpatient rows are present only on their own date. Outpatient rows are
// grouped into episodes first (see package episode) and a patient is active
// on every date between the episode's admit and discharge dates.
package census

import (
	"cloud.google.com/go/civil"

	"github.com/ehr/census/internal/domain/episode"
)

// DefaultWindowDays is the length of the rolling trend window.
const DefaultWindowDays = 30

// Engine computes rosters and trends. It holds no state between calls.
type Engine struct {
	builder *episode.Builder
}

// NewEngine returns an Engine using b to build episodes. A nil b means the
// default builder.
func NewEngine(b *episode.Builder) *Engine {
	if b == nil {
		b = episode.NewBuilder()
	}
	return &Engine{builder: b}
}

// Episodes builds the episode table for the outpatient records.
func (e *Engine) Episodes(op []episode.Appointment) *episode.Table {
	return e.builder.Build(op)
}

// Roster returns the patients active on date: inpatient rows first, then
// outpatient rows. A patient present in both sources appears once per source.
func (e *Engine) Roster(ip []InpatientRecord, op []episode.Appointment, date civil.Date) []RosterEntry {
	return e.RosterFromTable(ip, e.Episodes(op), date)
}

// RosterFromTable is Roster over an already built episode table.
func (e *Engine) RosterFromTable(ip []InpatientRecord, tbl *episode.Table, date civil.Date) []RosterEntry {
	out := InpatientRoster(ip, date)
	return append(out, OutpatientRoster(tbl, date)...)
}

// InpatientRoster returns one entry per MRN with an inpatient row on date.
// The first row of an MRN, in input order, supplies the display fields.
func InpatientRoster(ip []InpatientRecord, date civil.Date) []RosterEntry {
	seen := make(map[string]bool)
	out := make([]RosterEntry, 0)
	for _, r := range ip {
		if r.Date != date || seen[r.MRN] {
			continue
		}
		seen[r.MRN] = true
		out = append(out, RosterEntry{
			Patient:    r.Patient,
			MRN:        r.MRN,
			MedService: r.MedService,
			Source:     SourceIP,
		})
	}
	return out
}

// OutpatientRoster returns one entry per (MRN, admit date) whose episode
// covers date. The first appointment of the episode in (MRN, date) order
// supplies the display fields.
func OutpatientRoster(tbl *episode.Table, date civil.Date) []RosterEntry {
	type key struct {
		mrn   string
		admit civil.Date
	}
	seen := make(map[key]bool)
	out := make([]RosterEntry, 0)
	for i, a := range tbl.Appointments {
		ep := tbl.EpisodeOf(i)
		if !ep.Covers(date) {
			continue
		}
		k := key{mrn: ep.MRN, admit: ep.Admit}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, RosterEntry{
			Patient:    a.Name,
			MRN:        a.MRN,
			MedService: a.Service,
			HomePhone:  a.Phone,
			Email:      a.Email,
			Source:     SourceNewOP,
		})
	}
	return out
}

// Trend returns one DailyCount for every date from end-days to end
// inclusive. Episodes are built once and reused for every date.
func (e *Engine) Trend(ip []InpatientRecord, op []episode.Appointment, end civil.Date, days int) []DailyCount {
	return TrendFromTable(ip, e.Episodes(op), end, days)
}

// TrendFromTable is Trend over an already built episode table.
func TrendFromTable(ip []InpatientRecord, tbl *episode.Table, end civil.Date, days int) []DailyCount {
	if days < 0 {
		days = 0
	}
	start := end.AddDays(-days)

	ipByDate := make(map[civil.Date]map[string]struct{})
	for _, r := range ip {
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		set, ok := ipByDate[r.Date]
		if !ok {
			set = make(map[string]struct{})
			ipByDate[r.Date] = set
		}
		set[r.MRN] = struct{}{}
	}

	out := make([]DailyCount, 0, days+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		ipSet := ipByDate[d]
		opSet := make(map[string]struct{})
		for _, ep := range tbl.Episodes {
			if ep.Covers(d) {
				opSet[ep.MRN] = struct{}{}
			}
		}

		union := len(ipSet)
		for mrn := range opSet {
			if _, dup := ipSet[mrn]; !dup {
				union++
			}
		}
		out = append(out, DailyCount{Date: d, IP: len(ipSet), NewOP: len(opSet), Total: union})
	}
	return out
}

var defaultEngine = NewEngine(nil)

// Roster runs the default engine. See Engine.Roster.
func Roster(ip []InpatientRecord, op []episode.Appointment, date civil.Date) []RosterEntry {
	return defaultEngine.Roster(ip, op, date)
}

// Trend runs the default engine. See Engine.Trend.
func Trend(ip []InpatientRecord, op []episode.Appointment, end civil.Date, days int) []DailyCount {
	return defaultEngine.Trend(ip, op, end, days)
}
