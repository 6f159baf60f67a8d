// Package episode groups a patient's outpatient appointments into episodes
// using an inactivity-gap rule.
//
// Grouping is sequential: appointments are sorted by (MRN, date) and walked
// once. A new episode starts on the first appointment, on an MRN change, or
// when the gap from the previous appointment is strictly greater than the
// configured gap. Two runs of the same patient are never merged, even if a
// later run would overlap an earlier one.
package episode

import (
	"sort"

	"cloud.google.com/go/civil"
)

// Builder builds episode tables. The zero value is not usable; use NewBuilder.
type Builder struct {
	GapDays           int
	TelemedicineClass string
}

// NewBuilder returns a Builder with the default 20-day gap and the
// "Telemedicine" exclusion class.
func NewBuilder() *Builder {
	return &Builder{
		GapDays:           DefaultGapDays,
		TelemedicineClass: DefaultTelemedicineClass,
	}
}

// Build excludes telemedicine appointments, sorts the rest and groups them
// into episodes.
func (b *Builder) Build(appts []Appointment) *Table {
	sorted := Sort(ExcludeClass(appts, b.TelemedicineClass))
	ids := Assign(sorted, b.GapDays)
	t := &Table{
		Appointments: sorted,
		IDs:          ids,
		Episodes:     Aggregate(sorted, ids),
	}
	t.index()
	return t
}

// Build runs the default Builder over appts.
func Build(appts []Appointment) *Table {
	return NewBuilder().Build(appts)
}

// ExcludeClass returns the appointments whose patient class is not class.
// The input slice is not modified.
func ExcludeClass(appts []Appointment, class string) []Appointment {
	out := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.IsClass(class) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ExcludeTelemedicine drops appointments tagged with the default
// telemedicine class.
func ExcludeTelemedicine(appts []Appointment) []Appointment {
	return ExcludeClass(appts, DefaultTelemedicineClass)
}

// Sort returns a copy of appts ordered by MRN, then date. Ties keep their
// input order so repeated runs over the same input agree.
func Sort(appts []Appointment) []Appointment {
	out := make([]Appointment, len(appts))
	copy(out, appts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MRN != out[j].MRN {
			return out[i].MRN < out[j].MRN
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Assign returns the episode id of every appointment in sorted, which must
// already be ordered by (MRN, date). Ids start at 1 and increase by one each
// time a new episode starts.
func Assign(sorted []Appointment, gapDays int) []int {
	ids := make([]int, len(sorted))
	id := 0
	var prevMRN string
	var prevDate civil.Date
	for i, a := range sorted {
		if i == 0 || a.MRN != prevMRN || a.Date.DaysSince(prevDate) > gapDays {
			id++
		}
		ids[i] = id
		prevMRN = a.MRN
		prevDate = a.Date
	}
	return ids
}

// Aggregate computes the admit (min) and discharge (max) date of every
// (MRN, id) group. Episodes are returned in order of first appearance.
func Aggregate(sorted []Appointment, ids []int) []Episode {
	type key struct {
		mrn string
		id  int
	}
	index := make(map[key]int)
	var episodes []Episode
	for i, a := range sorted {
		k := key{mrn: a.MRN, id: ids[i]}
		pos, ok := index[k]
		if !ok {
			index[k] = len(episodes)
			episodes = append(episodes, Episode{
				ID:           ids[i],
				MRN:          a.MRN,
				Admit:        a.Date,
				Discharge:    a.Date,
				Appointments: 1,
			})
			continue
		}
		ep := &episodes[pos]
		if a.Date.Before(ep.Admit) {
			ep.Admit = a.Date
		}
		if a.Date.After(ep.Discharge) {
			ep.Discharge = a.Date
		}
		ep.Appointments++
	}
	return episodes
}
