package episode

import "cloud.google.com/go/civil"

// Table is the result of one episode build. Appointments and IDs are
// parallel slices in (MRN, date) order; Episodes are in id order.
type Table struct {
	Appointments []Appointment `json:"-"`
	IDs          []int         `json:"-"`
	Episodes     []Episode     `json:"episodes"`

	byID map[int]int
}

// Len returns the number of grouped appointments.
func (t *Table) Len() int { return len(t.Appointments) }

// EpisodeOf returns the episode the i-th sorted appointment belongs to.
func (t *Table) EpisodeOf(i int) Episode {
	if t.byID == nil {
		t.index()
	}
	return t.Episodes[t.byID[t.IDs[i]]]
}

func (t *Table) index() {
	t.byID = make(map[int]int, len(t.Episodes))
	for pos, ep := range t.Episodes {
		t.byID[ep.ID] = pos
	}
}

// Covering returns the episodes active on d, in id order.
func (t *Table) Covering(d civil.Date) []Episode {
	var out []Episode
	for _, ep := range t.Episodes {
		if ep.Covers(d) {
			out = append(out, ep)
		}
	}
	return out
}

// ForMRN returns the episodes of one patient, in admit order.
func (t *Table) ForMRN(mrn string) []Episode {
	var out []Episode
	for _, ep := range t.Episodes {
		if ep.MRN == mrn {
			out = append(out, ep)
		}
	}
	return out
}
