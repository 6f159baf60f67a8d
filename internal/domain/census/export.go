package census

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/ehr/census/internal/platform/export"
)

// RosterHeader is the fixed column layout of a roster export.
var RosterHeader = []string{"PATIENT", "MRN", "MED_SERVICE", "HOME_PHONE", "EMAIL", "SOURCE"}

// TrendHeader is the column layout of a trend export.
var TrendHeader = []string{"Date", "IP Patients", "New OP Patients", "Total Unique Patients"}

// RosterFilename returns the export file name for a roster of date.
func RosterFilename(date civil.Date, f export.Format) string {
	return fmt.Sprintf("patient_data_%s.%s", date, f.Ext())
}

// TrendFilename returns the export file name for a trend ending on end.
func TrendFilename(end civil.Date, days int, f export.Format) string {
	return fmt.Sprintf("patient_trend_%s_%dd.%s", end, days, f.Ext())
}

// Record returns the entry in RosterHeader column order.
func (e RosterEntry) Record() []string {
	return []string{e.Patient, e.MRN, e.MedService, e.HomePhone, e.Email, e.Source}
}

// Record returns the count in TrendHeader column order.
func (c DailyCount) Record() []string {
	return []string{c.Date.String(), strconv.Itoa(c.IP), strconv.Itoa(c.NewOP), strconv.Itoa(c.Total)}
}

// WriteRosterCSV writes entries with a RosterHeader header row.
func WriteRosterCSV(w io.Writer, entries []RosterEntry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = e.Record()
	}
	return export.WriteCSV(w, RosterHeader, rows)
}

// WriteTrendCSV writes counts with a TrendHeader header row.
func WriteTrendCSV(w io.Writer, counts []DailyCount) error {
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = c.Record()
	}
	return export.WriteCSV(w, TrendHeader, rows)
}

type rosterParquetRow struct {
	Patient    string `parquet:"PATIENT"`
	MRN        string `parquet:"MRN"`
	MedService string `parquet:"MED_SERVICE"`
	HomePhone  string `parquet:"HOME_PHONE"`
	Email      string `parquet:"EMAIL"`
	Source     string `parquet:"SOURCE"`
}

type trendParquetRow struct {
	Date  string `parquet:"date"`
	IP    int32  `parquet:"ip_patients"`
	NewOP int32  `parquet:"new_op_patients"`
	Total int32  `parquet:"total_unique_patients"`
}

// WriteRosterParquet writes entries as Parquet with RosterHeader columns.
func WriteRosterParquet(w io.Writer, entries []RosterEntry) error {
	rows := make([]rosterParquetRow, len(entries))
	for i, e := range entries {
		rows[i] = rosterParquetRow(e)
	}
	return export.WriteParquet(w, rows)
}

// WriteTrendParquet writes counts as Parquet.
func WriteTrendParquet(w io.Writer, counts []DailyCount) error {
	rows := make([]trendParquetRow, len(counts))
	for i, c := range counts {
		rows[i] = trendParquetRow{
			Date:  c.Date.String(),
			IP:    int32(c.IP),
			NewOP: int32(c.NewOP),
			Total: int32(c.Total),
		}
	}
	return export.WriteParquet(w, rows)
}

// ChartSeries is the trend in column form, ready for a grouped bar or line
// chart keyed by date.
type ChartSeries struct {
	Date  []string `json:"Date"`
	IP    []int    `json:"IP Patients"`
	NewOP []int    `json:"New OP Patients"`
	Total []int    `json:"Total Unique Patients"`
}

// NewChartSeries pivots counts into columns.
func NewChartSeries(counts []DailyCount) ChartSeries {
	s := ChartSeries{
		Date:  make([]string, len(counts)),
		IP:    make([]int, len(counts)),
		NewOP: make([]int, len(counts)),
		Total: make([]int, len(counts)),
	}
	for i, c := range counts {
		s.Date[i] = c.Date.String()
		s.IP[i] = c.IP
		s.NewOP[i] = c.NewOP
		s.Total[i] = c.Total
	}
	return s
}

// WriteRoster encodes entries in format f.
func WriteRoster(w io.Writer, f export.Format, entries []RosterEntry) error {
	switch f {
	case export.FormatCSV:
		return WriteRosterCSV(w, entries)
	case export.FormatParquet:
		return WriteRosterParquet(w, entries)
	default:
		return writeJSON(w, entries)
	}
}

// WriteTrend encodes counts in format f.
func WriteTrend(w io.Writer, f export.Format, counts []DailyCount) error {
	switch f {
	case export.FormatCSV:
		return WriteTrendCSV(w, counts)
	case export.FormatParquet:
		return WriteTrendParquet(w, counts)
	default:
		return writeJSON(w, counts)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
