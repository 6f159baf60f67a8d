package census

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/census/internal/domain/episode"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type sourceRepoPG struct{ conn queryable }

func NewSourceRepoPG(pool *pgxpool.Pool) SourceRepository {
	return newSourceRepo(pool)
}

func newSourceRepo(conn queryable) *sourceRepoPG {
	return &sourceRepoPG{conn: conn}
}

// Rows are read in load order so that "first occurrence wins" matches the
// order of the original extract.
const (
	inpatientSQL = `SELECT mrn, appt_date, COALESCE(patient, ''), COALESCE(med_service, '')
		FROM census_inpatient ORDER BY row_id`
	outpatientSQL = `SELECT mrn, appt_date, COALESCE(patient_class, ''), COALESCE(patient_name, ''),
			COALESCE(service, ''), COALESCE(home_phone, ''), COALESCE(email, '')
		FROM census_outpatient ORDER BY row_id`
)

func (r *sourceRepoPG) ListInpatient(ctx context.Context) ([]InpatientRecord, error) {
	rows, err := r.conn.Query(ctx, inpatientSQL)
	if err != nil {
		return nil, fmt.Errorf("query census_inpatient: %w", err)
	}
	defer rows.Close()

	var out []InpatientRecord
	for rows.Next() {
		var rec InpatientRecord
		var d time.Time
		if err := rows.Scan(&rec.MRN, &d, &rec.Patient, &rec.MedService); err != nil {
			return nil, fmt.Errorf("scan census_inpatient: %w", err)
		}
		rec.Date = civil.DateOf(d)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate census_inpatient: %w", err)
	}
	return out, nil
}

func (r *sourceRepoPG) ListOutpatient(ctx context.Context) ([]episode.Appointment, error) {
	rows, err := r.conn.Query(ctx, outpatientSQL)
	if err != nil {
		return nil, fmt.Errorf("query census_outpatient: %w", err)
	}
	defer rows.Close()

	var out []episode.Appointment
	for rows.Next() {
		var a episode.Appointment
		var d time.Time
		if err := rows.Scan(&a.MRN, &d, &a.PatientClass, &a.Name, &a.Service, &a.Phone, &a.Email); err != nil {
			return nil, fmt.Errorf("scan census_outpatient: %w", err)
		}
		a.Date = civil.DateOf(d)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate census_outpatient: %w", err)
	}
	return out, nil
}
