package census

import (
	"context"

	"github.com/ehr/census/internal/domain/episode"
)

// SourceRepository reads encounter records from a warehouse instead of an
// uploaded workbook. Implementations are read-only.
type SourceRepository interface {
	ListInpatient(ctx context.Context) ([]InpatientRecord, error)
	ListOutpatient(ctx context.Context) ([]episode.Appointment, error)
}
