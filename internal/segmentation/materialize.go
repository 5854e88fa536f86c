package segmentation

import (
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"

	"github.com/google/uuid"
)

// MaterializeResult holds the records that matched, in input order.
type MaterializeResult struct {
	Matches []domain.Record
	Size    int
}

// IDs returns the ids of the matched records.
func (r MaterializeResult) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Matches))
	for i, rec := range r.Matches {
		ids[i] = rec.ID
	}
	return ids
}

// Materialize keeps the records matching a compiled expression. An expression
// with no complete condition matches nothing.
func Materialize(compiled filter.Compiled, records []domain.Record) MaterializeResult {
	return materialize(compiled.Match, records)
}

// MaterializeCriteria keeps the records matching compiled criteria, ancillary
// predicates included.
func MaterializeCriteria(compiled filter.CompiledCriteria, records []domain.Record) MaterializeResult {
	return materialize(compiled.Match, records)
}

func materialize(match func(domain.Record) bool, records []domain.Record) MaterializeResult {
	var result MaterializeResult
	for _, rec := range records {
		if match(rec) {
			result.Matches = append(result.Matches, rec)
		}
	}
	result.Size = len(result.Matches)
	return result
}
