package filter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rpattn/segmentql/internal/domain"
)

// Serialize encodes criteria into the persisted document. A single anonymous
// group is written in the legacy flattened form only; every other shape is
// written in both forms so legacy readers still see the flattened conditions.
func Serialize(criteria domain.FilterCriteria) ([]byte, error) {
	data, err := json.Marshal(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize filter criteria: %w", err)
	}
	return data, nil
}

// Deserialize decodes a persisted document. The structured form wins when
// present; otherwise a non-empty legacy conditions array becomes one group
// with an empty id. Empty input yields zero criteria.
//
// Empty lists are normalized to nil: a group stored with no conditions comes
// back with nil Conditions, and a document with no groups comes back with nil
// Groups.
func Deserialize(data []byte) (domain.FilterCriteria, error) {
	var criteria domain.FilterCriteria
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return criteria, nil
	}
	if err := json.Unmarshal(trimmed, &criteria); err != nil {
		return domain.FilterCriteria{}, fmt.Errorf("failed to deserialize filter criteria: %w", err)
	}
	return criteria, nil
}
