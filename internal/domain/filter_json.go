package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// criteriaDocument is the JSON form of FilterCriteria, used both for storage
// and on the wire. Conditions holds the flattened legacy form and is always
// written; FilterGroups carries the structured form whenever the legacy form
// alone would lose information.
type criteriaDocument struct {
	Conditions   []conditionDocument `json:"conditions"`
	FilterGroups []groupDocument     `json:"filterGroups,omitempty"`
	ProfileType  string              `json:"profileType,omitempty"`
	SearchTerm   string              `json:"searchTerm,omitempty"`
}

// criteriaInput mirrors criteriaDocument for reading. FilterGroups is a
// pointer to tell an absent key from an explicit empty array.
type criteriaInput struct {
	Conditions   []conditionDocument `json:"conditions"`
	FilterGroups *[]groupDocument    `json:"filterGroups"`
	ProfileType  string              `json:"profileType"`
	SearchTerm   string              `json:"searchTerm"`
}

type groupDocument struct {
	ID         string              `json:"id"`
	Conditions []conditionDocument `json:"conditions"`
}

type conditionDocument struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    scalarValue `json:"value"`
}

// scalarValue accepts any JSON scalar on read and always writes a string.
// Older documents stored numbers and booleans unquoted.
type scalarValue string

func (v *scalarValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = scalarValue(s)
		return nil
	}
	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case bool:
		*v = scalarValue(strconv.FormatBool(typed))
	case float64:
		*v = scalarValue(strconv.FormatFloat(typed, 'f', -1, 64))
	default:
		*v = scalarValue(trimmed)
	}
	return nil
}

// MarshalJSON writes the criteria document. A single anonymous group is
// written in the legacy flattened form only; every other shape is written in
// both forms so legacy readers still see the flattened conditions.
func (c FilterCriteria) MarshalJSON() ([]byte, error) {
	doc := criteriaDocument{
		Conditions:  []conditionDocument{},
		ProfileType: c.ProfileType,
		SearchTerm:  c.SearchTerm,
	}

	groups := c.Expression.Groups
	for _, group := range groups {
		doc.Conditions = append(doc.Conditions, toConditionDocuments(group.Conditions)...)
	}

	if !isLegacyShape(groups) {
		doc.FilterGroups = make([]groupDocument, 0, len(groups))
		for _, group := range groups {
			doc.FilterGroups = append(doc.FilterGroups, groupDocument{
				ID:         group.ID,
				Conditions: toConditionDocuments(group.Conditions),
			})
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads a criteria document. The structured form wins when
// present; otherwise a non-empty legacy conditions array becomes one group
// with an empty id. Unknown keys are ignored so older stored documents still
// load; use DecodeFilterCriteriaStrict for client input.
func (c *FilterCriteria) UnmarshalJSON(data []byte) error {
	criteria, err := decodeCriteria(data, false)
	if err != nil {
		return err
	}
	*c = criteria
	return nil
}

// DecodeFilterCriteriaStrict reads a criteria document and rejects unknown
// keys at every level.
func DecodeFilterCriteriaStrict(data []byte) (FilterCriteria, error) {
	return decodeCriteria(data, true)
}

// decodeCriteria normalizes empty lists to nil: a group without conditions
// and a document without groups both decode with nil slices.
func decodeCriteria(data []byte, strict bool) (FilterCriteria, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return FilterCriteria{}, nil
	}

	var doc criteriaInput
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&doc); err != nil {
		return FilterCriteria{}, err
	}

	criteria := FilterCriteria{
		ProfileType: doc.ProfileType,
		SearchTerm:  doc.SearchTerm,
	}
	switch {
	case doc.FilterGroups != nil:
		for _, group := range *doc.FilterGroups {
			criteria.Expression.Groups = append(criteria.Expression.Groups, Group{
				ID:         group.ID,
				Conditions: fromConditionDocuments(group.Conditions),
			})
		}
	case len(doc.Conditions) > 0:
		criteria.Expression.Groups = []Group{{
			Conditions: fromConditionDocuments(doc.Conditions),
		}}
	}
	return criteria, nil
}

func isLegacyShape(groups []Group) bool {
	return len(groups) == 1 && groups[0].ID == "" && len(groups[0].Conditions) > 0
}

func toConditionDocuments(conds []Condition) []conditionDocument {
	out := make([]conditionDocument, 0, len(conds))
	for _, c := range conds {
		out = append(out, conditionDocument{Field: c.Field, Operator: c.Operator, Value: scalarValue(c.Value)})
	}
	return out
}

func fromConditionDocuments(conds []conditionDocument) []Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(conds))
	for _, c := range conds {
		out = append(out, Condition{Field: c.Field, Operator: c.Operator, Value: string(c.Value)})
	}
	return out
}
