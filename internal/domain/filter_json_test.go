package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCriteria_JSONUsesCriteriaDocument(t *testing.T) {
	segment := Segment{Name: "US", Criteria: FilterCriteria{
		Expression: NewExpression(Group{Conditions: []Condition{
			{Field: "country", Operator: "is", Value: "US"},
		}}),
		ProfileType: "lead",
	}}

	data, err := json.Marshal(segment)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{
		"conditions": [{"field": "country", "operator": "is", "value": "US"}],
		"profileType": "lead"
	}`, string(raw["filterCriteria"]))

	var decoded Segment
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, segment.Criteria, decoded.Criteria)
}

func TestFilterCriteria_UnmarshalIgnoresUnknownKeys(t *testing.T) {
	var criteria FilterCriteria
	err := json.Unmarshal([]byte(`{"conditions": [{"field": "status", "operator": "is", "value": 1}], "legacyFlag": true}`), &criteria)
	require.NoError(t, err)
	require.Len(t, criteria.Expression.Groups, 1)
	assert.Equal(t, "1", criteria.Expression.Groups[0].Conditions[0].Value)

	require.NoError(t, json.Unmarshal([]byte(`null`), &criteria))
	assert.Equal(t, FilterCriteria{}, criteria)
}

func TestDecodeFilterCriteriaStrict(t *testing.T) {
	criteria, err := DecodeFilterCriteriaStrict([]byte(`{
		"filterGroups": [{"id": "g1", "conditions": [{"field": "is_vip", "operator": "is", "value": true}]}],
		"searchTerm": "ada"
	}`))
	require.NoError(t, err)
	require.Len(t, criteria.Expression.Groups, 1)
	assert.Equal(t, "g1", criteria.Expression.Groups[0].ID)
	assert.Equal(t, "true", criteria.Expression.Groups[0].Conditions[0].Value)
	assert.Equal(t, "ada", criteria.SearchTerm)

	for _, doc := range []string{
		`{"expression": {"groups": []}}`,
		`{"filterGroups": [{"id": "g1", "rules": []}]}`,
		`{"conditions": [{"field": "a", "operator": "is", "value": "1", "negate": true}]}`,
		`{"conditions": [`,
	} {
		_, err := DecodeFilterCriteriaStrict([]byte(doc))
		assert.Error(t, err, doc)
	}

	empty, err := DecodeFilterCriteriaStrict(nil)
	require.NoError(t, err)
	assert.Equal(t, FilterCriteria{}, empty)
}
