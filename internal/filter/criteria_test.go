package filter

import (
	"testing"

	"github.com/rpattn/segmentql/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_SingleAnonymousGroupUsesLegacyForm(t *testing.T) {
	criteria := domain.FilterCriteria{
		Expression: domain.NewExpression(domain.Group{Conditions: []domain.Condition{
			{Field: "status", Operator: "is", Value: "Active"},
		}}),
		ProfileType: "lead",
	}

	data, err := Serialize(criteria)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"conditions": [{"field": "status", "operator": "is", "value": "Active"}],
		"profileType": "lead"
	}`, string(data))
}

func TestSerialize_StructuredGroupsWriteBothForms(t *testing.T) {
	data, err := Serialize(domain.FilterCriteria{Expression: workedExample(), SearchTerm: "acme"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"conditions": [
			{"field": "status", "operator": "is", "value": "Active"},
			{"field": "is_marketing", "operator": "is", "value": "true"},
			{"field": "country", "operator": "is", "value": "US"}
		],
		"filterGroups": [
			{"id": "g1", "conditions": [
				{"field": "status", "operator": "is", "value": "Active"},
				{"field": "is_marketing", "operator": "is", "value": "true"}
			]},
			{"id": "g2", "conditions": [
				{"field": "country", "operator": "is", "value": "US"}
			]}
		],
		"searchTerm": "acme"
	}`, string(data))
}

func TestSerialize_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		criteria domain.FilterCriteria
	}{
		{"zero", domain.FilterCriteria{}},
		{"legacy single group", domain.FilterCriteria{
			Expression: domain.NewExpression(domain.Group{Conditions: []domain.Condition{
				{Field: "lead_score", Operator: "greater than", Value: "10"},
				{Field: "tags", Operator: "is empty"},
			}}),
		}},
		{"structured", domain.FilterCriteria{Expression: workedExample(), ProfileType: "customer", SearchTerm: "a"}},
		{"single named group", domain.FilterCriteria{
			Expression: domain.NewExpression(domain.Group{ID: "only", Conditions: []domain.Condition{
				{Field: "country", Operator: "is", Value: "US"},
			}}),
		}},
		{"anonymous groups", domain.FilterCriteria{
			Expression: domain.NewExpression(
				domain.Group{Conditions: []domain.Condition{{Field: "a", Operator: "is", Value: "1"}}},
				domain.Group{Conditions: []domain.Condition{{Field: "b", Operator: "is", Value: "2"}}},
			),
		}},
		{"incomplete rows kept", domain.FilterCriteria{
			Expression: domain.NewExpression(domain.Group{ID: "g", Conditions: []domain.Condition{
				{Field: "status"},
				{},
			}}),
		}},
		{"ancillary only", domain.FilterCriteria{ProfileType: "lead", SearchTerm: "ada"}},
		{"named group without conditions", domain.FilterCriteria{
			Expression: domain.Expression{Groups: []domain.Group{{ID: "g1"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Serialize(tt.criteria)
			require.NoError(t, err)

			decoded, err := Deserialize(data)
			require.NoError(t, err)
			assert.Equal(t, tt.criteria, decoded)
		})
	}
}

func TestDeserialize_StructuredFormWins(t *testing.T) {
	doc := `{
		"conditions": [{"field": "stale", "operator": "is", "value": "x"}],
		"filterGroups": [{"id": "g1", "conditions": [{"field": "status", "operator": "is", "value": "Active"}]}]
	}`

	criteria, err := Deserialize([]byte(doc))
	require.NoError(t, err)
	require.Len(t, criteria.Expression.Groups, 1)
	assert.Equal(t, "g1", criteria.Expression.Groups[0].ID)
	assert.Equal(t, "status", criteria.Expression.Groups[0].Conditions[0].Field)
}

func TestDeserialize_LegacyDocuments(t *testing.T) {
	criteria, err := Deserialize([]byte(`{"conditions":[{"field":"lead_score","operator":"equals","value":5},{"field":"is_marketing","operator":"is","value":true}],"profileType":"all"}`))
	require.NoError(t, err)

	require.Len(t, criteria.Expression.Groups, 1)
	group := criteria.Expression.Groups[0]
	assert.Equal(t, "", group.ID)
	assert.Equal(t, "5", group.Conditions[0].Value)
	assert.Equal(t, "true", group.Conditions[1].Value)
	assert.Equal(t, "all", criteria.ProfileType)
	assert.False(t, criteria.HasProfileType())

	empty, err := Deserialize([]byte(`{"conditions":[]}`))
	require.NoError(t, err)
	assert.Empty(t, empty.Expression.Groups)

	none, err := Deserialize(nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FilterCriteria{}, none)
}

func TestDeserialize_EmptyListsComeBackNil(t *testing.T) {
	criteria := domain.FilterCriteria{Expression: domain.Expression{Groups: []domain.Group{
		{ID: "g1", Conditions: []domain.Condition{}},
	}}}

	data, err := Serialize(criteria)
	require.NoError(t, err)
	assert.JSONEq(t, `{"conditions": [], "filterGroups": [{"id": "g1", "conditions": []}]}`, string(data))

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, decoded.Expression.Groups, 1)
	assert.Equal(t, "g1", decoded.Expression.Groups[0].ID)
	assert.Nil(t, decoded.Expression.Groups[0].Conditions)

	noGroups, err := Deserialize([]byte(`{"conditions": [], "filterGroups": []}`))
	require.NoError(t, err)
	assert.Nil(t, noGroups.Expression.Groups)
}

func TestDeserialize_RejectsMalformedJSON(t *testing.T) {
	_, err := Deserialize([]byte(`{"conditions": [`))
	assert.Error(t, err)
}
