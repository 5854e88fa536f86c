package filter

import (
	"testing"
	"time"

	"github.com/rpattn/segmentql/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver map[string]domain.FieldDescriptor

func (s stubResolver) Resolve(key string) (domain.FieldDescriptor, error) {
	descriptor, ok := s[key]
	if !ok {
		return domain.FieldDescriptor{}, &domain.SchemaResolutionError{Field: key}
	}
	return descriptor, nil
}

func base(key string, t domain.SemanticType) domain.FieldDescriptor {
	return domain.FieldDescriptor{Key: key, Label: key, Type: t, Origin: domain.FieldOriginBase}
}

func custom(key string, t domain.SemanticType) domain.FieldDescriptor {
	return domain.FieldDescriptor{Key: domain.CustomFieldAddress(key), Label: key, Type: t, Origin: domain.FieldOriginCustom}
}

func testResolver() stubResolver {
	return stubResolver{
		"name":                   base("name", domain.SemanticTypeString),
		"status":                 base("status", domain.SemanticTypeString),
		"country":                base("country", domain.SemanticTypeString),
		"profile_type":           base("profile_type", domain.SemanticTypeString),
		"lead_score":             base("lead_score", domain.SemanticTypeNumber),
		"is_marketing":           base("is_marketing", domain.SemanticTypeBoolean),
		"tags":                   base("tags", domain.SemanticTypeArray),
		"metadata":               base("metadata", domain.SemanticTypeJSON),
		"last_contacted_at":      base("last_contacted_at", domain.SemanticTypeDate),
		"custom_fields.tier":     custom("tier", domain.SemanticTypeString),
		"custom_fields.renewal":  custom("renewal", domain.SemanticTypeDate),
		"custom_fields.seats":    custom("seats", domain.SemanticTypeNumber),
		"custom_fields.verified": custom("verified", domain.SemanticTypeBoolean),
	}
}

func cond(field, op, value string) domain.CompleteCondition {
	return domain.CompleteCondition{Field: field, Operator: op, Value: value}
}

func TestEvaluate_AbsentFieldOnlyMatchesIsEmpty(t *testing.T) {
	record := domain.NewRecord(nil, nil)

	for _, semanticType := range domain.SemanticTypes {
		for _, origin := range []domain.FieldDescriptor{
			base("absent_"+string(semanticType), semanticType),
			custom("absent_"+string(semanticType), semanticType),
		} {
			for _, op := range OperatorsFor(semanticType) {
				value := "x"
				if IsEmptyTest(op) {
					value = ""
				}
				got := Evaluate(cond(origin.Key, op, value), origin, record)
				assert.Equal(t, op == OpIsEmpty, got, "type=%s field=%s op=%s", semanticType, origin.Key, op)
			}
		}
	}
}

func TestEvaluate_NullValueTreatedAsMissing(t *testing.T) {
	record := domain.NewRecord(map[string]any{"status": nil}, map[string]any{"tier": nil})

	assert.True(t, Evaluate(cond("status", OpIsEmpty, ""), base("status", domain.SemanticTypeString), record))
	assert.False(t, Evaluate(cond("status", OpIsNotEmpty, ""), base("status", domain.SemanticTypeString), record))
	assert.False(t, Evaluate(cond("status", OpIsNot, "x"), base("status", domain.SemanticTypeString), record))
	assert.True(t, Evaluate(cond("custom_fields.tier", OpIsEmpty, ""), custom("tier", domain.SemanticTypeString), record))
}

func TestEvaluate_String(t *testing.T) {
	field := base("name", domain.SemanticTypeString)
	record := domain.NewRecord(map[string]any{"name": "Acme Corp"}, nil)

	tests := []struct {
		op    string
		value string
		want  bool
	}{
		{OpContains, "ACME", true},
		{OpContains, "widgets", false},
		{OpIs, "acme corp", true},
		{OpIs, "acme", false},
		{OpIsNot, "ACME CORP", false},
		{OpIsNot, "other", true},
		{OpStartsWith, "acme", true},
		{OpStartsWith, "corp", false},
		{OpEndsWith, "CORP", true},
		{OpIsNotEmpty, "", true},
		{OpIsEmpty, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.op+" "+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(cond("name", tt.op, tt.value), field, record))
		})
	}

	blank := domain.NewRecord(map[string]any{"name": "   "}, nil)
	assert.True(t, Evaluate(cond("name", OpIsEmpty, ""), field, blank))
}

func TestEvaluate_Number(t *testing.T) {
	field := base("lead_score", domain.SemanticTypeNumber)
	record := domain.NewRecord(map[string]any{"lead_score": 42.5}, nil)

	tests := []struct {
		op    string
		value string
		want  bool
	}{
		{OpEquals, "42.5", true},
		{OpEquals, "42.50", true},
		{OpGreaterThan, "40", true},
		{OpGreaterThan, "42.5", false},
		{OpLessThan, "100", true},
		{OpGreaterThanOrEqual, "42.5", true},
		{OpLessThanOrEqual, "42.4", false},
		// Non-numeric literals coerce to zero.
		{OpGreaterThan, "abc", true},
		{OpEquals, "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.op+" "+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(cond("lead_score", tt.op, tt.value), field, record))
		})
	}

	garbage := domain.NewRecord(map[string]any{"lead_score": "n/a"}, nil)
	assert.True(t, Evaluate(cond("lead_score", OpEquals, "0"), field, garbage))

	textual := domain.NewRecord(map[string]any{"lead_score": " 7 "}, nil)
	assert.True(t, Evaluate(cond("lead_score", OpEquals, "7"), field, textual))

	integer := domain.NewRecord(map[string]any{"lead_score": int64(12)}, nil)
	assert.True(t, Evaluate(cond("lead_score", OpLessThanOrEqual, "12"), field, integer))
}

func TestEvaluate_Date(t *testing.T) {
	field := base("last_contacted_at", domain.SemanticTypeDate)
	record := domain.NewRecord(map[string]any{"last_contacted_at": "2024-03-01"}, nil)

	tests := []struct {
		op    string
		value string
		want  bool
	}{
		{OpIs, "2024-03-01", true},
		{OpIs, "2024-03-01T00:00:00Z", true},
		{OpIs, "2024-03-02", false},
		{OpIsBefore, "2024-03-02", true},
		{OpIsBefore, "2024-03-01", false},
		{OpIsAfter, "2024-02-29", true},
		{OpIsAfter, "2024-03-01", false},
		{OpIsOnOrBefore, "2024-03-01", true},
		{OpIsOnOrAfter, "2024-03-01", true},
		{OpIsOnOrAfter, "2024-03-02", false},
		{OpIsBefore, "not a date", false},
		{OpIsAfter, "not a date", false},
	}
	for _, tt := range tests {
		t.Run(tt.op+" "+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(cond("last_contacted_at", tt.op, tt.value), field, record))
		})
	}

	unparsable := domain.NewRecord(map[string]any{"last_contacted_at": "soon"}, nil)
	for _, op := range []string{OpIs, OpIsBefore, OpIsAfter, OpIsOnOrBefore, OpIsOnOrAfter} {
		assert.False(t, Evaluate(cond("last_contacted_at", op, "2024-01-01"), field, unparsable), op)
	}

	typed := domain.NewRecord(map[string]any{
		"last_contacted_at": time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}, nil)
	assert.True(t, Evaluate(cond("last_contacted_at", OpIsAfter, "2024-05-10"), field, typed))
	assert.False(t, Evaluate(cond("last_contacted_at", OpIs, "2024-05-10"), field, typed))
}

func TestEvaluate_Boolean(t *testing.T) {
	field := base("is_marketing", domain.SemanticTypeBoolean)

	yes := domain.NewRecord(map[string]any{"is_marketing": true}, nil)
	no := domain.NewRecord(map[string]any{"is_marketing": false}, nil)
	text := domain.NewRecord(map[string]any{"is_marketing": "TRUE"}, nil)

	assert.True(t, Evaluate(cond("is_marketing", OpIs, "true"), field, yes))
	assert.True(t, Evaluate(cond("is_marketing", OpIs, " TRUE "), field, yes))
	assert.False(t, Evaluate(cond("is_marketing", OpIs, "yes"), field, yes))
	assert.True(t, Evaluate(cond("is_marketing", OpIsNot, "yes"), field, yes))
	assert.True(t, Evaluate(cond("is_marketing", OpIs, "false"), field, no))
	assert.True(t, Evaluate(cond("is_marketing", OpIs, "anything"), field, no))
	assert.True(t, Evaluate(cond("is_marketing", OpIs, "true"), field, text))

	// Empty tests are not in the boolean catalog.
	assert.False(t, Evaluate(cond("is_marketing", OpIsEmpty, ""), field, domain.NewRecord(nil, nil)))
}

func TestEvaluate_Array(t *testing.T) {
	field := base("tags", domain.SemanticTypeArray)
	record := domain.NewRecord(map[string]any{"tags": []any{"VIP", "Newsletter", 3.0}}, nil)

	assert.True(t, Evaluate(cond("tags", OpContains, "vip"), field, record))
	assert.True(t, Evaluate(cond("tags", OpContains, "3"), field, record))
	assert.False(t, Evaluate(cond("tags", OpContains, "gold"), field, record))
	assert.True(t, Evaluate(cond("tags", OpDoesNotContain, "gold"), field, record))
	assert.False(t, Evaluate(cond("tags", OpDoesNotContain, "newsletter"), field, record))
	assert.True(t, Evaluate(cond("tags", OpIsNotEmpty, ""), field, record))

	empty := domain.NewRecord(map[string]any{"tags": []any{}}, nil)
	assert.True(t, Evaluate(cond("tags", OpIsEmpty, ""), field, empty))
	assert.False(t, Evaluate(cond("tags", OpContains, "vip"), field, empty))

	scalar := domain.NewRecord(map[string]any{"tags": "vip"}, nil)
	assert.True(t, Evaluate(cond("tags", OpContains, "VIP"), field, scalar))

	encoded := domain.NewRecord(map[string]any{"tags": `["a","b"]`}, nil)
	assert.True(t, Evaluate(cond("tags", OpContains, "B"), field, encoded))
	assert.True(t, Evaluate(cond("tags", OpIsEmpty, ""), field, domain.NewRecord(map[string]any{"tags": "[]"}, nil)))
}

func TestEvaluate_JSON(t *testing.T) {
	field := base("metadata", domain.SemanticTypeJSON)
	record := domain.NewRecord(map[string]any{"metadata": map[string]any{"source": "web"}}, nil)

	assert.True(t, Evaluate(cond("metadata", OpContainsKey, "source"), field, record))
	assert.False(t, Evaluate(cond("metadata", OpContainsKey, "campaign"), field, record))
	assert.True(t, Evaluate(cond("metadata", OpDoesNotContainKey, "campaign"), field, record))
	assert.True(t, Evaluate(cond("metadata", OpIsNotEmpty, ""), field, record))

	encoded := domain.NewRecord(map[string]any{"metadata": `{"a":1}`}, nil)
	assert.True(t, Evaluate(cond("metadata", OpContainsKey, "a"), field, encoded))

	empty := domain.NewRecord(map[string]any{"metadata": map[string]any{}}, nil)
	assert.True(t, Evaluate(cond("metadata", OpIsEmpty, ""), field, empty))
	assert.True(t, Evaluate(cond("metadata", OpIsEmpty, ""), field, domain.NewRecord(map[string]any{"metadata": "{}"}, nil)))

	notObject := domain.NewRecord(map[string]any{"metadata": "plain"}, nil)
	assert.False(t, Evaluate(cond("metadata", OpContainsKey, "plain"), field, notObject))
	assert.False(t, Evaluate(cond("metadata", OpDoesNotContainKey, "plain"), field, notObject))
}

func TestEvaluate_DispatchesByTypeAndOperator(t *testing.T) {
	record := domain.NewRecord(map[string]any{"status": "2024-01-01"}, nil)

	// "is" on a string field is text equality, not instant equality.
	asString := base("status", domain.SemanticTypeString)
	assert.False(t, Evaluate(cond("status", OpIs, "2024-01-01T00:00:00Z"), asString, record))

	asDate := base("status", domain.SemanticTypeDate)
	assert.True(t, Evaluate(cond("status", OpIs, "2024-01-01T00:00:00Z"), asDate, record))

	// Operators outside the type catalog never match.
	assert.False(t, Evaluate(cond("status", OpEquals, "2024-01-01"), asString, record))
}

func TestEvaluate_CustomFieldAddress(t *testing.T) {
	record := domain.NewRecord(nil, map[string]any{"seats": "25", "verified": "true"})

	require.True(t, Evaluate(cond("custom_fields.seats", OpGreaterThan, "20"), custom("seats", domain.SemanticTypeNumber), record))
	assert.True(t, Evaluate(cond("custom_fields.verified", OpIs, "true"), custom("verified", domain.SemanticTypeBoolean), record))
}
