package filter

import (
	"errors"
	"testing"

	"github.com/rpattn/segmentql/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorsFor_Catalogs(t *testing.T) {
	assert.Equal(t, []string{"contains", "is", "is not", "starts with", "ends with", "is empty", "is not empty"},
		OperatorsFor(domain.SemanticTypeString))
	assert.Equal(t, []string{"is", "is not"}, OperatorsFor(domain.SemanticTypeBoolean))
	assert.Equal(t, []string{"contains key", "does not contain key", "is empty", "is not empty"},
		OperatorsFor(domain.SemanticTypeJSON))
	assert.Nil(t, OperatorsFor("geo"))

	for _, semanticType := range domain.SemanticTypes {
		ops := OperatorsFor(semanticType)
		require.NotEmpty(t, ops, semanticType)
		seen := map[string]bool{}
		for _, op := range ops {
			assert.False(t, seen[op], "duplicate operator %q for %s", op, semanticType)
			seen[op] = true
			assert.True(t, Supports(semanticType, op))
		}
	}

	ops := OperatorsFor(domain.SemanticTypeNumber)
	ops[0] = "mutated"
	assert.Equal(t, OpEquals, OperatorsFor(domain.SemanticTypeNumber)[0])
}

func TestValidate_ReportsEachViolationKind(t *testing.T) {
	expr := domain.NewExpression(
		domain.Group{Conditions: []domain.Condition{
			{Field: "status", Operator: OpIs, Value: "Active"},
			{Field: "unknown_field", Operator: OpIs, Value: "x"},
			{Field: "is_marketing", Operator: OpContains, Value: "true"},
		}},
		domain.Group{Conditions: []domain.Condition{
			{},
			{Field: "lead_score", Operator: OpGreaterThan, Value: "  "},
			{Field: "tags", Operator: OpIsEmpty},
		}},
	)

	violations := Validate(expr, testResolver())
	require.Len(t, violations, 3)

	var resolution *domain.SchemaResolutionError
	assert.True(t, errors.As(violations[0].Err, &resolution))
	assert.Equal(t, "unknown_field", resolution.Field)
	assert.Equal(t, 0, violations[0].Group)
	assert.Equal(t, 1, violations[0].Condition)

	var mismatch *domain.OperatorMismatchError
	assert.True(t, errors.As(violations[1].Err, &mismatch))
	assert.Equal(t, domain.SemanticTypeBoolean, mismatch.Type)

	var missing *domain.MissingValueError
	assert.True(t, errors.As(violations[2].Err, &missing))
	assert.Equal(t, 1, violations[2].Group)
	assert.Equal(t, 1, violations[2].Condition)
}

func TestCheck_WrapsViolations(t *testing.T) {
	resolver := testResolver()

	require.NoError(t, Check(workedExample(), resolver))
	require.NoError(t, Check(domain.Expression{}, resolver))

	err := Check(domain.NewExpression(domain.Group{Conditions: []domain.Condition{
		{Field: "custom_fields.nope", Operator: OpIs, Value: "x"},
	}}), resolver)
	require.Error(t, err)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Len(t, validationErr.Violations, 1)

	var resolution *domain.SchemaResolutionError
	assert.True(t, errors.As(err, &resolution))
	assert.Contains(t, err.Error(), "custom_fields.nope")
}
