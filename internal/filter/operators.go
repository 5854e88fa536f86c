package filter

import "github.com/rpattn/segmentql/internal/domain"

// Operator names. Several are reused across semantic types with a different
// meaning, so evaluation always dispatches on (type, operator).
const (
	OpContains           = "contains"
	OpIs                 = "is"
	OpIsNot              = "is not"
	OpStartsWith         = "starts with"
	OpEndsWith           = "ends with"
	OpEquals             = "equals"
	OpGreaterThan        = "greater than"
	OpLessThan           = "less than"
	OpGreaterThanOrEqual = "greater than or equal to"
	OpLessThanOrEqual    = "less than or equal to"
	OpIsBefore           = "is before"
	OpIsAfter            = "is after"
	OpIsOnOrBefore       = "is on or before"
	OpIsOnOrAfter        = "is on or after"
	OpDoesNotContain     = "does not contain"
	OpContainsKey        = "contains key"
	OpDoesNotContainKey  = "does not contain key"
	OpIsEmpty            = domain.OperatorIsEmpty
	OpIsNotEmpty         = domain.OperatorIsNotEmpty
)

var operatorCatalog = map[domain.SemanticType][]string{
	domain.SemanticTypeString: {
		OpContains, OpIs, OpIsNot, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty,
	},
	domain.SemanticTypeNumber: {
		OpEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual, OpIsEmpty, OpIsNotEmpty,
	},
	domain.SemanticTypeDate: {
		OpIs, OpIsBefore, OpIsAfter, OpIsOnOrBefore, OpIsOnOrAfter, OpIsEmpty, OpIsNotEmpty,
	},
	domain.SemanticTypeBoolean: {
		OpIs, OpIsNot,
	},
	domain.SemanticTypeArray: {
		OpContains, OpDoesNotContain, OpIsEmpty, OpIsNotEmpty,
	},
	domain.SemanticTypeJSON: {
		OpContainsKey, OpDoesNotContainKey, OpIsEmpty, OpIsNotEmpty,
	},
}

// OperatorsFor returns the ordered operator catalog of a semantic type. The
// returned slice is a copy; unknown types yield nil.
func OperatorsFor(t domain.SemanticType) []string {
	ops, ok := operatorCatalog[t]
	if !ok {
		return nil
	}
	out := make([]string, len(ops))
	copy(out, ops)
	return out
}

// Supports reports whether op is legal for fields of type t.
func Supports(t domain.SemanticType, op string) bool {
	for _, candidate := range operatorCatalog[t] {
		if candidate == op {
			return true
		}
	}
	return false
}

// IsEmptyTest reports whether op tests for absence and therefore takes no value.
func IsEmptyTest(op string) bool {
	return domain.IsEmptyTestOperator(op)
}
