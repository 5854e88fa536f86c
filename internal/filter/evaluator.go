package filter

import (
	"strings"

	"github.com/rpattn/segmentql/internal/domain"
)

// Evaluate applies one complete condition to a record. It is pure and total:
// malformed data degrades to a defined boolean and never panics.
//
// A missing or null attribute matches only "is empty". An operator outside
// the catalog of the field's type never matches.
func Evaluate(cond domain.CompleteCondition, field domain.FieldDescriptor, record domain.Record) bool {
	if !Supports(field.Type, cond.Operator) {
		return false
	}

	value, ok := record.Lookup(field.Key)
	if !ok || value == nil {
		return cond.Operator == OpIsEmpty
	}

	switch cond.Operator {
	case OpIsEmpty:
		return isEmptyFor(field.Type, value)
	case OpIsNotEmpty:
		return !isEmptyFor(field.Type, value)
	}

	switch field.Type {
	case domain.SemanticTypeString:
		return evaluateString(cond.Operator, toText(value), cond.Value)
	case domain.SemanticTypeNumber:
		return evaluateNumber(cond.Operator, value, cond.Value)
	case domain.SemanticTypeDate:
		return evaluateDate(cond.Operator, value, cond.Value)
	case domain.SemanticTypeBoolean:
		return evaluateBoolean(cond.Operator, value, cond.Value)
	case domain.SemanticTypeArray:
		return evaluateArray(cond.Operator, value, cond.Value)
	case domain.SemanticTypeJSON:
		return evaluateJSON(cond.Operator, value, cond.Value)
	}
	return false
}

func isEmptyFor(t domain.SemanticType, value any) bool {
	switch t {
	case domain.SemanticTypeArray:
		return len(toElements(value)) == 0
	case domain.SemanticTypeJSON:
		if obj, ok := toObject(value); ok {
			return len(obj) == 0
		}
	}
	return isEmptyValue(value)
}

func evaluateString(op, actual, literal string) bool {
	a, l := fold(actual), fold(literal)
	switch op {
	case OpContains:
		return strings.Contains(a, l)
	case OpIs:
		return a == l
	case OpIsNot:
		return a != l
	case OpStartsWith:
		return strings.HasPrefix(a, l)
	case OpEndsWith:
		return strings.HasSuffix(a, l)
	}
	return false
}

func evaluateNumber(op string, actual any, literal string) bool {
	cmp := toDecimal(actual).Cmp(parseDecimal(literal))
	switch op {
	case OpEquals:
		return cmp == 0
	case OpGreaterThan:
		return cmp > 0
	case OpLessThan:
		return cmp < 0
	case OpGreaterThanOrEqual:
		return cmp >= 0
	case OpLessThanOrEqual:
		return cmp <= 0
	}
	return false
}

func evaluateDate(op string, actual any, literal string) bool {
	a, ok := toTime(actual)
	if !ok {
		return false
	}
	l, ok := ParseTimestamp(literal)
	if !ok {
		return false
	}
	switch op {
	case OpIs:
		return a.Equal(l)
	case OpIsBefore:
		return a.Before(l)
	case OpIsAfter:
		return a.After(l)
	case OpIsOnOrBefore:
		return !a.After(l)
	case OpIsOnOrAfter:
		return !a.Before(l)
	}
	return false
}

func evaluateBoolean(op string, actual any, literal string) bool {
	want := strings.ToLower(strings.TrimSpace(literal)) == "true"
	switch op {
	case OpIs:
		return toBool(actual) == want
	case OpIsNot:
		return toBool(actual) != want
	}
	return false
}

func evaluateArray(op string, actual any, literal string) bool {
	needle := fold(strings.TrimSpace(literal))
	found := false
	for _, element := range toElements(actual) {
		if element == nil {
			continue
		}
		if fold(strings.TrimSpace(toText(element))) == needle {
			found = true
			break
		}
	}
	switch op {
	case OpContains:
		return found
	case OpDoesNotContain:
		return !found
	}
	return false
}

func evaluateJSON(op string, actual any, literal string) bool {
	obj, ok := toObject(actual)
	if !ok {
		return false
	}
	_, present := obj[strings.TrimSpace(literal)]
	switch op {
	case OpContainsKey:
		return present
	case OpDoesNotContainKey:
		return !present
	}
	return false
}
