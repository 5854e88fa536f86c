package segmentation

import (
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
)

// Pushdown derives the store-side query for compiled criteria. The query only
// ever narrows the fetch to a superset of the in-memory matches; the evaluator
// still decides membership.
//
// Ancillary predicates are always pushed. Expression conditions are pushed
// only when exactly one group participates, since predicates from different
// OR-ed groups cannot be AND-ed at the store. Within that group only base
// number and date orderings (as inclusive ranges) and base boolean "is"
// (as equality) are pushed.
func Pushdown(compiled filter.CompiledCriteria) domain.RecordQuery {
	var query domain.RecordQuery
	if compiled.ProfileType != "" {
		query = query.WithEquals("profile_type", compiled.ProfileType)
	}
	query.Search = compiled.SearchTerm

	if len(compiled.Expression.Groups) != 1 {
		return query
	}
	for _, cond := range compiled.Expression.Groups[0].Conditions {
		if !cond.Resolved || cond.Field.Origin != domain.FieldOriginBase {
			continue
		}
		switch cond.Field.Type {
		case domain.SemanticTypeNumber:
			if pred, ok := numberRange(cond); ok {
				query = query.WithRange(pred)
			}
		case domain.SemanticTypeDate:
			if pred, ok := dateRange(cond); ok {
				query = query.WithRange(pred)
			}
		case domain.SemanticTypeBoolean:
			if cond.Condition.Operator == filter.OpIs {
				query = query.WithEquals(cond.Field.Key, filter.CoerceBool(cond.Condition.Value))
			}
		}
	}
	return query
}

func numberRange(cond filter.CompiledCondition) (domain.RangePredicate, bool) {
	bound := filter.CoerceNumber(cond.Condition.Value)
	pred := domain.RangePredicate{Field: cond.Field.Key}
	switch cond.Condition.Operator {
	case filter.OpEquals:
		pred.Min, pred.Max = bound, bound
	case filter.OpGreaterThan, filter.OpGreaterThanOrEqual:
		pred.Min = bound
	case filter.OpLessThan, filter.OpLessThanOrEqual:
		pred.Max = bound
	default:
		return domain.RangePredicate{}, false
	}
	return pred, true
}

func dateRange(cond filter.CompiledCondition) (domain.RangePredicate, bool) {
	bound, ok := filter.ParseTimestamp(cond.Condition.Value)
	if !ok {
		return domain.RangePredicate{}, false
	}
	pred := domain.RangePredicate{Field: cond.Field.Key}
	switch cond.Condition.Operator {
	case filter.OpIs:
		pred.Min, pred.Max = bound, bound
	case filter.OpIsAfter, filter.OpIsOnOrAfter:
		pred.Min = bound
	case filter.OpIsBefore, filter.OpIsOnOrBefore:
		pred.Max = bound
	default:
		return domain.RangePredicate{}, false
	}
	return pred, true
}
