package domain

import "strings"

// The two operators that test for absence and therefore take no value.
const (
	OperatorIsEmpty    = "is empty"
	OperatorIsNotEmpty = "is not empty"
)

// IsEmptyTestOperator reports whether op is one of the value-less operators.
func IsEmptyTestOperator(op string) bool {
	return op == OperatorIsEmpty || op == OperatorIsNotEmpty
}

// Condition is a single (field, operator, value) predicate as entered. Any of
// the three parts may still be blank while the user is building a filter.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// CompleteCondition is a condition with every required part present. It can
// only be obtained through Condition.Complete.
type CompleteCondition struct {
	Field    string
	Operator string
	Value    string
}

// Complete classifies the condition. It returns ok=false for the incomplete
// case: missing field, missing operator, or a missing value for an operator
// that needs one.
func (c Condition) Complete() (CompleteCondition, bool) {
	field := strings.TrimSpace(c.Field)
	op := strings.TrimSpace(c.Operator)
	if field == "" || op == "" {
		return CompleteCondition{}, false
	}
	if !IsEmptyTestOperator(op) && strings.TrimSpace(c.Value) == "" {
		return CompleteCondition{}, false
	}
	return CompleteCondition{Field: field, Operator: op, Value: c.Value}, true
}

// IsBlank reports whether nothing at all has been entered yet.
func (c Condition) IsBlank() bool {
	return strings.TrimSpace(c.Field) == "" &&
		strings.TrimSpace(c.Operator) == "" &&
		strings.TrimSpace(c.Value) == ""
}

// Group is an ordered AND-combination of conditions.
type Group struct {
	ID         string      `json:"id"`
	Conditions []Condition `json:"conditions"`
}

// CompleteConditions returns the complete conditions of the group in order.
func (g Group) CompleteConditions() []CompleteCondition {
	out := make([]CompleteCondition, 0, len(g.Conditions))
	for _, cond := range g.Conditions {
		if complete, ok := cond.Complete(); ok {
			out = append(out, complete)
		}
	}
	return out
}

// Expression is an ordered OR-combination of groups.
type Expression struct {
	Groups []Group `json:"groups"`
}

// NewExpression builds an expression from groups.
func NewExpression(groups ...Group) Expression {
	return Expression{Groups: copyGroups(groups)}
}

// HasCompleteConditions reports whether any group carries a complete condition.
// An expression without one matches nothing at engine level; callers that want
// "no filter applied" semantics have to special-case it.
func (e Expression) HasCompleteConditions() bool {
	for _, group := range e.Groups {
		if len(group.CompleteConditions()) > 0 {
			return true
		}
	}
	return false
}

// Fields returns every distinct field address referenced by the expression.
func (e Expression) Fields() []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, group := range e.Groups {
		for _, cond := range group.Conditions {
			field := strings.TrimSpace(cond.Field)
			if field == "" {
				continue
			}
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			fields = append(fields, field)
		}
	}
	return fields
}

// FilterCriteria is the storable unit: the boolean expression plus the
// ancillary UI context. ProfileType and SearchTerm are extra AND-ed predicates
// and not part of the expression itself. Its JSON form is the criteria
// document written by MarshalJSON, in storage and on the wire alike.
type FilterCriteria struct {
	Expression  Expression
	ProfileType string
	SearchTerm  string
}

// ProfileTypeAll is the profile type bucket meaning "no restriction".
const ProfileTypeAll = "all"

// HasProfileType reports whether the criteria restrict the profile type.
func (c FilterCriteria) HasProfileType() bool {
	pt := strings.TrimSpace(c.ProfileType)
	return pt != "" && !strings.EqualFold(pt, ProfileTypeAll)
}

// HasSearchTerm reports whether the criteria carry a free-text search.
func (c FilterCriteria) HasSearchTerm() bool {
	return strings.TrimSpace(c.SearchTerm) != ""
}

// IsUnfiltered reports whether nothing restricts the record universe: no
// complete condition and no ancillary predicate.
func (c FilterCriteria) IsUnfiltered() bool {
	return !c.Expression.HasCompleteConditions() && !c.HasProfileType() && !c.HasSearchTerm()
}

func copyGroups(groups []Group) []Group {
	if groups == nil {
		return nil
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		conds := make([]Condition, len(g.Conditions))
		copy(conds, g.Conditions)
		out[i] = Group{ID: g.ID, Conditions: conds}
	}
	return out
}
