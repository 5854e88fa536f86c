package filter

import (
	"fmt"
	"strings"

	"github.com/rpattn/segmentql/internal/domain"
)

// Resolver maps a field address to its descriptor. It is satisfied by the
// schema registry.
type Resolver interface {
	Resolve(key string) (domain.FieldDescriptor, error)
}

// Violation locates one invalid condition inside an expression.
type Violation struct {
	Group     int    `json:"group"`
	Condition int    `json:"condition"`
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Err       error  `json:"-"`
}

// Message returns the human readable reason.
func (v Violation) Message() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// ValidationError aggregates the violations of a rejected expression.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("invalid filter condition (group %d, condition %d): %v", v.Group, v.Condition, v.Err)
	}
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, fmt.Sprintf("group %d condition %d: %v", v.Group, v.Condition, v.Err))
	}
	return fmt.Sprintf("invalid filter expression: %d violations: %s", len(e.Violations), strings.Join(messages, "; "))
}

// Unwrap exposes every violation cause so errors.As finds typed causes.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Violations))
	for _, v := range e.Violations {
		errs = append(errs, v.Err)
	}
	return errs
}

// Validate checks every entered condition of expr against the field registry
// and operator table. A condition is invalid when its field does not resolve,
// when its operator is not in the catalog of the field's type, or when a
// value-requiring operator carries no value. Fully blank placeholder rows are
// not reported.
func Validate(expr domain.Expression, resolver Resolver) []Violation {
	var violations []Violation
	for gi, group := range expr.Groups {
		for ci, cond := range group.Conditions {
			if cond.IsBlank() {
				continue
			}
			if err := validateCondition(cond, resolver); err != nil {
				violations = append(violations, Violation{
					Group:     gi,
					Condition: ci,
					Field:     cond.Field,
					Operator:  cond.Operator,
					Err:       err,
				})
			}
		}
	}
	return violations
}

// Check runs Validate and folds any violations into a *ValidationError.
func Check(expr domain.Expression, resolver Resolver) error {
	if violations := Validate(expr, resolver); len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func validateCondition(cond domain.Condition, resolver Resolver) error {
	field := strings.TrimSpace(cond.Field)
	op := strings.TrimSpace(cond.Operator)

	descriptor, err := resolver.Resolve(field)
	if err != nil {
		return &domain.SchemaResolutionError{Field: field}
	}
	if !Supports(descriptor.Type, op) {
		return &domain.OperatorMismatchError{Field: field, Type: descriptor.Type, Operator: op}
	}
	if !IsEmptyTest(op) && strings.TrimSpace(cond.Value) == "" {
		return &domain.MissingValueError{Field: field, Operator: op}
	}
	return nil
}
