package filter

import (
	"strings"

	"github.com/rpattn/segmentql/internal/domain"
)

// EmptyPolicy decides what an expression without any complete condition
// matches. The engine default is EmptyMatchesNothing; callers that present
// "no filter entered" as "show everything" opt into EmptyMatchesAll.
type EmptyPolicy int

const (
	EmptyMatchesNothing EmptyPolicy = iota
	EmptyMatchesAll
)

// ParseEmptyPolicy reads the configured convention ("none" or "all").
func ParseEmptyPolicy(raw string) EmptyPolicy {
	if strings.EqualFold(strings.TrimSpace(raw), "all") {
		return EmptyMatchesAll
	}
	return EmptyMatchesNothing
}

func (p EmptyPolicy) String() string {
	if p == EmptyMatchesAll {
		return "all"
	}
	return "none"
}

// CompiledCondition is a complete condition bound to its descriptor.
// Conditions whose field did not resolve stay in the group and never match.
type CompiledCondition struct {
	Condition domain.CompleteCondition
	Field     domain.FieldDescriptor
	Resolved  bool
}

// Match evaluates the condition against a record.
func (c CompiledCondition) Match(record domain.Record) bool {
	if !c.Resolved {
		return false
	}
	return Evaluate(c.Condition, c.Field, record)
}

// CompiledGroup holds the complete conditions of one group.
type CompiledGroup struct {
	ID         string
	Conditions []CompiledCondition
}

// Match is the AND over the group's conditions.
func (g CompiledGroup) Match(record domain.Record) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	for _, cond := range g.Conditions {
		if !cond.Match(record) {
			return false
		}
	}
	return true
}

// Compiled is an expression with descriptors resolved once. Only groups
// holding at least one complete condition participate.
type Compiled struct {
	Groups []CompiledGroup
}

// Compile resolves every complete condition of expr.
func Compile(expr domain.Expression, resolver Resolver) Compiled {
	var compiled Compiled
	for _, group := range expr.Groups {
		complete := group.CompleteConditions()
		if len(complete) == 0 {
			continue
		}
		cg := CompiledGroup{ID: group.ID, Conditions: make([]CompiledCondition, 0, len(complete))}
		for _, cond := range complete {
			descriptor, err := resolver.Resolve(cond.Field)
			cg.Conditions = append(cg.Conditions, CompiledCondition{
				Condition: cond,
				Field:     descriptor,
				Resolved:  err == nil,
			})
		}
		compiled.Groups = append(compiled.Groups, cg)
	}
	return compiled
}

// IsEmpty reports whether no group participates.
func (c Compiled) IsEmpty() bool {
	return len(c.Groups) == 0
}

// Match is the OR over participating groups. An empty expression does not
// match.
func (c Compiled) Match(record domain.Record) bool {
	for _, group := range c.Groups {
		if group.Match(record) {
			return true
		}
	}
	return false
}

// MatchGroup evaluates a single group: true iff it has at least one complete
// condition and the record satisfies all of them.
func MatchGroup(group domain.Group, resolver Resolver, record domain.Record) bool {
	compiled := Compile(domain.Expression{Groups: []domain.Group{group}}, resolver)
	return compiled.Match(record)
}

// MatchExpression evaluates expr against one record. Callers matching many
// records should Compile once instead.
func MatchExpression(expr domain.Expression, resolver Resolver, record domain.Record) bool {
	return Compile(expr, resolver).Match(record)
}

// CompiledCriteria is a compiled expression plus the ancillary predicates.
type CompiledCriteria struct {
	Expression  Compiled
	ProfileType string
	SearchTerm  string
	Empty       EmptyPolicy
}

// CompileCriteria compiles criteria under the given empty-expression policy.
func CompileCriteria(criteria domain.FilterCriteria, resolver Resolver, empty EmptyPolicy) CompiledCriteria {
	compiled := CompiledCriteria{
		Expression: Compile(criteria.Expression, resolver),
		Empty:      empty,
	}
	if criteria.HasProfileType() {
		compiled.ProfileType = strings.TrimSpace(criteria.ProfileType)
	}
	if criteria.HasSearchTerm() {
		compiled.SearchTerm = strings.TrimSpace(criteria.SearchTerm)
	}
	return compiled
}

// Match applies the ancillary predicates and then the expression.
func (c CompiledCriteria) Match(record domain.Record) bool {
	if !MatchesAncillary(c.ProfileType, c.SearchTerm, record) {
		return false
	}
	if c.Expression.IsEmpty() {
		return c.Empty == EmptyMatchesAll
	}
	return c.Expression.Match(record)
}

// MatchesCriteria evaluates full criteria against one record.
func MatchesCriteria(criteria domain.FilterCriteria, resolver Resolver, empty EmptyPolicy, record domain.Record) bool {
	return CompileCriteria(criteria, resolver, empty).Match(record)
}

// MatchesAncillary checks the profile type bucket (exact equality on
// profile_type) and the free-text search (case-insensitive substring over the
// search fields, lower-cased the same way the stores do it). Blank
// arguments do not restrict.
func MatchesAncillary(profileType, searchTerm string, record domain.Record) bool {
	if profileType != "" {
		value, ok := record.Lookup("profile_type")
		if !ok || toText(value) != profileType {
			return false
		}
	}
	if searchTerm == "" {
		return true
	}
	needle := strings.ToLower(searchTerm)
	for _, key := range domain.SearchFields {
		value, ok := record.Lookup(key)
		if !ok || value == nil {
			continue
		}
		if strings.Contains(strings.ToLower(toText(value)), needle) {
			return true
		}
	}
	return false
}
