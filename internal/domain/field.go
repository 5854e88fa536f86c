package domain

import (
	"sort"
	"strings"
	"time"
)

// SemanticType represents the type that drives which operators and coercions
// apply to a field.
type SemanticType string

const (
	SemanticTypeString  SemanticType = "string"
	SemanticTypeNumber  SemanticType = "number"
	SemanticTypeDate    SemanticType = "date"
	SemanticTypeBoolean SemanticType = "boolean"
	SemanticTypeArray   SemanticType = "array"
	SemanticTypeJSON    SemanticType = "json"
)

// SemanticTypes lists every supported semantic type in catalog order.
var SemanticTypes = []SemanticType{
	SemanticTypeString,
	SemanticTypeNumber,
	SemanticTypeDate,
	SemanticTypeBoolean,
	SemanticTypeArray,
	SemanticTypeJSON,
}

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	for _, known := range SemanticTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseSemanticType normalizes a stored type name. Common aliases used by the
// schema store ("text", "integer", "timestamp", ...) map onto the six
// semantic types.
func ParseSemanticType(raw string) (SemanticType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "string", "text", "email", "phone", "url", "select":
		return SemanticTypeString, true
	case "number", "integer", "int", "float", "decimal", "currency":
		return SemanticTypeNumber, true
	case "date", "datetime", "timestamp":
		return SemanticTypeDate, true
	case "boolean", "bool", "checkbox":
		return SemanticTypeBoolean, true
	case "array", "multiselect", "tags":
		return SemanticTypeArray, true
	case "json", "object":
		return SemanticTypeJSON, true
	default:
		return "", false
	}
}

// FieldOrigin tells whether a descriptor is statically known or user defined.
type FieldOrigin string

const (
	FieldOriginBase   FieldOrigin = "base"
	FieldOriginCustom FieldOrigin = "custom"
)

// CustomFieldPrefix is the external address prefix of custom attributes.
const CustomFieldPrefix = "custom_fields."

// CustomFieldAddress returns the external address of a custom field key.
func CustomFieldAddress(key string) string {
	return CustomFieldPrefix + key
}

// SplitCustomFieldAddress strips the custom_fields prefix. The boolean is
// false when the address does not carry the prefix.
func SplitCustomFieldAddress(address string) (string, bool) {
	if !strings.HasPrefix(address, CustomFieldPrefix) {
		return address, false
	}
	return strings.TrimPrefix(address, CustomFieldPrefix), true
}

// FieldDescriptor describes a record attribute for filtering purposes.
type FieldDescriptor struct {
	Key    string       `json:"key"`
	Label  string       `json:"label"`
	Type   SemanticType `json:"semanticType"`
	Origin FieldOrigin  `json:"origin"`
}

// IsCustom reports whether the descriptor addresses the custom attribute map.
func (d FieldDescriptor) IsCustom() bool {
	return d.Origin == FieldOriginCustom
}

// CustomFieldDefinition is a user-defined field as persisted by the schema store.
type CustomFieldDefinition struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	Type         string    `json:"type"`
	Required     bool      `json:"required"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewCustomFieldDefinition creates a definition stamped with the current time.
func NewCustomFieldDefinition(key, label, fieldType string) CustomFieldDefinition {
	now := time.Now()
	return CustomFieldDefinition{
		Key:       strings.TrimSpace(key),
		Label:     label,
		Type:      fieldType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithKey returns a copy of the definition under a new key.
func (d CustomFieldDefinition) WithKey(key string) CustomFieldDefinition {
	d.Key = strings.TrimSpace(key)
	d.UpdatedAt = time.Now()
	return d
}

// SemanticType resolves the declared type, falling back to the name
// heuristic only when no usable type was declared.
func (d CustomFieldDefinition) SemanticType() SemanticType {
	if t, ok := ParseSemanticType(d.Type); ok {
		return t
	}
	return InferSemanticType(d.Key)
}

// Descriptor converts the definition into a custom-origin descriptor.
func (d CustomFieldDefinition) Descriptor() FieldDescriptor {
	label := d.Label
	if strings.TrimSpace(label) == "" {
		label = d.Key
	}
	return FieldDescriptor{
		Key:    CustomFieldAddress(d.Key),
		Label:  label,
		Type:   d.SemanticType(),
		Origin: FieldOriginCustom,
	}
}

var inferenceRules = []struct {
	needles []string
	result  SemanticType
}{
	{[]string{"date", "time", "created", "updated"}, SemanticTypeDate},
	{[]string{"count", "number", "amount", "price", "value"}, SemanticTypeNumber},
	{[]string{"is_", "has_", "active", "enabled"}, SemanticTypeBoolean},
}

// InferSemanticType classifies a field by name. It is a fallback for custom
// fields that do not declare a type and is evaluated in a fixed rule order so
// the same key always yields the same type.
func InferSemanticType(key string) SemanticType {
	lowered := strings.ToLower(key)
	for _, rule := range inferenceRules {
		for _, needle := range rule.needles {
			if strings.Contains(lowered, needle) {
				return rule.result
			}
		}
	}
	return SemanticTypeString
}

// copyDefinitions creates a copy of the definitions slice
func copyDefinitions(defs []CustomFieldDefinition) []CustomFieldDefinition {
	if defs == nil {
		return nil
	}
	out := make([]CustomFieldDefinition, len(defs))
	copy(out, defs)
	return out
}

// SortedDefinitions returns a copy of defs ordered by key.
func SortedDefinitions(defs []CustomFieldDefinition) []CustomFieldDefinition {
	out := copyDefinitions(defs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
