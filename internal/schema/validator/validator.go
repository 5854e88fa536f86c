package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"

	"github.com/shopspring/decimal"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateDefinition ensures a custom field definition can be registered.
// isBaseKey reports keys owned by built-in fields; custom keys never shadow
// them. An empty type is accepted and resolved by name inference later.
func ValidateDefinition(def domain.CustomFieldDefinition, isBaseKey func(string) bool) error {
	key := strings.TrimSpace(def.Key)
	if key == "" {
		return fmt.Errorf("custom field key is required")
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("custom field key %q must start with a lowercase letter and contain only lowercase letters, digits and underscores", key)
	}
	if isBaseKey != nil && isBaseKey(key) {
		return fmt.Errorf("custom field key %q collides with a built-in field", key)
	}

	if strings.TrimSpace(def.Type) == "" {
		return nil
	}
	semanticType, ok := domain.ParseSemanticType(def.Type)
	if !ok {
		return fmt.Errorf("custom field %s has unknown type %q", key, def.Type)
	}

	if strings.TrimSpace(def.DefaultValue) != "" {
		if err := validateDefault(semanticType, def.DefaultValue); err != nil {
			return fmt.Errorf("custom field %s has invalid default value: %w", key, err)
		}
	}
	return nil
}

func validateDefault(t domain.SemanticType, raw string) error {
	raw = strings.TrimSpace(raw)
	switch t {
	case domain.SemanticTypeNumber:
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("%q is not a number", raw)
		}
	case domain.SemanticTypeDate:
		if _, ok := filter.ParseTimestamp(raw); !ok {
			return fmt.Errorf("%q is not a recognised date", raw)
		}
	case domain.SemanticTypeBoolean:
		lowered := strings.ToLower(raw)
		if lowered != "true" && lowered != "false" {
			return fmt.Errorf("%q is not true or false", raw)
		}
	case domain.SemanticTypeArray:
		if strings.HasPrefix(raw, "[") {
			var values []any
			if err := json.Unmarshal([]byte(raw), &values); err != nil {
				return fmt.Errorf("%q is not a JSON array", raw)
			}
		}
	case domain.SemanticTypeJSON:
		var object map[string]any
		if err := json.Unmarshal([]byte(raw), &object); err != nil || object == nil {
			return fmt.Errorf("%q is not a JSON object", raw)
		}
	}
	return nil
}
