package validator

import (
	"testing"

	"github.com/rpattn/segmentql/internal/domain"
)

func isBase(key string) bool {
	return key == "email" || key == "status"
}

func TestValidateDefinition_AcceptsTypedField(t *testing.T) {
	def := domain.NewCustomFieldDefinition("renewal_date", "Renewal", "date")
	def.DefaultValue = "2025-01-01"

	if err := ValidateDefinition(def, isBase); err != nil {
		t.Fatalf("expected validation to pass, got error: %v", err)
	}
}

func TestValidateDefinition_UntypedFieldFallsBackToInference(t *testing.T) {
	def := domain.NewCustomFieldDefinition("seat_count", "Seats", "")

	if err := ValidateDefinition(def, isBase); err != nil {
		t.Fatalf("expected untyped definition to be accepted, got %v", err)
	}
	if got := def.SemanticType(); got != domain.SemanticTypeNumber {
		t.Fatalf("expected inferred number type, got %s", got)
	}
}

func TestValidateDefinition_RejectsBaseKeyCollision(t *testing.T) {
	def := domain.NewCustomFieldDefinition("email", "Email", "string")

	if err := ValidateDefinition(def, isBase); err == nil {
		t.Fatalf("expected collision with built-in field to fail")
	}
}

func TestValidateDefinition_InvalidKeys(t *testing.T) {
	for _, key := range []string{"", "  ", "Tier", "1tier", "tier-level", "custom_fields.tier"} {
		def := domain.NewCustomFieldDefinition(key, "x", "string")
		if err := ValidateDefinition(def, isBase); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestValidateDefinition_UnknownType(t *testing.T) {
	def := domain.NewCustomFieldDefinition("geo", "Geo", "polygon")

	if err := ValidateDefinition(def, isBase); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestValidateDefinition_DefaultValues(t *testing.T) {
	tests := []struct {
		fieldType string
		value     string
		valid     bool
	}{
		{"number", "12.5", true},
		{"number", "twelve", false},
		{"date", "2024-02-30", false},
		{"date", "2024-02-28", true},
		{"boolean", "TRUE", true},
		{"boolean", "yes", false},
		{"array", `["a","b"]`, true},
		{"array", `[broken`, false},
		{"array", "a,b", true},
		{"json", `{"a":1}`, true},
		{"json", `[1,2]`, false},
		{"string", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.fieldType+"="+tt.value, func(t *testing.T) {
			def := domain.NewCustomFieldDefinition("field_x", "X", tt.fieldType)
			def.DefaultValue = tt.value
			err := ValidateDefinition(def, isBase)
			if tt.valid && err != nil {
				t.Fatalf("expected default %q to be valid for %s, got %v", tt.value, tt.fieldType, err)
			}
			if !tt.valid && err == nil {
				t.Fatalf("expected default %q to be rejected for %s", tt.value, tt.fieldType)
			}
		})
	}
}
