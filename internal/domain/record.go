package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is a contact as returned by the record store: an attribute bag keyed
// by base field key plus a nested map of custom attributes.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	Attributes   map[string]any `json:"attributes"`
	CustomFields map[string]any `json:"custom_fields"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Index is the position assigned by the batch collector. It is local to
	// the process and never serialized.
	Index int `json:"-"`
}

// NewRecord creates a new record with immutable pattern
func NewRecord(attributes map[string]any, customFields map[string]any) Record {
	now := time.Now()
	return Record{
		ID:           uuid.New(),
		Attributes:   copyProperties(attributes),
		CustomFields: copyProperties(customFields),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Lookup resolves a field address against the record. Addresses carrying the
// custom_fields prefix read from the custom map; everything else reads a base
// attribute. The boolean is false when the attribute is absent.
func (r Record) Lookup(address string) (any, bool) {
	if key, ok := SplitCustomFieldAddress(address); ok {
		value, exists := r.CustomFields[key]
		return value, exists
	}
	switch address {
	case "id":
		return r.ID.String(), r.ID != uuid.Nil
	case "created_at":
		if value, ok := r.Attributes[address]; ok {
			return value, true
		}
		return r.CreatedAt, !r.CreatedAt.IsZero()
	case "updated_at":
		if value, ok := r.Attributes[address]; ok {
			return value, true
		}
		return r.UpdatedAt, !r.UpdatedAt.IsZero()
	}
	value, exists := r.Attributes[address]
	return value, exists
}

// HasCustomField reports whether the custom map carries key.
func (r Record) HasCustomField(key string) bool {
	_, ok := r.CustomFields[key]
	return ok
}

// WithAttribute returns a new record with an added/updated base attribute
func (r Record) WithAttribute(key string, value any) Record {
	attributes := copyProperties(r.Attributes)
	attributes[key] = value

	next := r
	next.Attributes = attributes
	next.CustomFields = copyProperties(r.CustomFields)
	next.UpdatedAt = time.Now()
	return next
}

// WithCustomField returns a new record with an added/updated custom attribute
func (r Record) WithCustomField(key string, value any) Record {
	custom := copyProperties(r.CustomFields)
	custom[key] = value

	next := r
	next.Attributes = copyProperties(r.Attributes)
	next.CustomFields = custom
	next.UpdatedAt = time.Now()
	return next
}

// WithoutCustomField returns a new record without the specified custom attribute
func (r Record) WithoutCustomField(key string) Record {
	custom := copyProperties(r.CustomFields)
	delete(custom, key)

	next := r
	next.Attributes = copyProperties(r.Attributes)
	next.CustomFields = custom
	next.UpdatedAt = time.Now()
	return next
}

// WithRenamedCustomField moves the value stored under oldKey to newKey.
func (r Record) WithRenamedCustomField(oldKey, newKey string) Record {
	value, ok := r.CustomFields[oldKey]
	if !ok || oldKey == newKey {
		return r
	}
	custom := copyProperties(r.CustomFields)
	delete(custom, oldKey)
	custom[newKey] = value

	next := r
	next.Attributes = copyProperties(r.Attributes)
	next.CustomFields = custom
	next.UpdatedAt = time.Now()
	return next
}

// WithIndex returns the record tagged with its collector position.
func (r Record) WithIndex(index int) Record {
	r.Index = index
	return r
}

// GetCustomFieldsAsJSONB returns the custom attribute map for database storage
func (r *Record) GetCustomFieldsAsJSONB() (json.RawMessage, error) {
	if r.CustomFields == nil {
		r.CustomFields = make(map[string]any)
	}
	return json.Marshal(r.CustomFields)
}

// FromJSONBProperties creates a property map from JSONB data
func FromJSONBProperties(propertiesJSON json.RawMessage) (map[string]any, error) {
	if len(propertiesJSON) == 0 {
		return map[string]any{}, nil
	}
	var properties map[string]any
	if err := json.Unmarshal(propertiesJSON, &properties); err != nil {
		return nil, err
	}
	if properties == nil {
		properties = map[string]any{}
	}
	return properties, nil
}

// copyProperties creates a shallow copy of the properties map to ensure immutability
func copyProperties(properties map[string]any) map[string]any {
	newProperties := make(map[string]any, len(properties))
	for k, v := range properties {
		newProperties[k] = v
	}
	return newProperties
}
