package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/repository"
)

var (
	_ repository.RecordStore       = (*ContactStore)(nil)
	_ repository.CustomFieldStore  = (*ContactStore)(nil)
	_ repository.SegmentRepository = (*SegmentRepository)(nil)
	_ repository.ListRepository    = (*ListRepository)(nil)
)

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	CustomFields []domain.CustomFieldDefinition `json:"customFields"`
	Records      []domain.Record                `json:"records"`
}

// ReadSeed parses a JSON seed file.
func ReadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// LoadSeed builds a contact store from a JSON seed file.
func LoadSeed(path string) (*ContactStore, error) {
	seed, err := ReadSeed(path)
	if err != nil {
		return nil, err
	}
	return NewContactStoreFromSeed(seed)
}

// NewContactStoreFromSeed builds a contact store holding the seed contents.
func NewContactStoreFromSeed(seed Seed) (*ContactStore, error) {
	store := NewContactStore(seed.Records...)
	for _, def := range seed.CustomFields {
		if _, err := store.CreateCustomField(context.Background(), def); err != nil {
			return nil, fmt.Errorf("failed to seed custom field %s: %w", def.Key, err)
		}
	}
	return store, nil
}
