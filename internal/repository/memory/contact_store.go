package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"

	"github.com/google/uuid"
)

// ContactStore is an in-memory record store and custom field store. Custom
// field deletes and renames rewrite the stored records the same way the
// Postgres store does.
type ContactStore struct {
	mu          sync.RWMutex
	records     []domain.Record
	byID        map[uuid.UUID]int
	definitions map[string]domain.CustomFieldDefinition
	maxPageSize int
}

// NewContactStore creates a store seeded with records.
func NewContactStore(records ...domain.Record) *ContactStore {
	s := &ContactStore{
		byID:        map[uuid.UUID]int{},
		definitions: map[string]domain.CustomFieldDefinition{},
		maxPageSize: domain.MaxPageSize,
	}
	s.Insert(records...)
	return s
}

// Insert adds or replaces records.
func (s *ContactStore) Insert(records ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec = cloneRecord(rec)
		if idx, ok := s.byID[rec.ID]; ok {
			s.records[idx] = rec
			continue
		}
		s.byID[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}
}

// Count implements repository.RecordStore.
func (s *ContactStore) Count(ctx context.Context, query domain.RecordQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if matchesQuery(rec, query) {
			count++
		}
	}
	return count, nil
}

// FetchPage implements repository.RecordStore.
func (s *ContactStore) FetchPage(ctx context.Context, query domain.RecordQuery, offset, limit int, order domain.RecordSort) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	matched := make([]domain.Record, 0, len(s.records))
	for _, rec := range s.records {
		if matchesQuery(rec, query) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, order)

	if offset >= len(matched) {
		return []domain.Record{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return append([]domain.Record(nil), matched[offset:end]...), nil
}

// GetByIDs implements repository.RecordStore. Unknown ids are skipped.
func (s *ContactStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if idx, ok := s.byID[id]; ok {
			out = append(out, s.records[idx])
		}
	}
	return out, nil
}

// ListCustomFields implements repository.CustomFieldStore.
func (s *ContactStore) ListCustomFields(ctx context.Context) ([]domain.CustomFieldDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]domain.CustomFieldDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	return domain.SortedDefinitions(defs), nil
}

// CreateCustomField implements repository.CustomFieldStore.
func (s *ContactStore) CreateCustomField(ctx context.Context, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if err := ctx.Err(); err != nil {
		return domain.CustomFieldDefinition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[def.Key]; exists {
		return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", def.Key, domain.ErrDuplicateKey)
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.definitions[def.Key] = def
	return def, nil
}

// UpdateCustomField implements repository.CustomFieldStore.
func (s *ContactStore) UpdateCustomField(ctx context.Context, oldKey string, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if err := ctx.Err(); err != nil {
		return domain.CustomFieldDefinition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.definitions[oldKey]
	if !ok {
		return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", oldKey, domain.ErrNotFound)
	}
	if def.Key != oldKey {
		if _, clash := s.definitions[def.Key]; clash {
			return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", def.Key, domain.ErrDuplicateKey)
		}
		for i, rec := range s.records {
			s.records[i] = rec.WithRenamedCustomField(oldKey, def.Key)
		}
		delete(s.definitions, oldKey)
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.definitions[def.Key] = def
	return def, nil
}

// DeleteCustomField implements repository.CustomFieldStore.
func (s *ContactStore) DeleteCustomField(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[key]; !ok {
		return 0, fmt.Errorf("custom field %s: %w", key, domain.ErrNotFound)
	}
	delete(s.definitions, key)

	var removed int64
	for i, rec := range s.records {
		if rec.HasCustomField(key) {
			s.records[i] = rec.WithoutCustomField(key)
			removed++
		}
	}
	return removed, nil
}

func matchesQuery(rec domain.Record, query domain.RecordQuery) bool {
	for field, want := range query.Equals {
		got, ok := rec.Lookup(field)
		if !ok || got == nil || !equalValues(got, want) {
			return false
		}
	}

	if term := strings.ToLower(strings.TrimSpace(query.Search)); term != "" {
		hit := false
		for _, field := range domain.SearchFields {
			value, ok := rec.Lookup(field)
			if ok && value != nil && strings.Contains(strings.ToLower(fmt.Sprint(value)), term) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	for _, pred := range query.Ranges {
		value, ok := rec.Lookup(pred.Field)
		if !ok || value == nil || !withinRange(value, pred) {
			return false
		}
	}
	return true
}

func withinRange(value any, pred domain.RangePredicate) bool {
	if isTimeBound(pred.Min) || isTimeBound(pred.Max) {
		ts, ok := filter.CoerceTime(value)
		if !ok {
			return false
		}
		if lo, ok := pred.Min.(time.Time); ok && ts.Before(lo) {
			return false
		}
		if hi, ok := pred.Max.(time.Time); ok && ts.After(hi) {
			return false
		}
		return true
	}

	n := filter.CoerceNumber(value)
	if pred.Min != nil && n.LessThan(filter.CoerceNumber(pred.Min)) {
		return false
	}
	if pred.Max != nil && n.GreaterThan(filter.CoerceNumber(pred.Max)) {
		return false
	}
	return true
}

func equalValues(got, want any) bool {
	if b, ok := want.(bool); ok {
		return filter.CoerceBool(got) == b
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func isTimeBound(bound any) bool {
	_, ok := bound.(time.Time)
	return ok
}

func sortRecords(records []domain.Record, order domain.RecordSort) {
	if order.Field == "" {
		order = domain.DefaultRecordSort()
	}
	desc := order.Direction == domain.SortDirectionDesc
	sort.SliceStable(records, func(i, j int) bool {
		c := compareField(records[i], records[j], order.Field)
		if c == 0 {
			return records[i].ID.String() < records[j].ID.String()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareField(a, b domain.Record, field string) int {
	switch field {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	av, _ := a.Lookup(field)
	bv, _ := b.Lookup(field)
	return strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
}

func cloneRecord(rec domain.Record) domain.Record {
	rec.Attributes = cloneMap(rec.Attributes)
	rec.CustomFields = cloneMap(rec.CustomFields)
	return rec
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
