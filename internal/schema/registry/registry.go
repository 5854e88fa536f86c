package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/repository"
	"github.com/rpattn/segmentql/internal/schema/validator"
)

// BaseFields is the built-in contact field table.
var BaseFields = []domain.FieldDescriptor{
	{Key: "name", Label: "Name", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "email", Label: "Email", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "phone", Label: "Phone", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "company", Label: "Company", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "job_title", Label: "Job title", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "status", Label: "Status", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "country", Label: "Country", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "city", Label: "City", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "profile_type", Label: "Profile type", Type: domain.SemanticTypeString, Origin: domain.FieldOriginBase},
	{Key: "lead_score", Label: "Lead score", Type: domain.SemanticTypeNumber, Origin: domain.FieldOriginBase},
	{Key: "is_marketing", Label: "Marketing opt-in", Type: domain.SemanticTypeBoolean, Origin: domain.FieldOriginBase},
	{Key: "tags", Label: "Tags", Type: domain.SemanticTypeArray, Origin: domain.FieldOriginBase},
	{Key: "metadata", Label: "Metadata", Type: domain.SemanticTypeJSON, Origin: domain.FieldOriginBase},
	{Key: "created_at", Label: "Created", Type: domain.SemanticTypeDate, Origin: domain.FieldOriginBase},
	{Key: "updated_at", Label: "Updated", Type: domain.SemanticTypeDate, Origin: domain.FieldOriginBase},
	{Key: "last_contacted_at", Label: "Last contacted", Type: domain.SemanticTypeDate, Origin: domain.FieldOriginBase},
}

// ErrInvalidDefinition wraps custom field definitions rejected by validation.
var ErrInvalidDefinition = errors.New("invalid custom field definition")

// Catalog groups descriptors by origin for presentation.
type Catalog struct {
	Base        []domain.FieldDescriptor `json:"base"`
	Custom      []domain.FieldDescriptor `json:"custom"`
	Degraded    bool                     `json:"degraded"`
	RefreshedAt time.Time                `json:"refreshedAt"`
}

// Registry merges the base field table with custom field descriptors loaded
// from the schema store. Base keys always win.
type Registry struct {
	store  repository.CustomFieldStore
	logger *slog.Logger

	base      map[string]domain.FieldDescriptor
	baseOrder []domain.FieldDescriptor

	mu          sync.RWMutex
	custom      map[string]domain.FieldDescriptor
	customOrder []domain.FieldDescriptor
	definitions []domain.CustomFieldDefinition
	degraded    bool
	refreshedAt time.Time
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithBaseFields replaces the built-in field table.
func WithBaseFields(fields []domain.FieldDescriptor) Option {
	return func(r *Registry) {
		r.baseOrder = append([]domain.FieldDescriptor(nil), fields...)
	}
}

// New builds a registry holding only base fields. Call Refresh to load the
// custom table.
func New(store repository.CustomFieldStore, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		baseOrder: append([]domain.FieldDescriptor(nil), BaseFields...),
		custom:    map[string]domain.FieldDescriptor{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrDefault(r.logger)
	r.base = make(map[string]domain.FieldDescriptor, len(r.baseOrder))
	for _, d := range r.baseOrder {
		r.base[d.Key] = d
	}
	return r
}

// Resolve returns the descriptor for a field address. Custom fields resolve
// by their custom_fields.<key> address, or by their bare key when it does not
// collide with a base key.
func (r *Registry) Resolve(key string) (domain.FieldDescriptor, error) {
	key = strings.TrimSpace(key)
	if d, ok := r.base[key]; ok {
		return d, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.custom[key]; ok {
		return d, nil
	}
	if d, ok := r.custom[domain.CustomFieldAddress(key)]; ok {
		return d, nil
	}
	return domain.FieldDescriptor{}, &domain.SchemaResolutionError{Field: key}
}

// IsBaseKey reports whether key belongs to a built-in field.
func (r *Registry) IsBaseKey(key string) bool {
	_, ok := r.base[strings.TrimSpace(key)]
	return ok
}

// ListAll returns every descriptor grouped by origin.
func (r *Registry) ListAll() Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Catalog{
		Base:        append([]domain.FieldDescriptor(nil), r.baseOrder...),
		Custom:      append([]domain.FieldDescriptor{}, r.customOrder...),
		Degraded:    r.degraded,
		RefreshedAt: r.refreshedAt,
	}
}

// Definitions returns the custom field definitions from the last refresh.
func (r *Registry) Definitions() []domain.CustomFieldDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.SortedDefinitions(r.definitions)
}

// Degraded reports whether the last refresh failed and only base fields are
// being served.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Refresh drops the cached custom table and re-fetches it. When the fetch
// fails the registry keeps serving base fields only and the error is
// returned for reporting.
func (r *Registry) Refresh(ctx context.Context) error {
	defs, err := r.store.ListCustomFields(ctx)
	if err != nil {
		r.mu.Lock()
		r.custom = map[string]domain.FieldDescriptor{}
		r.customOrder = nil
		r.definitions = nil
		r.degraded = true
		r.refreshedAt = time.Now()
		r.mu.Unlock()

		r.logger.Warn("custom field fetch failed, serving base fields only", "error", err)
		return fmt.Errorf("failed to load custom fields: %w", err)
	}

	custom := make(map[string]domain.FieldDescriptor, len(defs))
	order := make([]domain.FieldDescriptor, 0, len(defs))
	kept := make([]domain.CustomFieldDefinition, 0, len(defs))
	for _, def := range domain.SortedDefinitions(defs) {
		if _, clash := r.base[def.Key]; clash {
			r.logger.Warn("custom field shadows a base field and is ignored", "key", def.Key)
			continue
		}
		if _, ok := domain.ParseSemanticType(def.Type); !ok {
			r.logger.Debug("custom field type inferred from name", "key", def.Key, "declared", def.Type, "inferred", def.SemanticType())
		}
		descriptor := def.Descriptor()
		custom[descriptor.Key] = descriptor
		order = append(order, descriptor)
		kept = append(kept, def)
	}

	r.mu.Lock()
	r.custom = custom
	r.customOrder = order
	r.definitions = kept
	r.degraded = false
	r.refreshedAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("custom fields refreshed", "count", len(order))
	return nil
}

// Define validates and registers a new custom field.
func (r *Registry) Define(ctx context.Context, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if err := validator.ValidateDefinition(def, r.IsBaseKey); err != nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	created, err := r.store.CreateCustomField(ctx, def)
	if err != nil {
		return domain.CustomFieldDefinition{}, err
	}
	r.refreshAfterWrite(ctx)
	return created, nil
}

// Redefine replaces the definition stored under oldKey. Renaming moves record
// values but does not rewrite saved filter criteria that reference the old key.
func (r *Registry) Redefine(ctx context.Context, oldKey string, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if err := validator.ValidateDefinition(def, r.IsBaseKey); err != nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	updated, err := r.store.UpdateCustomField(ctx, strings.TrimSpace(oldKey), def)
	if err != nil {
		return domain.CustomFieldDefinition{}, err
	}
	if oldKey != updated.Key {
		r.logger.Warn("custom field renamed, saved filters keep the old key",
			"old_key", oldKey, "new_key", updated.Key)
	}
	r.refreshAfterWrite(ctx)
	return updated, nil
}

// Remove deletes a custom field and strips it from every record.
func (r *Registry) Remove(ctx context.Context, key string) (int64, error) {
	removed, err := r.store.DeleteCustomField(ctx, strings.TrimSpace(key))
	if err != nil {
		return 0, err
	}
	r.refreshAfterWrite(ctx)
	return removed, nil
}

func (r *Registry) refreshAfterWrite(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("registry refresh after write failed", "error", err)
	}
}
