package repository

import (
	"context"
	"time"

	"github.com/rpattn/segmentql/internal/domain"

	"github.com/google/uuid"
)

// RecordStore is the paginated, row-capped contact store. FetchPage clamps
// limit to domain.MaxPageSize.
type RecordStore interface {
	Count(ctx context.Context, query domain.RecordQuery) (int, error)
	FetchPage(ctx context.Context, query domain.RecordQuery, offset, limit int, sort domain.RecordSort) ([]domain.Record, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error)
}

// CustomFieldStore defines the interface for custom field registry operations
type CustomFieldStore interface {
	ListCustomFields(ctx context.Context) ([]domain.CustomFieldDefinition, error)
	CreateCustomField(ctx context.Context, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error)
	// UpdateCustomField replaces the definition stored under oldKey. When the
	// key changes, record values move to the new key.
	UpdateCustomField(ctx context.Context, oldKey string, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error)
	// DeleteCustomField removes the definition and strips the key from every
	// record, returning how many records carried it.
	DeleteCustomField(ctx context.Context, key string) (int64, error)
}

// SegmentRepository defines the interface for segment operations
type SegmentRepository interface {
	Create(ctx context.Context, segment domain.Segment) (domain.Segment, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Segment, error)
	List(ctx context.Context) ([]domain.Segment, error)
	Update(ctx context.Context, segment domain.Segment) (domain.Segment, error)
	// Delete rejects protected segments with *domain.RepositoryConflictError.
	Delete(ctx context.Context, id uuid.UUID) error
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (domain.Segment, error)
}

// ListRepository defines the interface for list and membership operations.
// Every membership mutation recomputes contact_count before returning.
type ListRepository interface {
	Create(ctx context.Context, list domain.List) (domain.List, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.List, error)
	List(ctx context.Context) ([]domain.List, error)
	Update(ctx context.Context, list domain.List) (domain.List, error)
	// Delete rejects system lists with *domain.RepositoryConflictError.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddMembers activates memberships, re-activating soft-removed ones.
	AddMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error)
	// RemoveMembers soft-removes memberships; rows are never deleted.
	RemoveMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error)
	Members(ctx context.Context, listID uuid.UUID, includeRemoved bool) ([]domain.ListMembership, error)
}
