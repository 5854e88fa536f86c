package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/segmentql/internal/domain"

	"github.com/google/uuid"
)

// SegmentRepository keeps segments in a map.
type SegmentRepository struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]domain.Segment
}

// NewSegmentRepository creates an empty repository.
func NewSegmentRepository() *SegmentRepository {
	return &SegmentRepository{segments: map[uuid.UUID]domain.Segment{}}
}

func (r *SegmentRepository) Create(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	if _, exists := r.segments[segment.ID]; exists {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", segment.ID, domain.ErrDuplicateKey)
	}
	r.segments[segment.ID] = segment
	return segment, nil
}

func (r *SegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	segment, ok := r.segments[id]
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return segment, nil
}

func (r *SegmentRepository) List(ctx context.Context) ([]domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Segment, 0, len(r.segments))
	for _, segment := range r.segments {
		out = append(out, segment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *SegmentRepository) Update(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.segments[segment.ID]
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", segment.ID, domain.ErrNotFound)
	}
	segment.CreatedAt = existing.CreatedAt
	segment.Protected = existing.Protected
	r.segments[segment.ID] = segment
	return segment, nil
}

func (r *SegmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	segment, ok := r.segments[id]
	if !ok {
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	if segment.Protected {
		return domain.NewRepositoryConflictError("segment", id.String(), "protected segments cannot be deleted", domain.ErrProtected)
	}
	delete(r.segments, id)
	return nil
}

func (r *SegmentRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	segment, ok := r.segments[id]
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	segment = segment.MarkUsed(at)
	r.segments[id] = segment
	return segment, nil
}
