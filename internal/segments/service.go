package segments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/repository"

	"github.com/google/uuid"
)

// ErrInvalidInput marks requests rejected before reaching a repository.
var ErrInvalidInput = errors.New("invalid input")

// Service manages saved segments and lists.
type Service struct {
	segments repository.SegmentRepository
	lists    repository.ListRepository
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the segment service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source used for membership and usage stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a segment service.
func NewService(segments repository.SegmentRepository, lists repository.ListRepository, opts ...Option) *Service {
	s := &Service{
		segments: segments,
		lists:    lists,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger)
	return s
}

// CreateSegment persists a new segment.
func (s *Service) CreateSegment(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	segment.Name = strings.TrimSpace(segment.Name)
	if segment.Name == "" {
		return domain.Segment{}, fmt.Errorf("%w: segment name is required", ErrInvalidInput)
	}
	if segment.EstimatedSize < 0 {
		return domain.Segment{}, fmt.Errorf("%w: estimated size cannot be negative", ErrInvalidInput)
	}
	created, err := s.segments.Create(ctx, segment)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to create segment: %w", err)
	}
	s.logger.Info("segment created", "segment", created.ID, "name", created.Name, "size", created.EstimatedSize)
	return created, nil
}

// UpdateSegment persists changes to an existing segment.
func (s *Service) UpdateSegment(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	if segment.ID == uuid.Nil {
		return domain.Segment{}, fmt.Errorf("%w: segment id is required", ErrInvalidInput)
	}
	segment.Name = strings.TrimSpace(segment.Name)
	if segment.Name == "" {
		return domain.Segment{}, fmt.Errorf("%w: segment name is required", ErrInvalidInput)
	}
	updated, err := s.segments.Update(ctx, segment)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to update segment: %w", err)
	}
	return updated, nil
}

// DeleteSegment removes a segment. Protected segments are rejected with a
// *domain.RepositoryConflictError.
func (s *Service) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	if err := s.segments.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	s.logger.Info("segment deleted", "segment", id)
	return nil
}

func (s *Service) GetSegment(ctx context.Context, id uuid.UUID) (domain.Segment, error) {
	segment, err := s.segments.GetByID(ctx, id)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to get segment: %w", err)
	}
	return segment, nil
}

func (s *Service) ListSegments(ctx context.Context) ([]domain.Segment, error) {
	segments, err := s.segments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	return segments, nil
}

// UseSegment bumps the usage counter and last-used timestamp.
func (s *Service) UseSegment(ctx context.Context, id uuid.UUID) (domain.Segment, error) {
	segment, err := s.segments.MarkUsed(ctx, id, s.now())
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to record segment usage: %w", err)
	}
	return segment, nil
}

// CreateList persists a new, empty list.
func (s *Service) CreateList(ctx context.Context, list domain.List) (domain.List, error) {
	list.Name = strings.TrimSpace(list.Name)
	if list.Name == "" {
		return domain.List{}, fmt.Errorf("%w: list name is required", ErrInvalidInput)
	}
	if list.Type == "" {
		list.Type = domain.ListTypeStatic
	}
	if !list.Type.Valid() {
		return domain.List{}, fmt.Errorf("%w: unknown list type %q", ErrInvalidInput, list.Type)
	}
	created, err := s.lists.Create(ctx, list)
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to create list: %w", err)
	}
	s.logger.Info("list created", "list", created.ID, "name", created.Name, "type", created.Type)
	return created, nil
}

// UpdateList persists descriptive changes. The list type and contact count
// cannot be changed this way.
func (s *Service) UpdateList(ctx context.Context, list domain.List) (domain.List, error) {
	if list.ID == uuid.Nil {
		return domain.List{}, fmt.Errorf("%w: list id is required", ErrInvalidInput)
	}
	list.Name = strings.TrimSpace(list.Name)
	if list.Name == "" {
		return domain.List{}, fmt.Errorf("%w: list name is required", ErrInvalidInput)
	}
	updated, err := s.lists.Update(ctx, list)
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to update list: %w", err)
	}
	return updated, nil
}

// DeleteList removes a list. System lists are rejected with a
// *domain.RepositoryConflictError.
func (s *Service) DeleteList(ctx context.Context, id uuid.UUID) error {
	if err := s.lists.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	s.logger.Info("list deleted", "list", id)
	return nil
}

func (s *Service) GetList(ctx context.Context, id uuid.UUID) (domain.List, error) {
	list, err := s.lists.GetByID(ctx, id)
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to get list: %w", err)
	}
	return list, nil
}

func (s *Service) ListLists(ctx context.Context) ([]domain.List, error) {
	lists, err := s.lists.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return lists, nil
}

// AddMembers activates memberships for recordIDs. Previously removed members
// are re-activated.
func (s *Service) AddMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID) (domain.List, error) {
	ids := distinct(recordIDs)
	if len(ids) == 0 {
		return s.GetList(ctx, listID)
	}
	list, err := s.lists.AddMembers(ctx, listID, ids, s.now())
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to add list members: %w", err)
	}
	s.logger.Debug("list members added", "list", listID, "requested", len(ids), "count", list.ContactCount)
	return list, nil
}

// RemoveMembers soft-removes memberships. The rows stay with status removed.
func (s *Service) RemoveMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID) (domain.List, error) {
	ids := distinct(recordIDs)
	if len(ids) == 0 {
		return s.GetList(ctx, listID)
	}
	list, err := s.lists.RemoveMembers(ctx, listID, ids, s.now())
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to remove list members: %w", err)
	}
	s.logger.Debug("list members removed", "list", listID, "requested", len(ids), "count", list.ContactCount)
	return list, nil
}

// Members returns the membership rows of a list in insertion order.
func (s *Service) Members(ctx context.Context, listID uuid.UUID, includeRemoved bool) ([]domain.ListMembership, error) {
	members, err := s.lists.Members(ctx, listID, includeRemoved)
	if err != nil {
		return nil, fmt.Errorf("failed to load list members: %w", err)
	}
	return members, nil
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
