package segmentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/recordloader"
	"github.com/rpattn/segmentql/internal/repository"
	"github.com/rpattn/segmentql/internal/segments"

	"github.com/google/uuid"
)

// ErrListHasNoCriteria is returned when refreshing a list that was not built
// from a filter.
var ErrListHasNoCriteria = errors.New("list has no filter criteria")

// ErrIncompleteUniverse matches IncompleteEvaluationError with errors.Is.
var ErrIncompleteUniverse = errors.New("record universe incomplete")

// IncompleteEvaluationError is returned in place of persisting a size or a
// membership measured on a partial record universe. Nothing was written.
type IncompleteEvaluationError struct {
	Missing []collector.BatchFailure
}

func (e *IncompleteEvaluationError) Error() string {
	return fmt.Sprintf("%s: %d record batches could not be fetched", ErrIncompleteUniverse, len(e.Missing))
}

func (e *IncompleteEvaluationError) Is(target error) bool {
	return target == ErrIncompleteUniverse
}

const defaultSampleSize = 50

// Service evaluates filter criteria against the record universe and keeps
// segments and lists in step with the results.
type Service struct {
	schema   filter.Resolver
	records  repository.RecordStore
	segments *segments.Service
	logger   *slog.Logger
	empty    filter.EmptyPolicy

	collectorOpts []collector.Option
	sessionIdle   time.Duration
	sessions      *collector.Sessions
}

// Option configures the segmentation service.
type Option func(*Service)

// WithEmptyPolicy sets what an expression without complete conditions
// matches at this boundary.
func WithEmptyPolicy(policy filter.EmptyPolicy) Option {
	return func(s *Service) {
		s.empty = policy
	}
}

// WithLogger sets the service logger. It is also handed to the collectors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithCollectorOptions configures the batch collectors created per session.
func WithCollectorOptions(opts ...collector.Option) Option {
	return func(s *Service) {
		s.collectorOpts = append(s.collectorOpts, opts...)
	}
}

// WithSessionIdle sets how long an unused preview session keeps its collector.
func WithSessionIdle(d time.Duration) Option {
	return func(s *Service) {
		s.sessionIdle = d
	}
}

// NewService wires the segmentation service.
func NewService(schema filter.Resolver, records repository.RecordStore, segs *segments.Service, opts ...Option) *Service {
	s := &Service{
		schema:      schema,
		records:     records,
		segments:    segs,
		empty:       filter.EmptyMatchesNothing,
		sessionIdle: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger)

	collectorOpts := append([]collector.Option{collector.WithLogger(s.logger)}, s.collectorOpts...)
	s.sessions = collector.NewSessions(records, s.sessionIdle, collectorOpts...)
	return s
}

// EmptyPolicy returns the configured empty-expression convention.
func (s *Service) EmptyPolicy() filter.EmptyPolicy {
	return s.empty
}

// Evaluation is the outcome of running criteria against the record universe.
type Evaluation struct {
	MaterializeResult
	Scanned    int
	Missing    []collector.BatchFailure
	Generation uint64
}

// Complete reports whether every batch of the universe was examined.
func (e Evaluation) Complete() bool {
	return len(e.Missing) == 0
}

// persistable guards writes derived from the evaluation.
func (e Evaluation) persistable() error {
	if e.Complete() {
		return nil
	}
	return &IncompleteEvaluationError{Missing: e.Missing}
}

// Evaluate fetches the universe for criteria and materializes the matches.
// Fetches sharing a session key supersede each other.
func (s *Service) Evaluate(ctx context.Context, session string, criteria domain.FilterCriteria, policy collector.Policy) (Evaluation, error) {
	compiled := filter.CompileCriteria(criteria, s.schema, s.empty)
	if compiled.Expression.IsEmpty() && s.empty == filter.EmptyMatchesNothing {
		return Evaluation{}, nil
	}

	query := Pushdown(compiled)
	fetched, err := s.sessions.For(session).FetchAll(ctx, query, policy)
	if err != nil {
		if errors.Is(err, domain.ErrStaleResult) {
			s.logger.Debug("evaluation superseded", "session", session, "generation", fetched.Generation)
		}
		return Evaluation{Generation: fetched.Generation}, fmt.Errorf("failed to fetch records: %w", err)
	}

	eval := Evaluation{
		MaterializeResult: MaterializeCriteria(compiled, fetched.Records),
		Scanned:           len(fetched.Records),
		Missing:           fetched.Missing,
		Generation:        fetched.Generation,
	}
	if !eval.Complete() {
		s.logger.Warn("evaluation ran on a partial universe", "missing_batches", len(eval.Missing), "matched", eval.Size)
	}
	return eval, nil
}

// PreviewRequest asks for the size and a sample of a draft filter.
type PreviewRequest struct {
	Criteria   domain.FilterCriteria
	Session    string
	Policy     collector.Policy
	SampleSize int
}

// Preview is the live result of a draft filter. Violations are reported but
// do not block the preview: invalid conditions simply match nothing.
type Preview struct {
	Size       int
	Sample     []domain.Record
	Scanned    int
	Missing    []collector.BatchFailure
	Violations []filter.Violation
	Generation uint64
}

// Preview evaluates a draft filter without persisting anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	eval, err := s.Evaluate(ctx, req.Session, req.Criteria, req.Policy)
	if err != nil {
		return Preview{}, err
	}

	sampleSize := req.SampleSize
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	sample := eval.Matches
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	return Preview{
		Size:       eval.Size,
		Sample:     sample,
		Scanned:    eval.Scanned,
		Missing:    eval.Missing,
		Violations: filter.Validate(req.Criteria.Expression, s.schema),
		Generation: eval.Generation,
	}, nil
}

// SaveSegmentRequest creates a segment, or updates one when ID is set.
type SaveSegmentRequest struct {
	ID          uuid.UUID
	Name        string
	Description string
	Criteria    domain.FilterCriteria
	AutoUpdate  bool
	Tags        []string
	Shared      bool
	Policy      collector.Policy
}

// SaveSegment validates the criteria, measures them and persists the segment.
// A measurement that skipped batches is not saved.
func (s *Service) SaveSegment(ctx context.Context, req SaveSegmentRequest) (domain.Segment, error) {
	if err := filter.Check(req.Criteria.Expression, s.schema); err != nil {
		return domain.Segment{}, err
	}

	eval, err := s.Evaluate(ctx, "", req.Criteria, req.Policy)
	if err != nil {
		return domain.Segment{}, err
	}
	if err := eval.persistable(); err != nil {
		return domain.Segment{}, err
	}

	if req.ID == uuid.Nil {
		segment := domain.NewSegment(req.Name, req.Description, req.Criteria, eval.Size, req.AutoUpdate).
			WithTags(req.Tags).
			WithShared(req.Shared)
		return s.segments.CreateSegment(ctx, segment)
	}

	existing, err := s.segments.GetSegment(ctx, req.ID)
	if err != nil {
		return domain.Segment{}, err
	}
	updated := existing.
		WithName(req.Name).
		WithDescription(req.Description).
		WithCriteria(req.Criteria, eval.Size).
		WithAutoUpdate(req.AutoUpdate).
		WithTags(req.Tags).
		WithShared(req.Shared)
	return s.segments.UpdateSegment(ctx, updated)
}

// Resolution is a segment together with its current members.
type Resolution struct {
	Segment domain.Segment
	// Records is nil for a snapshot resolution.
	Records []domain.Record
	Size    int
	// Live is true for auto-updating segments, whose size follows the
	// current universe.
	Live    bool
	Missing []collector.BatchFailure
}

// ResolveSegment consults a segment and records the usage. Auto-updating
// segments are re-evaluated and persist the fresh size when every batch was
// fetched. Snapshot segments are not evaluated at all: the stored size is
// returned as is, and only RecomputeSegment re-measures them.
func (s *Service) ResolveSegment(ctx context.Context, id uuid.UUID, policy collector.Policy) (Resolution, error) {
	segment, err := s.segments.GetSegment(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	if segment.AutoUpdate {
		return s.resolveLive(ctx, segment, policy)
	}

	used, err := s.segments.UseSegment(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Segment: used, Size: used.EstimatedSize}, nil
}

// SegmentMembers materializes a segment's records for reading them out, as an
// export does. Auto-updating segments resolve live. A snapshot stores no
// membership, so its definition is evaluated against the current universe
// while its stored size is left untouched.
func (s *Service) SegmentMembers(ctx context.Context, id uuid.UUID, policy collector.Policy) (Resolution, error) {
	segment, err := s.segments.GetSegment(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	if segment.AutoUpdate {
		return s.resolveLive(ctx, segment, policy)
	}

	eval, err := s.Evaluate(ctx, "", segment.Criteria, policy)
	if err != nil {
		return Resolution{}, err
	}
	used, err := s.segments.UseSegment(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Segment: used,
		Records: eval.Matches,
		Size:    eval.Size,
		Missing: eval.Missing,
	}, nil
}

func (s *Service) resolveLive(ctx context.Context, segment domain.Segment, policy collector.Policy) (Resolution, error) {
	eval, err := s.Evaluate(ctx, "", segment.Criteria, policy)
	if err != nil {
		return Resolution{}, err
	}

	if eval.Complete() && segment.EstimatedSize != eval.Size {
		if _, err := s.segments.UpdateSegment(ctx, segment.WithEstimatedSize(eval.Size)); err != nil {
			return Resolution{}, err
		}
	}

	used, err := s.segments.UseSegment(ctx, segment.ID)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Segment: used,
		Records: eval.Matches,
		Size:    eval.Size,
		Live:    true,
		Missing: eval.Missing,
	}, nil
}

// RecomputeSegment re-measures a segment regardless of its update mode. The
// stored size is only replaced by a measurement over the whole universe.
func (s *Service) RecomputeSegment(ctx context.Context, id uuid.UUID, policy collector.Policy) (domain.Segment, error) {
	segment, err := s.segments.GetSegment(ctx, id)
	if err != nil {
		return domain.Segment{}, err
	}
	eval, err := s.Evaluate(ctx, "", segment.Criteria, policy)
	if err != nil {
		return domain.Segment{}, err
	}
	if err := eval.persistable(); err != nil {
		return domain.Segment{}, err
	}
	s.logger.Info("segment recomputed", "segment", id, "previous", segment.EstimatedSize, "size", eval.Size)
	return s.segments.UpdateSegment(ctx, segment.WithEstimatedSize(eval.Size))
}

// SaveListRequest creates a list, optionally seeded from a filter.
type SaveListRequest struct {
	Name        string
	Description string
	Type        domain.ListType
	Criteria    *domain.FilterCriteria
	Tags        []string
	Shared      bool
	Policy      collector.Policy
}

// SaveList creates a list. When criteria are given, the current matches
// become its initial members; the list is only created once they have been
// fetched in full.
func (s *Service) SaveList(ctx context.Context, req SaveListRequest) (domain.List, error) {
	listType := req.Type
	var members []uuid.UUID
	if req.Criteria != nil {
		if err := filter.Check(req.Criteria.Expression, s.schema); err != nil {
			return domain.List{}, err
		}
		if listType == "" {
			listType = domain.ListTypeDynamic
		}

		eval, err := s.Evaluate(ctx, "", *req.Criteria, req.Policy)
		if err != nil {
			return domain.List{}, err
		}
		if err := eval.persistable(); err != nil {
			return domain.List{}, err
		}
		members = eval.IDs()
	}

	list, err := s.segments.CreateList(ctx,
		domain.NewList(req.Name, req.Description, listType, req.Criteria).
			WithTags(req.Tags).
			WithShared(req.Shared))
	if err != nil {
		return domain.List{}, err
	}
	if len(members) == 0 {
		return list, nil
	}
	return s.segments.AddMembers(ctx, list.ID, members)
}

// RefreshResult reports what a list refresh changed.
type RefreshResult struct {
	List    domain.List
	Matched int
	Added   int
	Missing []collector.BatchFailure
}

// RefreshList adds records that newly match the list's criteria. Members
// removed by hand are never brought back.
func (s *Service) RefreshList(ctx context.Context, id uuid.UUID, policy collector.Policy) (RefreshResult, error) {
	list, err := s.segments.GetList(ctx, id)
	if err != nil {
		return RefreshResult{}, err
	}
	if list.Criteria == nil {
		return RefreshResult{}, fmt.Errorf("list %s: %w", id, ErrListHasNoCriteria)
	}

	eval, err := s.Evaluate(ctx, "", *list.Criteria, policy)
	if err != nil {
		return RefreshResult{}, err
	}

	rows, err := s.segments.Members(ctx, id, true)
	if err != nil {
		return RefreshResult{}, err
	}
	known := make(map[uuid.UUID]struct{}, len(rows))
	for _, row := range rows {
		known[row.RecordID] = struct{}{}
	}

	var fresh []uuid.UUID
	for _, recordID := range eval.IDs() {
		if _, ok := known[recordID]; !ok {
			fresh = append(fresh, recordID)
		}
	}

	result := RefreshResult{List: list, Matched: eval.Size, Added: len(fresh), Missing: eval.Missing}
	if len(fresh) == 0 {
		return result, nil
	}
	result.List, err = s.segments.AddMembers(ctx, id, fresh)
	if err != nil {
		return RefreshResult{}, err
	}
	s.logger.Info("list refreshed", "list", id, "matched", eval.Size, "added", len(fresh))
	return result, nil
}

// ListMembers returns the records of a list's active members in membership
// order. Members whose record no longer exists are skipped.
func (s *Service) ListMembers(ctx context.Context, id uuid.UUID) ([]domain.Record, error) {
	rows, err := s.segments.Members(ctx, id, false)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.RecordID
	}
	return s.hydrate(ctx, ids)
}

func (s *Service) hydrate(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if loader := recordloader.FromContext(ctx); loader != nil {
		return loader.LoadMany(ctx, ids)
	}

	byID := make(map[uuid.UUID]domain.Record, len(ids))
	for start := 0; start < len(ids); start += domain.MaxPageSize {
		end := start + domain.MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		records, err := s.records.GetByIDs(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to load list members: %w", err)
		}
		for _, rec := range records {
			byID[rec.ID] = rec
		}
	}

	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
