package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedStore serves records by offset and can inject failures or block pages.
type pagedStore struct {
	mu       sync.Mutex
	records  []domain.Record
	attempts map[int]int
	requests int

	// failFor returns an error for the given offset and 1-based attempt.
	failFor func(offset, attempt int) error

	// When gate is set, pages for the gated bucket block until the gate
	// closes or the request context ends.
	gate       chan struct{}
	gateBucket string
	started    chan struct{}
	startOnce  sync.Once
}

func newPagedStore(n int) *pagedStore {
	return &pagedStore{records: makeRecords(n, "a"), attempts: map[int]int{}}
}

func makeRecords(n int, bucket string) []domain.Record {
	out := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.NewRecord(map[string]any{"bucket": bucket, "seq": i}, nil))
	}
	return out
}

func (s *pagedStore) selected(query domain.RecordQuery) []domain.Record {
	want, ok := query.Equals["bucket"]
	if !ok {
		return s.records
	}
	out := make([]domain.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Attributes["bucket"] == want {
			out = append(out, rec)
		}
	}
	return out
}

func (s *pagedStore) Count(_ context.Context, query domain.RecordQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected(query)), nil
}

func (s *pagedStore) FetchPage(ctx context.Context, query domain.RecordQuery, offset, limit int, _ domain.RecordSort) ([]domain.Record, error) {
	s.mu.Lock()
	s.requests++
	s.attempts[offset]++
	attempt := s.attempts[offset]
	records := s.selected(query)
	gate := s.gate
	gated := gate != nil && query.Equals["bucket"] == s.gateBucket
	s.mu.Unlock()

	if gated {
		s.startOnce.Do(func() { close(s.started) })
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failFor != nil {
		if err := s.failFor(offset, attempt); err != nil {
			return nil, err
		}
	}
	if offset >= len(records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return append([]domain.Record(nil), records[offset:end]...), nil
}

func (s *pagedStore) GetByIDs(context.Context, []uuid.UUID) ([]domain.Record, error) {
	return nil, nil
}

func quiet() Option {
	return WithLogger(logger.Nop())
}

func TestFetchAll_AssemblesEveryBatch(t *testing.T) {
	const p = domain.MaxPageSize
	for _, n := range []int{0, 1, p - 1, p, p + 1, 5*p + 37} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			store := newPagedStore(n)
			c := New(store, quiet(), WithConcurrency(3))

			result, err := c.FetchAll(context.Background(), domain.RecordQuery{}, PolicyStrict)
			require.NoError(t, err)
			require.Len(t, result.Records, n)
			assert.True(t, result.Complete())
			assert.Equal(t, n, result.Total)
			assert.Equal(t, (n+p-1)/p, store.requests)

			for i, rec := range result.Records {
				assert.Equal(t, i, rec.Index)
				assert.Equal(t, store.records[i].ID, rec.ID, "records must keep batch order")
			}
		})
	}
}

func TestFetchAll_PageSizeIsClampedToStoreCap(t *testing.T) {
	c := New(newPagedStore(0), quiet(), WithPageSize(5000))
	assert.Equal(t, domain.MaxPageSize, c.PageSize())

	c = New(newPagedStore(0), quiet(), WithPageSize(25))
	assert.Equal(t, 25, c.PageSize())
}

func TestFetchAll_DropsDuplicateIDs(t *testing.T) {
	store := newPagedStore(4)
	store.records = append(store.records, store.records[1])

	c := New(store, quiet(), WithPageSize(2))
	result, err := c.FetchAll(context.Background(), domain.RecordQuery{}, PolicyStrict)
	require.NoError(t, err)
	assert.Len(t, result.Records, 4)
	assert.Equal(t, 5, result.Total)
}

func TestFetchAll_RetriesTransientFailures(t *testing.T) {
	store := newPagedStore(30)
	store.failFor = func(offset, attempt int) error {
		if offset == 10 && attempt <= 2 {
			return errors.New("timeout")
		}
		return nil
	}

	c := New(store, quiet(), WithPageSize(10), WithMaxRetries(2), WithRetryBackoff(time.Millisecond))
	result, err := c.FetchAll(context.Background(), domain.RecordQuery{}, PolicyStrict)
	require.NoError(t, err)
	assert.Len(t, result.Records, 30)
	assert.Equal(t, 3, store.attempts[10])
}

func TestFetchAll_StrictAbortsOnPersistentFailure(t *testing.T) {
	store := newPagedStore(30)
	store.failFor = func(offset, _ int) error {
		if offset == 20 {
			return errors.New("connection reset")
		}
		return nil
	}

	c := New(store, quiet(), WithPageSize(10), WithMaxRetries(1), WithRetryBackoff(0))
	_, err := c.FetchAll(context.Background(), domain.RecordQuery{}, PolicyStrict)
	require.Error(t, err)

	var batchErr *domain.BatchFetchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Batch)
	assert.Equal(t, 20, batchErr.Offset)
	assert.Equal(t, 2, batchErr.Attempts)
}

func TestFetchAll_BestEffortReportsMissingBatches(t *testing.T) {
	store := newPagedStore(35)
	store.failFor = func(offset, _ int) error {
		if offset == 10 {
			return errors.New("connection reset")
		}
		return nil
	}

	c := New(store, quiet(), WithPageSize(10), WithMaxRetries(0))
	result, err := c.FetchAll(context.Background(), domain.RecordQuery{}, PolicyBestEffort)
	require.NoError(t, err)
	assert.False(t, result.Complete())
	assert.Len(t, result.Records, 25)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, 1, result.Missing[0].Batch)
	assert.Equal(t, 10, result.Missing[0].Offset)

	for i, rec := range result.Records {
		assert.Equal(t, i, rec.Index)
	}
}

func TestFetchAll_RequiresPolicy(t *testing.T) {
	c := New(newPagedStore(1), quiet())
	_, err := c.FetchAll(context.Background(), domain.RecordQuery{}, Policy(0))
	assert.Error(t, err)
}

func TestFetchAll_SupersededFetchIsStale(t *testing.T) {
	store := &pagedStore{
		records:    append(makeRecords(15, "old"), makeRecords(7, "new")...),
		attempts:   map[int]int{},
		gate:       make(chan struct{}),
		gateBucket: "old",
		started:    make(chan struct{}),
	}
	defer close(store.gate)

	c := New(store, quiet(), WithPageSize(5), WithRetryBackoff(0))

	type outcome struct {
		result Result
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := c.FetchAll(context.Background(), domain.RecordQuery{}.WithEquals("bucket", "old"), PolicyBestEffort)
		first <- outcome{result, err}
	}()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first fetch never reached the store")
	}

	second, err := c.FetchAll(context.Background(), domain.RecordQuery{}.WithEquals("bucket", "new"), PolicyBestEffort)
	require.NoError(t, err)
	require.Len(t, second.Records, 7)
	for _, rec := range second.Records {
		assert.Equal(t, "new", rec.Attributes["bucket"])
	}

	select {
	case got := <-first:
		assert.ErrorIs(t, got.err, domain.ErrStaleResult)
		assert.Empty(t, got.result.Records)
		assert.Less(t, got.result.Generation, second.Generation)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded fetch did not return")
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	p, err = ParsePolicy("best-effort")
	require.NoError(t, err)
	assert.Equal(t, PolicyBestEffort, p)

	_, err = ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestSessions_ReuseCollectorPerKey(t *testing.T) {
	store := newPagedStore(1)
	sessions := NewSessions(store, time.Minute, quiet())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return clock }

	a := sessions.For("a")
	assert.Same(t, a, sessions.For("a"))
	assert.NotSame(t, a, sessions.For("b"))
	assert.NotSame(t, sessions.For(""), sessions.For(""))
	assert.Equal(t, 2, sessions.Len())

	clock = clock.Add(2 * time.Minute)
	sessions.For("c")
	assert.Equal(t, 1, sessions.Len())
}
