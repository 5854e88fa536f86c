package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Policy decides what a failed batch does to the whole fetch. Every call site
// picks one explicitly.
type Policy int

const (
	// PolicyStrict aborts the fetch on the first batch that still fails after
	// retries.
	PolicyStrict Policy = iota + 1
	// PolicyBestEffort skips failed batches and reports them in Result.Missing.
	PolicyBestEffort
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	case PolicyBestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy reads "strict" or "best-effort".
func ParsePolicy(raw string) (Policy, error) {
	switch raw {
	case "strict":
		return PolicyStrict, nil
	case "best-effort", "best_effort", "besteffort":
		return PolicyBestEffort, nil
	}
	return 0, fmt.Errorf("unknown fetch policy %q", raw)
}

// BatchFailure describes a skipped batch so callers know which rows are missing.
type BatchFailure struct {
	Batch    int   `json:"batch"`
	Offset   int   `json:"offset"`
	Limit    int   `json:"limit"`
	Attempts int   `json:"attempts"`
	Err      error `json:"-"`
}

// Result is a fully assembled record universe.
type Result struct {
	Records    []domain.Record
	Total      int
	Missing    []BatchFailure
	Generation uint64
}

// Complete reports whether every batch was delivered.
func (r Result) Complete() bool {
	return len(r.Missing) == 0
}

// Collector assembles the full record set behind a query from the row-capped
// store. A Collector tracks one logical consumer: starting a new FetchAll
// supersedes the one in flight.
type Collector struct {
	store       repository.RecordStore
	logger      *slog.Logger
	pageSize    int
	concurrency int
	maxRetries  int
	backoff     time.Duration
	limiter     *rate.Limiter
	order       domain.RecordSort

	generation atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a collector.
type Option func(*Collector)

// WithPageSize sets the batch size. Values above the store cap are clamped.
func WithPageSize(size int) Option {
	return func(c *Collector) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithConcurrency bounds the number of page requests in flight.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxRetries sets how many times a failed request is re-attempted.
func WithMaxRetries(n int) Option {
	return func(c *Collector) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts; attempt k waits k*d.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Collector) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithRequestsPerSecond throttles store requests. Zero disables throttling.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Collector) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithLogger sets the logger for skipped and stale batches.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = l
	}
}

// New creates a collector over store.
func New(store repository.RecordStore, opts ...Option) *Collector {
	c := &Collector{
		store:       store,
		pageSize:    domain.MaxPageSize,
		concurrency: 4,
		maxRetries:  2,
		backoff:     200 * time.Millisecond,
		order:       domain.DefaultRecordSort(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pageSize > domain.MaxPageSize {
		c.pageSize = domain.MaxPageSize
	}
	c.logger = logger.OrDefault(c.logger)
	return c
}

// PageSize returns the effective batch size.
func (c *Collector) PageSize() int {
	return c.pageSize
}

// Generation returns the generation of the most recent FetchAll.
func (c *Collector) Generation() uint64 {
	return c.generation.Load()
}

// FetchAll counts the records matching query, fetches ceil(count/pageSize)
// batches and concatenates them in batch order. Starting another FetchAll on
// the same collector cancels this one; a superseded call returns
// domain.ErrStaleResult and none of its batches are merged anywhere.
func (c *Collector) FetchAll(ctx context.Context, query domain.RecordQuery, policy Policy) (Result, error) {
	if policy != PolicyStrict && policy != PolicyBestEffort {
		return Result{}, fmt.Errorf("fetch policy is required")
	}

	gen, fetchCtx := c.begin(ctx)
	defer c.finish(gen)

	total, _, err := withRetryFn(c, fetchCtx, func(ctx context.Context) (int, error) {
		return c.store.Count(ctx, query)
	})
	if c.isStale(gen) {
		c.logger.Debug("stale fetch discarded after count", "generation", gen)
		return Result{Generation: gen}, domain.ErrStaleResult
	}
	if err != nil {
		return Result{Generation: gen}, fmt.Errorf("failed to count records: %w", err)
	}

	batches := (total + c.pageSize - 1) / c.pageSize
	slots := make([][]domain.Record, batches)
	failures := make([]*BatchFailure, batches)

	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(c.concurrency)
	for i := 0; i < batches; i++ {
		batch := i
		offset := batch * c.pageSize
		g.Go(func() error {
			records, attempts, fetchErr := withRetryFn(c, gctx, func(ctx context.Context) ([]domain.Record, error) {
				return c.store.FetchPage(ctx, query, offset, c.pageSize, c.order)
			})
			if c.isStale(gen) {
				c.logger.Debug("stale batch dropped", "generation", gen, "batch", batch, "offset", offset)
				return domain.ErrStaleResult
			}
			if fetchErr != nil {
				if policy == PolicyStrict {
					return domain.NewBatchFetchError(batch, offset, c.pageSize, attempts, fetchErr)
				}
				c.logger.Warn("batch skipped", "batch", batch, "offset", offset, "attempts", attempts, "error", fetchErr)
				failures[batch] = &BatchFailure{Batch: batch, Offset: offset, Limit: c.pageSize, Attempts: attempts, Err: fetchErr}
				return nil
			}
			slots[batch] = records
			return nil
		})
	}
	err = g.Wait()

	if c.isStale(gen) {
		c.logger.Debug("stale fetch discarded", "generation", gen, "batches", batches)
		return Result{Generation: gen}, domain.ErrStaleResult
	}
	if err != nil {
		return Result{Generation: gen}, err
	}

	result := Result{Total: total, Generation: gen}
	seen := make(map[uuid.UUID]struct{}, total)
	for _, slot := range slots {
		for _, rec := range slot {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			result.Records = append(result.Records, rec.WithIndex(len(result.Records)))
		}
	}
	for _, failure := range failures {
		if failure != nil {
			result.Missing = append(result.Missing, *failure)
		}
	}
	sort.Slice(result.Missing, func(i, j int) bool { return result.Missing[i].Batch < result.Missing[j].Batch })
	return result, nil
}

func (c *Collector) begin(ctx context.Context) (uint64, context.Context) {
	fetchCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	gen := c.generation.Add(1)
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	return gen, fetchCtx
}

func (c *Collector) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Collector) isStale(gen uint64) bool {
	return c.generation.Load() != gen
}

// withRetryFn runs fn up to 1+maxRetries times with linear backoff. It stops
// early once ctx is done.
func withRetryFn[T any](c *Collector, ctx context.Context, fn func(context.Context) (T, error)) (T, int, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && c.backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * c.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, attempts, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, attempts, errors.Join(lastErr, err)
			}
		}

		attempts++
		value, err := fn(ctx)
		if err == nil {
			return value, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return zero, attempts, lastErr
}
