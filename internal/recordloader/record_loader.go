package recordloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type ctxKey string

const recordLoaderKey ctxKey = "recordLoader"

type RecordLoader struct {
	Loader *dataloader.Loader
}

func NewRecordLoader(store repository.RecordStore) *RecordLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				}
				return results
			}
			ids[i] = id
		}

		records, err := store.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.Record, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec
		}

		// Results must line up with keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if rec, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: rec}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(5*time.Millisecond),
		dataloader.WithBatchCapacity(domain.MaxPageSize),
	)

	return &RecordLoader{Loader: loader}
}

// LoadMany resolves ids through the loader. Unknown ids are skipped; the
// remaining records keep the order of ids.
func (l *RecordLoader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	values, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(keys))()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load records: %w", err)
		}
	}

	out := make([]domain.Record, 0, len(values))
	for _, value := range values {
		if rec, ok := value.(domain.Record); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// WithLoader stores loader in ctx.
func WithLoader(ctx context.Context, loader *RecordLoader) context.Context {
	return context.WithValue(ctx, recordLoaderKey, loader)
}

// FromContext retrieves the request-scoped loader, or nil.
func FromContext(ctx context.Context) *RecordLoader {
	if l, ok := ctx.Value(recordLoaderKey).(*RecordLoader); ok {
		return l
	}
	return nil
}
