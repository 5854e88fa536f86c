package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const segmentColumns = `id, name, description, criteria, estimated_size, auto_update, tags, shared, protected, usage_count, last_used_at, created_at, updated_at`

type segmentRepository struct {
	pool *pgxpool.Pool
}

// NewSegmentRepository wires a repository backed by pgxpool. Criteria are
// stored as JSONB in the structured serialized form.
func NewSegmentRepository(pool *pgxpool.Pool) SegmentRepository {
	return &segmentRepository{pool: pool}
}

func (r *segmentRepository) Create(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	if r.pool == nil {
		return domain.Segment{}, fmt.Errorf("segment repository not initialized")
	}
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	criteria, err := filter.Serialize(segment.Criteria)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to serialize segment criteria: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO segments (id, name, description, criteria, estimated_size, auto_update, tags, shared, protected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+segmentColumns,
		segment.ID, segment.Name, segment.Description, criteria, segment.EstimatedSize,
		segment.AutoUpdate, nonNilTags(segment.Tags), segment.Shared, segment.Protected,
	)
	created, err := scanSegment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Segment{}, fmt.Errorf("segment %s: %w", segment.ID, domain.ErrDuplicateKey)
		}
		return domain.Segment{}, err
	}
	return created, nil
}

func (r *segmentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Segment, error) {
	if r.pool == nil {
		return domain.Segment{}, fmt.Errorf("segment repository not initialized")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id)
	segment, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return segment, err
}

func (r *segmentRepository) List(ctx context.Context) ([]domain.Segment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("segment repository not initialized")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+segmentColumns+` FROM segments ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := []domain.Segment{}
	for rows.Next() {
		segment, scanErr := scanSegment(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		segments = append(segments, segment)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", rowsErr)
	}
	return segments, nil
}

// Update persists the descriptive fields and criteria. The protected flag,
// usage bookkeeping and creation time are owned by the repository.
func (r *segmentRepository) Update(ctx context.Context, segment domain.Segment) (domain.Segment, error) {
	if r.pool == nil {
		return domain.Segment{}, fmt.Errorf("segment repository not initialized")
	}
	criteria, err := filter.Serialize(segment.Criteria)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to serialize segment criteria: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE segments
		 SET name = $2, description = $3, criteria = $4, estimated_size = $5, auto_update = $6,
		     tags = $7, shared = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+segmentColumns,
		segment.ID, segment.Name, segment.Description, criteria, segment.EstimatedSize, segment.AutoUpdate,
		nonNilTags(segment.Tags), segment.Shared,
	)
	updated, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", segment.ID, domain.ErrNotFound)
	}
	return updated, err
}

func (r *segmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("segment repository not initialized")
	}
	var protected bool
	err := r.pool.QueryRow(ctx,
		`WITH target AS (SELECT id, protected FROM segments WHERE id = $1),
		      removed AS (DELETE FROM segments s USING target t WHERE s.id = t.id AND NOT t.protected)
		 SELECT protected FROM target`,
		id,
	).Scan(&protected)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	if protected {
		return domain.NewRepositoryConflictError("segment", id.String(), "protected segments cannot be deleted", domain.ErrProtected)
	}
	return nil
}

func (r *segmentRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (domain.Segment, error) {
	if r.pool == nil {
		return domain.Segment{}, fmt.Errorf("segment repository not initialized")
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE segments
		 SET usage_count = usage_count + 1, last_used_at = $2
		 WHERE id = $1
		 RETURNING `+segmentColumns,
		id, at,
	)
	segment, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return segment, err
}

func scanSegment(row pgx.Row) (domain.Segment, error) {
	var (
		segment    domain.Segment
		criteria   []byte
		lastUsedAt pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&segment.ID,
		&segment.Name,
		&segment.Description,
		&criteria,
		&segment.EstimatedSize,
		&segment.AutoUpdate,
		&segment.Tags,
		&segment.Shared,
		&segment.Protected,
		&segment.UsageCount,
		&lastUsedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return domain.Segment{}, err
		}
		return domain.Segment{}, fmt.Errorf("failed to scan segment: %w", err)
	}

	parsed, err := filter.Deserialize(criteria)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("failed to parse criteria of segment %s: %w", segment.ID, err)
	}
	segment.Criteria = parsed
	if segment.Tags == nil {
		segment.Tags = []string{}
	}
	if lastUsedAt.Valid {
		used := lastUsedAt.Time
		segment.LastUsedAt = &used
	}
	if createdAt.Valid {
		segment.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		segment.UpdatedAt = updatedAt.Time
	}
	return segment, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
