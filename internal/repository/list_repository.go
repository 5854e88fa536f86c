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

const listColumns = `id, name, description, type, criteria, contact_count, tags, shared, created_at, updated_at`

type listRepository struct {
	pool *pgxpool.Pool
}

// NewListRepository wires a repository backed by pgxpool.
func NewListRepository(pool *pgxpool.Pool) ListRepository {
	return &listRepository{pool: pool}
}

func (r *listRepository) Create(ctx context.Context, list domain.List) (domain.List, error) {
	if r.pool == nil {
		return domain.List{}, fmt.Errorf("list repository not initialized")
	}
	if list.ID == uuid.Nil {
		list.ID = uuid.New()
	}
	criteria, err := serializeListCriteria(list.Criteria)
	if err != nil {
		return domain.List{}, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO lists (id, name, description, type, criteria, tags, shared)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+listColumns,
		list.ID, list.Name, list.Description, string(list.Type), criteria, nonNilTags(list.Tags), list.Shared,
	)
	created, err := scanList(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.List{}, fmt.Errorf("list %s: %w", list.ID, domain.ErrDuplicateKey)
		}
		return domain.List{}, err
	}
	return created, nil
}

func (r *listRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.List, error) {
	if r.pool == nil {
		return domain.List{}, fmt.Errorf("list repository not initialized")
	}
	list, err := scanList(r.pool.QueryRow(ctx, `SELECT `+listColumns+` FROM lists WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.List{}, fmt.Errorf("list %s: %w", id, domain.ErrNotFound)
	}
	return list, err
}

func (r *listRepository) List(ctx context.Context) ([]domain.List, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("list repository not initialized")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+listColumns+` FROM lists ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	defer rows.Close()

	lists := []domain.List{}
	for rows.Next() {
		list, scanErr := scanList(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		lists = append(lists, list)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate lists: %w", rowsErr)
	}
	return lists, nil
}

// Update persists descriptive fields. Type and contact_count are owned by the
// repository and are not overwritten.
func (r *listRepository) Update(ctx context.Context, list domain.List) (domain.List, error) {
	if r.pool == nil {
		return domain.List{}, fmt.Errorf("list repository not initialized")
	}
	criteria, err := serializeListCriteria(list.Criteria)
	if err != nil {
		return domain.List{}, err
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE lists
		 SET name = $2, description = $3, criteria = $4, tags = $5, shared = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+listColumns,
		list.ID, list.Name, list.Description, criteria, nonNilTags(list.Tags), list.Shared,
	)
	updated, err := scanList(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.List{}, fmt.Errorf("list %s: %w", list.ID, domain.ErrNotFound)
	}
	return updated, err
}

func (r *listRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("list repository not initialized")
	}
	var listType string
	err := r.pool.QueryRow(ctx,
		`WITH target AS (SELECT id, type FROM lists WHERE id = $1),
		      removed AS (DELETE FROM lists l USING target t WHERE l.id = t.id AND t.type <> 'system')
		 SELECT type FROM target`,
		id,
	).Scan(&listType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("list %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to delete list: %w", err)
	}
	if domain.ListType(listType) == domain.ListTypeSystem {
		return domain.NewRepositoryConflictError("list", id.String(), "system lists cannot be deleted", domain.ErrProtected)
	}
	return nil
}

// AddMembers activates memberships, re-activating soft-removed rows, and
// recomputes contact_count in the same transaction.
func (r *listRepository) AddMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error) {
	return r.mutateMembers(ctx, listID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO list_memberships (list_id, contact_id, status, added_at)
			 SELECT $1, member_id, 'active', $3 FROM unnest($2::uuid[]) AS member_id
			 ON CONFLICT (list_id, contact_id) DO UPDATE
			 SET status = 'active', added_at = EXCLUDED.added_at, removed_at = NULL
			 WHERE list_memberships.status <> 'active'`,
			listID, recordIDs, at,
		)
		if err != nil {
			return fmt.Errorf("failed to add list members: %w", err)
		}
		return nil
	})
}

// RemoveMembers soft-removes active memberships. Rows are never deleted.
func (r *listRepository) RemoveMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error) {
	return r.mutateMembers(ctx, listID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE list_memberships
			 SET status = 'removed', removed_at = $3
			 WHERE list_id = $1 AND contact_id = ANY($2::uuid[]) AND status = 'active'`,
			listID, recordIDs, at,
		)
		if err != nil {
			return fmt.Errorf("failed to remove list members: %w", err)
		}
		return nil
	})
}

func (r *listRepository) mutateMembers(ctx context.Context, listID uuid.UUID, mutate func(pgx.Tx) error) (domain.List, error) {
	if r.pool == nil {
		return domain.List{}, fmt.Errorf("list repository not initialized")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.List{}, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM lists WHERE id = $1 FOR UPDATE`, listID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.List{}, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
		}
		return domain.List{}, fmt.Errorf("failed to lock list: %w", err)
	}

	if err := mutate(tx); err != nil {
		return domain.List{}, err
	}

	list, err := scanList(tx.QueryRow(ctx,
		`UPDATE lists
		 SET contact_count = (SELECT COUNT(*) FROM list_memberships WHERE list_id = $1 AND status = 'active'),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+listColumns,
		listID,
	))
	if err != nil {
		return domain.List{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.List{}, fmt.Errorf("failed to commit membership change: %w", err)
	}
	return list, nil
}

func (r *listRepository) Members(ctx context.Context, listID uuid.UUID, includeRemoved bool) ([]domain.ListMembership, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("list repository not initialized")
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lists WHERE id = $1)`, listID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check list: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT list_id, contact_id, status, added_at, removed_at
		 FROM list_memberships
		 WHERE list_id = $1 AND ($2 OR status = 'active')
		 ORDER BY added_at, contact_id`,
		listID, includeRemoved,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []domain.ListMembership{}
	for rows.Next() {
		var (
			m         domain.ListMembership
			status    string
			removedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&m.ListID, &m.RecordID, &status, &m.AddedAt, &removedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan list member: %w", scanErr)
		}
		m.Status = domain.MembershipStatus(status)
		if removedAt.Valid {
			ts := removedAt.Time
			m.RemovedAt = &ts
		}
		members = append(members, m)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate list members: %w", rowsErr)
	}
	return members, nil
}

func scanList(row pgx.Row) (domain.List, error) {
	var (
		list      domain.List
		listType  string
		criteria  []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&list.ID,
		&list.Name,
		&list.Description,
		&listType,
		&criteria,
		&list.ContactCount,
		&list.Tags,
		&list.Shared,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return domain.List{}, err
		}
		return domain.List{}, fmt.Errorf("failed to scan list: %w", err)
	}

	list.Type = domain.ListType(listType)
	if len(criteria) > 0 {
		parsed, err := filter.Deserialize(criteria)
		if err != nil {
			return domain.List{}, fmt.Errorf("failed to parse criteria of list %s: %w", list.ID, err)
		}
		list.Criteria = &parsed
	}
	if list.Tags == nil {
		list.Tags = []string{}
	}
	if createdAt.Valid {
		list.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		list.UpdatedAt = updatedAt.Time
	}
	return list, nil
}

func serializeListCriteria(criteria *domain.FilterCriteria) ([]byte, error) {
	if criteria == nil {
		return nil, nil
	}
	data, err := filter.Serialize(*criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize list criteria: %w", err)
	}
	return data, nil
}
