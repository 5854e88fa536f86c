package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// ContactRepository is the Postgres record store and custom field store.
// Base attributes live in typed columns; custom attributes live in the
// custom_fields JSONB column.
type ContactRepository struct {
	pool        *pgxpool.Pool
	maxPageSize int
}

var (
	_ RecordStore      = (*ContactRepository)(nil)
	_ CustomFieldStore = (*ContactRepository)(nil)
)

// NewContactRepository wires a repository backed by pgxpool.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool, maxPageSize: domain.MaxPageSize}
}

func (r *ContactRepository) Count(ctx context.Context, query domain.RecordQuery) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("contact repository not initialized")
	}
	pb := &paramBuilder{}
	where, err := buildContactWhere(query, pb)
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM contacts "+where, pb.params...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return count, nil
}

func (r *ContactRepository) FetchPage(ctx context.Context, query domain.RecordQuery, offset, limit int, order domain.RecordSort) ([]domain.Record, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("contact repository not initialized")
	}
	if limit <= 0 || limit > r.maxPageSize {
		limit = r.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	pb := &paramBuilder{}
	where, err := buildContactWhere(query, pb)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM contacts %s %s LIMIT %s OFFSET %s",
		contactSelectList(), where, orderClause(order), pb.Add(limit), pb.Add(offset))

	rows, err := r.pool.Query(ctx, sql, pb.params...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts page: %w", err)
	}
	return collectRecords(rows)
}

// GetByIDs returns the contacts with the given ids. Unknown ids are skipped.
func (r *ContactRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("contact repository not initialized")
	}
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM contacts WHERE id = ANY($1)", contactSelectList()),
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	return collectRecords(rows)
}

// Insert upserts records. It is used to load seed data.
func (r *ContactRepository) Insert(ctx context.Context, records ...domain.Record) error {
	if r.pool == nil {
		return fmt.Errorf("contact repository not initialized")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	names := make([]string, 0, len(contactColumns))
	updates := make([]string, 0, len(contactColumns)+1)
	for _, col := range contactColumns {
		names = append(names, col.name)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.name, col.name))
	}
	updates = append(updates, "custom_fields = EXCLUDED.custom_fields", "updated_at = EXCLUDED.updated_at")

	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		pb := &paramBuilder{}
		placeholders := []string{pb.Add(rec.ID)}
		for _, col := range contactColumns {
			value, err := columnValue(col, rec.Attributes[col.name])
			if err != nil {
				return fmt.Errorf("failed to encode %s for contact %s: %w", col.name, rec.ID, err)
			}
			placeholders = append(placeholders, pb.Add(value))
		}
		custom, err := rec.GetCustomFieldsAsJSONB()
		if err != nil {
			return fmt.Errorf("failed to encode custom fields for contact %s: %w", rec.ID, err)
		}
		createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		placeholders = append(placeholders, pb.Add(custom), pb.Add(createdAt), pb.Add(updatedAt))

		sql := fmt.Sprintf(
			`INSERT INTO contacts (id, %s, custom_fields, created_at, updated_at)
			 VALUES (%s)
			 ON CONFLICT (id) DO UPDATE SET %s`,
			strings.Join(names, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(updates, ", "),
		)
		if _, err := tx.Exec(ctx, sql, pb.params...); err != nil {
			return fmt.Errorf("failed to insert contact %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit contacts: %w", err)
	}
	return nil
}

func (r *ContactRepository) ListCustomFields(ctx context.Context) ([]domain.CustomFieldDefinition, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("contact repository not initialized")
	}
	rows, err := r.pool.Query(ctx,
		`SELECT key, label, type, required, default_value, description, created_at, updated_at
		 FROM custom_field_definitions
		 ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	defer rows.Close()

	defs := []domain.CustomFieldDefinition{}
	for rows.Next() {
		def, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		defs = append(defs, def)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate custom fields: %w", rowsErr)
	}
	return defs, nil
}

func (r *ContactRepository) CreateCustomField(ctx context.Context, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if r.pool == nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("contact repository not initialized")
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO custom_field_definitions (key, label, type, required, default_value, description)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING key, label, type, required, default_value, description, created_at, updated_at`,
		def.Key, def.Label, def.Type, def.Required, def.DefaultValue, def.Description,
	)
	created, err := scanDefinition(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", def.Key, domain.ErrDuplicateKey)
		}
		return domain.CustomFieldDefinition{}, err
	}
	return created, nil
}

// UpdateCustomField replaces the definition under oldKey. A key change moves
// every record's value to the new key in the same transaction.
func (r *ContactRepository) UpdateCustomField(ctx context.Context, oldKey string, def domain.CustomFieldDefinition) (domain.CustomFieldDefinition, error) {
	if r.pool == nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("contact repository not initialized")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE custom_field_definitions
		 SET key = $2, label = $3, type = $4, required = $5, default_value = $6, description = $7, updated_at = NOW()
		 WHERE key = $1
		 RETURNING key, label, type, required, default_value, description, created_at, updated_at`,
		oldKey, def.Key, def.Label, def.Type, def.Required, def.DefaultValue, def.Description,
	)
	updated, err := scanDefinition(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", oldKey, domain.ErrNotFound)
		case isUniqueViolation(err):
			return domain.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", def.Key, domain.ErrDuplicateKey)
		}
		return domain.CustomFieldDefinition{}, err
	}

	if updated.Key != oldKey {
		if _, err := tx.Exec(ctx,
			`UPDATE contacts
			 SET custom_fields = (custom_fields - $1::text) || jsonb_build_object($2::text, custom_fields -> $1::text),
			     updated_at = NOW()
			 WHERE custom_fields ? $1::text`,
			oldKey, updated.Key,
		); err != nil {
			return domain.CustomFieldDefinition{}, fmt.Errorf("failed to rename custom field values: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CustomFieldDefinition{}, fmt.Errorf("failed to commit custom field update: %w", err)
	}
	return updated, nil
}

// DeleteCustomField removes the definition and strips the key from every
// contact in one transaction.
func (r *ContactRepository) DeleteCustomField(ctx context.Context, key string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("contact repository not initialized")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM custom_field_definitions WHERE key = $1`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete custom field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("custom field %s: %w", key, domain.ErrNotFound)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE contacts
		 SET custom_fields = custom_fields - $1::text, updated_at = NOW()
		 WHERE custom_fields ? $1::text`,
		key,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to strip custom field values: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit custom field delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDefinition(row pgx.Row) (domain.CustomFieldDefinition, error) {
	var (
		def          domain.CustomFieldDefinition
		defaultValue pgtype.Text
		description  pgtype.Text
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&def.Key, &def.Label, &def.Type, &def.Required, &defaultValue, &description, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return domain.CustomFieldDefinition{}, err
		}
		return domain.CustomFieldDefinition{}, fmt.Errorf("failed to scan custom field: %w", err)
	}
	def.DefaultValue = defaultValue.String
	def.Description = description.String
	if createdAt.Valid {
		def.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		def.UpdatedAt = updatedAt.Time
	}
	return def, nil
}

func collectRecords(rows pgx.Rows) ([]domain.Record, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contacts: %w", err)
	}
	records := make([]domain.Record, 0, len(maps))
	for _, row := range maps {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromRow(row map[string]any) (domain.Record, error) {
	rec := domain.Record{
		Attributes:   map[string]any{},
		CustomFields: map[string]any{},
	}

	switch id := row["id"].(type) {
	case [16]byte:
		rec.ID = uuid.UUID(id)
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return domain.Record{}, fmt.Errorf("invalid contact id %q: %w", id, err)
		}
		rec.ID = parsed
	default:
		return domain.Record{}, fmt.Errorf("unexpected contact id type %T", row["id"])
	}

	for _, col := range contactColumns {
		value := row[col.name]
		if value == nil {
			continue
		}
		if numeric, ok := value.(pgtype.Numeric); ok {
			if !numeric.Valid || numeric.NaN {
				continue
			}
			raw, err := numeric.Value()
			if err != nil {
				return domain.Record{}, fmt.Errorf("failed to decode %s: %w", col.name, err)
			}
			d, err := decimal.NewFromString(fmt.Sprint(raw))
			if err != nil {
				return domain.Record{}, fmt.Errorf("failed to decode %s: %w", col.name, err)
			}
			value = d
		}
		rec.Attributes[col.name] = value
	}

	if custom, ok := row["custom_fields"].(map[string]any); ok {
		rec.CustomFields = custom
	}
	if ts, ok := row["created_at"].(time.Time); ok {
		rec.CreatedAt = ts
	}
	if ts, ok := row["updated_at"].(time.Time); ok {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

// columnValue converts an attribute to the Go value stored in its column.
func columnValue(col contactColumn, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch col.kind {
	case kindNumeric:
		return filter.CoerceNumber(value).String(), nil
	case kindBool:
		return filter.CoerceBool(value), nil
	case kindTime:
		ts, ok := filter.CoerceTime(value)
		if !ok {
			return nil, fmt.Errorf("%v is not a timestamp", value)
		}
		return ts, nil
	case kindJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return fmt.Sprint(value), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
