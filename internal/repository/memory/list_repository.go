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

// ListRepository keeps lists and their membership rows in memory.
type ListRepository struct {
	mu      sync.RWMutex
	lists   map[uuid.UUID]domain.List
	members map[uuid.UUID][]domain.ListMembership
}

// NewListRepository creates an empty repository.
func NewListRepository() *ListRepository {
	return &ListRepository{
		lists:   map[uuid.UUID]domain.List{},
		members: map[uuid.UUID][]domain.ListMembership{},
	}
}

func (r *ListRepository) Create(ctx context.Context, list domain.List) (domain.List, error) {
	if err := ctx.Err(); err != nil {
		return domain.List{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if list.ID == uuid.Nil {
		list.ID = uuid.New()
	}
	if _, exists := r.lists[list.ID]; exists {
		return domain.List{}, fmt.Errorf("list %s: %w", list.ID, domain.ErrDuplicateKey)
	}
	list.ContactCount = 0
	r.lists[list.ID] = list
	return list, nil
}

func (r *ListRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.List, error) {
	if err := ctx.Err(); err != nil {
		return domain.List{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.lists[id]
	if !ok {
		return domain.List{}, fmt.Errorf("list %s: %w", id, domain.ErrNotFound)
	}
	return list, nil
}

func (r *ListRepository) List(ctx context.Context) ([]domain.List, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.List, 0, len(r.lists))
	for _, list := range r.lists {
		out = append(out, list)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update persists descriptive fields. Type and ContactCount are owned by the
// repository and are not overwritten.
func (r *ListRepository) Update(ctx context.Context, list domain.List) (domain.List, error) {
	if err := ctx.Err(); err != nil {
		return domain.List{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.lists[list.ID]
	if !ok {
		return domain.List{}, fmt.Errorf("list %s: %w", list.ID, domain.ErrNotFound)
	}
	list.Type = existing.Type
	list.ContactCount = existing.ContactCount
	list.CreatedAt = existing.CreatedAt
	r.lists[list.ID] = list
	return list, nil
}

func (r *ListRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.lists[id]
	if !ok {
		return fmt.Errorf("list %s: %w", id, domain.ErrNotFound)
	}
	if list.IsProtected() {
		return domain.NewRepositoryConflictError("list", id.String(), "system lists cannot be deleted", domain.ErrProtected)
	}
	delete(r.lists, id)
	delete(r.members, id)
	return nil
}

func (r *ListRepository) AddMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error) {
	return r.mutateMembers(ctx, listID, recordIDs, func(rows []domain.ListMembership, index map[uuid.UUID]int, id uuid.UUID) []domain.ListMembership {
		if i, ok := index[id]; ok {
			if !rows[i].IsActive() {
				rows[i] = rows[i].Activate(at)
			}
			return rows
		}
		index[id] = len(rows)
		return append(rows, domain.ListMembership{
			ListID:   listID,
			RecordID: id,
			Status:   domain.MembershipActive,
			AddedAt:  at,
		})
	})
}

func (r *ListRepository) RemoveMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, at time.Time) (domain.List, error) {
	return r.mutateMembers(ctx, listID, recordIDs, func(rows []domain.ListMembership, index map[uuid.UUID]int, id uuid.UUID) []domain.ListMembership {
		if i, ok := index[id]; ok && rows[i].IsActive() {
			rows[i] = rows[i].Remove(at)
		}
		return rows
	})
}

type membershipMutation func(rows []domain.ListMembership, index map[uuid.UUID]int, id uuid.UUID) []domain.ListMembership

func (r *ListRepository) mutateMembers(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID, mutate membershipMutation) (domain.List, error) {
	if err := ctx.Err(); err != nil {
		return domain.List{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.lists[listID]
	if !ok {
		return domain.List{}, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}

	rows := r.members[listID]
	index := make(map[uuid.UUID]int, len(rows))
	for i, row := range rows {
		index[row.RecordID] = i
	}
	for _, id := range recordIDs {
		rows = mutate(rows, index, id)
	}
	r.members[listID] = rows

	active := 0
	for _, row := range rows {
		if row.IsActive() {
			active++
		}
	}
	list = list.WithContactCount(active)
	r.lists[listID] = list
	return list, nil
}

func (r *ListRepository) Members(ctx context.Context, listID uuid.UUID, includeRemoved bool) ([]domain.ListMembership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.lists[listID]; !ok {
		return nil, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	out := make([]domain.ListMembership, 0, len(r.members[listID]))
	for _, row := range r.members[listID] {
		if includeRemoved || row.IsActive() {
			out = append(out, row)
		}
	}
	return out, nil
}
