package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListType classifies how a list's membership originated.
type ListType string

const (
	// ListTypeStatic lists are curated by hand only.
	ListTypeStatic ListType = "static"
	// ListTypeDynamic lists were seeded from a filter and may be curated on top.
	ListTypeDynamic ListType = "dynamic"
	// ListTypeSystem lists are managed by the platform and cannot be deleted.
	ListTypeSystem ListType = "system"
)

// Valid reports whether t is a known list type.
func (t ListType) Valid() bool {
	switch t {
	case ListTypeStatic, ListTypeDynamic, ListTypeSystem:
		return true
	}
	return false
}

// List is a named collection of records. Membership is explicit
// (ListMembership rows); Criteria, when present, records the filter the list
// was seeded from.
type List struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Type         ListType        `json:"type"`
	Criteria     *FilterCriteria `json:"filterCriteria,omitempty"`
	ContactCount int             `json:"contactCount"`
	Tags         []string        `json:"tags"`
	Shared       bool            `json:"shared"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewList creates a new list with immutable pattern
func NewList(name, description string, listType ListType, criteria *FilterCriteria) List {
	now := time.Now()
	if listType == "" {
		listType = ListTypeStatic
	}
	return List{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Type:        listType,
		Criteria:    copyCriteriaPtr(criteria),
		Tags:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsProtected reports whether the list may not be deleted.
func (l List) IsProtected() bool {
	return l.Type == ListTypeSystem
}

// WithName returns a new list with updated name
func (l List) WithName(name string) List {
	next := l.clone()
	next.Name = name
	next.UpdatedAt = time.Now()
	return next
}

// WithDescription returns a new list with updated description
func (l List) WithDescription(description string) List {
	next := l.clone()
	next.Description = description
	next.UpdatedAt = time.Now()
	return next
}

// WithTags returns a new list with updated tags
func (l List) WithTags(tags []string) List {
	next := l.clone()
	next.Tags = copyStrings(tags)
	next.UpdatedAt = time.Now()
	return next
}

// WithShared returns a new list with updated sharing flag
func (l List) WithShared(shared bool) List {
	next := l.clone()
	next.Shared = shared
	next.UpdatedAt = time.Now()
	return next
}

// WithContactCount returns a new list with a recomputed member count
func (l List) WithContactCount(count int) List {
	next := l.clone()
	next.ContactCount = count
	next.UpdatedAt = time.Now()
	return next
}

func (l List) clone() List {
	next := l
	next.Criteria = copyCriteriaPtr(l.Criteria)
	next.Tags = copyStrings(l.Tags)
	return next
}

func copyCriteriaPtr(c *FilterCriteria) *FilterCriteria {
	if c == nil {
		return nil
	}
	copied := copyCriteria(*c)
	return &copied
}

// MembershipStatus is the soft-delete state of a list membership.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipRemoved MembershipStatus = "removed"
)

// ListMembership relates a record to a list. Rows are never hard-deleted;
// removal flips the status and stamps RemovedAt.
type ListMembership struct {
	ListID    uuid.UUID        `json:"listId"`
	RecordID  uuid.UUID        `json:"recordId"`
	Status    MembershipStatus `json:"status"`
	AddedAt   time.Time        `json:"addedAt"`
	RemovedAt *time.Time       `json:"removedAt,omitempty"`
}

// IsActive reports whether the membership currently counts.
func (m ListMembership) IsActive() bool {
	return m.Status == MembershipActive
}

// Activate returns the membership re-added at the given time.
func (m ListMembership) Activate(at time.Time) ListMembership {
	m.Status = MembershipActive
	m.AddedAt = at
	m.RemovedAt = nil
	return m
}

// Remove returns the membership soft-removed at the given time.
func (m ListMembership) Remove(at time.Time) ListMembership {
	removed := at
	m.Status = MembershipRemoved
	m.RemovedAt = &removed
	return m
}
