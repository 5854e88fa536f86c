package domain

import (
	"time"

	"github.com/google/uuid"
)

// Segment is a named, persisted filter definition. Criteria are the durable
// source of truth; EstimatedSize is a cached, possibly stale count.
type Segment struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Criteria      FilterCriteria `json:"filterCriteria"`
	EstimatedSize int            `json:"estimatedSize"`
	// AutoUpdate segments are re-evaluated against the current record universe
	// every time they are consulted. Others are point-in-time snapshots.
	AutoUpdate bool       `json:"autoUpdate"`
	Tags       []string   `json:"tags"`
	Shared     bool       `json:"shared"`
	Protected  bool       `json:"protected"`
	UsageCount int        `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// NewSegment creates a new segment with immutable pattern
func NewSegment(name, description string, criteria FilterCriteria, estimatedSize int, autoUpdate bool) Segment {
	now := time.Now()
	return Segment{
		ID:            uuid.New(),
		Name:          name,
		Description:   description,
		Criteria:      copyCriteria(criteria),
		EstimatedSize: estimatedSize,
		AutoUpdate:    autoUpdate,
		Tags:          []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// WithName returns a new segment with updated name
func (s Segment) WithName(name string) Segment {
	next := s.clone()
	next.Name = name
	next.UpdatedAt = time.Now()
	return next
}

// WithDescription returns a new segment with updated description
func (s Segment) WithDescription(description string) Segment {
	next := s.clone()
	next.Description = description
	next.UpdatedAt = time.Now()
	return next
}

// WithCriteria returns a new segment with an updated filter definition and
// the size measured for it.
func (s Segment) WithCriteria(criteria FilterCriteria, estimatedSize int) Segment {
	next := s.clone()
	next.Criteria = copyCriteria(criteria)
	next.EstimatedSize = estimatedSize
	next.UpdatedAt = time.Now()
	return next
}

// WithEstimatedSize returns a new segment with a refreshed cached size
func (s Segment) WithEstimatedSize(size int) Segment {
	next := s.clone()
	next.EstimatedSize = size
	next.UpdatedAt = time.Now()
	return next
}

// WithAutoUpdate returns a new segment with the live flag updated
func (s Segment) WithAutoUpdate(autoUpdate bool) Segment {
	next := s.clone()
	next.AutoUpdate = autoUpdate
	next.UpdatedAt = time.Now()
	return next
}

// WithTags returns a new segment with updated tags
func (s Segment) WithTags(tags []string) Segment {
	next := s.clone()
	next.Tags = copyStrings(tags)
	next.UpdatedAt = time.Now()
	return next
}

// WithShared returns a new segment with updated sharing flag
func (s Segment) WithShared(shared bool) Segment {
	next := s.clone()
	next.Shared = shared
	next.UpdatedAt = time.Now()
	return next
}

// MarkUsed returns a new segment with its usage bookkeeping advanced.
func (s Segment) MarkUsed(at time.Time) Segment {
	next := s.clone()
	next.UsageCount++
	used := at
	next.LastUsedAt = &used
	return next
}

func (s Segment) clone() Segment {
	next := s
	next.Criteria = copyCriteria(s.Criteria)
	next.Tags = copyStrings(s.Tags)
	if s.LastUsedAt != nil {
		used := *s.LastUsedAt
		next.LastUsedAt = &used
	}
	return next
}

func copyCriteria(c FilterCriteria) FilterCriteria {
	return FilterCriteria{
		Expression:  Expression{Groups: copyGroups(c.Expression.Groups)},
		ProfileType: c.ProfileType,
		SearchTerm:  c.SearchTerm,
	}
}

func copyStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
