package domain

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// RecordSort captures ordering preferences for record pages. The store always
// appends the record id as a tiebreaker so offsets stay stable.
type RecordSort struct {
	Field     string
	Direction SortDirection
}

// DefaultRecordSort orders by creation time, oldest first.
func DefaultRecordSort() RecordSort {
	return RecordSort{Field: "created_at", Direction: SortDirectionAsc}
}
