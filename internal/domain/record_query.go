package domain

// MaxPageSize is the row cap the record store enforces per page request.
const MaxPageSize = 1000

// SearchFields are the base fields matched by a free-text search term.
var SearchFields = []string{"name", "email", "company", "phone"}

// RangePredicate is an inclusive bound on a base field. Nil bounds are open.
type RangePredicate struct {
	Field string
	Min   any
	Max   any
}

// RecordQuery is the predicate the record store understands natively. All
// parts are AND-ed together; Search is an OR across SearchFields.
type RecordQuery struct {
	Equals map[string]any
	Search string
	Ranges []RangePredicate
}

// IsZero reports whether the query selects every record.
func (q RecordQuery) IsZero() bool {
	return len(q.Equals) == 0 && q.Search == "" && len(q.Ranges) == 0
}

// WithEquals returns a copy of q with an added equality predicate.
func (q RecordQuery) WithEquals(field string, value any) RecordQuery {
	equals := make(map[string]any, len(q.Equals)+1)
	for k, v := range q.Equals {
		equals[k] = v
	}
	equals[field] = value
	q.Equals = equals
	return q
}

// WithRange returns a copy of q with an added range predicate.
func (q RecordQuery) WithRange(pred RangePredicate) RecordQuery {
	ranges := make([]RangePredicate, 0, len(q.Ranges)+1)
	ranges = append(ranges, q.Ranges...)
	q.Ranges = append(ranges, pred)
	return q
}
