package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
)

type columnKind int

const (
	kindText columnKind = iota
	kindNumeric
	kindBool
	kindTime
	kindJSON
)

type contactColumn struct {
	name string
	kind columnKind
}

// contactColumns are the typed base columns of the contacts table. created_at
// and updated_at are read separately into the record timestamps.
var contactColumns = []contactColumn{
	{"name", kindText},
	{"email", kindText},
	{"phone", kindText},
	{"company", kindText},
	{"job_title", kindText},
	{"status", kindText},
	{"country", kindText},
	{"city", kindText},
	{"profile_type", kindText},
	{"lead_score", kindNumeric},
	{"is_marketing", kindBool},
	{"tags", kindJSON},
	{"metadata", kindJSON},
	{"last_contacted_at", kindTime},
}

var contactColumnIndex = func() map[string]contactColumn {
	index := make(map[string]contactColumn, len(contactColumns)+2)
	for _, col := range contactColumns {
		index[col.name] = col
	}
	index["created_at"] = contactColumn{"created_at", kindTime}
	index["updated_at"] = contactColumn{"updated_at", kindTime}
	return index
}()

func contactSelectList() string {
	names := make([]string, 0, len(contactColumns)+4)
	names = append(names, "id")
	for _, col := range contactColumns {
		names = append(names, col.name)
	}
	names = append(names, "custom_fields", "created_at", "updated_at")
	return strings.Join(names, ", ")
}

type paramBuilder struct {
	params []any
	n      int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

// buildContactWhere renders a RecordQuery as a WHERE clause. It returns an
// empty string when the query selects everything.
func buildContactWhere(query domain.RecordQuery, pb *paramBuilder) (string, error) {
	var where []string

	fields := make([]string, 0, len(query.Equals))
	for field := range query.Equals {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		clause, err := equalsClause(field, query.Equals[field], pb)
		if err != nil {
			return "", err
		}
		where = append(where, clause)
	}

	if term := strings.ToLower(strings.TrimSpace(query.Search)); term != "" {
		pattern := pb.Add("%" + escapeLike(term) + "%")
		parts := make([]string, 0, len(domain.SearchFields))
		for _, field := range domain.SearchFields {
			parts = append(parts, fmt.Sprintf("lower(%s) LIKE %s", field, pattern))
		}
		where = append(where, "("+strings.Join(parts, " OR ")+")")
	}

	for _, pred := range query.Ranges {
		clauses, err := rangeClauses(pred, pb)
		if err != nil {
			return "", err
		}
		where = append(where, clauses...)
	}

	if len(where) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(where, " AND "), nil
}

func equalsClause(field string, value any, pb *paramBuilder) (string, error) {
	if key, ok := domain.SplitCustomFieldAddress(field); ok {
		return fmt.Sprintf("custom_fields ->> %s = %s", pb.Add(key), pb.Add(fmt.Sprint(value))), nil
	}
	col, ok := contactColumnIndex[field]
	if !ok {
		return "", fmt.Errorf("unsupported query field %q", field)
	}
	if b, isBool := value.(bool); isBool && col.kind == kindBool {
		return fmt.Sprintf("%s = %s", col.name, pb.Add(b)), nil
	}
	return fmt.Sprintf("%s::text = %s", col.name, pb.Add(fmt.Sprint(value))), nil
}

func rangeClauses(pred domain.RangePredicate, pb *paramBuilder) ([]string, error) {
	col, ok := contactColumnIndex[pred.Field]
	if !ok || (col.kind != kindNumeric && col.kind != kindTime) {
		return nil, fmt.Errorf("unsupported range field %q", pred.Field)
	}

	var clauses []string
	for _, bound := range []struct {
		value any
		op    string
	}{{pred.Min, ">="}, {pred.Max, "<="}} {
		if bound.value == nil {
			continue
		}
		var param any
		if col.kind == kindTime {
			ts, ok := bound.value.(time.Time)
			if !ok {
				return nil, fmt.Errorf("range bound on %s must be a timestamp", col.name)
			}
			param = ts
		} else {
			param = filter.CoerceNumber(bound.value).String()
		}
		cast := ""
		if col.kind == kindNumeric {
			cast = "::numeric"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s%s", col.name, bound.op, pb.Add(param), cast))
	}
	return clauses, nil
}

func orderClause(order domain.RecordSort) string {
	if order.Field == "" {
		order = domain.DefaultRecordSort()
	}
	col, ok := contactColumnIndex[order.Field]
	if !ok {
		col = contactColumnIndex["created_at"]
	}
	dir := "ASC"
	if order.Direction == domain.SortDirectionDesc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST, id ASC", col.name, dir)
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
