package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/repository/memory"
	"github.com/rpattn/segmentql/internal/schema/registry"
	"github.com/rpattn/segmentql/internal/segmentation"
	"github.com/rpattn/segmentql/internal/segments"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixture struct {
	records      []domain.Record
	segments     *segments.Service
	segmentation *segmentation.Service
	service      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := []domain.Record{
		domain.NewRecord(map[string]any{"name": "Ada", "status": "Active", "is_marketing": true}, map[string]any{"tier": "gold"}),
		domain.NewRecord(map[string]any{"name": "Linus", "status": "Inactive"}, nil),
		domain.NewRecord(map[string]any{"name": "Barbara", "status": "Active", "tags": []any{"vip", "beta"}}, nil),
	}
	store := memory.NewContactStore(records...)
	_, err := store.CreateCustomField(context.Background(), domain.NewCustomFieldDefinition("tier", "Tier", "string"))
	require.NoError(t, err)

	reg := registry.New(store, registry.WithLogger(logger.Nop()))
	require.NoError(t, reg.Refresh(context.Background()))

	segs := segments.NewService(memory.NewSegmentRepository(), memory.NewListRepository(), segments.WithLogger(logger.Nop()))
	seg := segmentation.NewService(reg, store, segs,
		segmentation.WithLogger(logger.Nop()),
		segmentation.WithCollectorOptions(collector.WithPageSize(2), collector.WithRetryBackoff(0)),
	)
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	svc := NewService(seg, segs, reg, WithLogger(logger.Nop()), WithClock(clock))
	return &fixture{records: records, segments: segs, segmentation: seg, service: svc}
}

func (f *fixture) activeSegment(t *testing.T) domain.Segment {
	t.Helper()
	expr := domain.NewExpression(domain.Group{ID: "g1", Conditions: []domain.Condition{
		{Field: "status", Operator: filter.OpIs, Value: "Active"},
	}})
	segment, err := f.segmentation.SaveSegment(context.Background(), segmentation.SaveSegmentRequest{
		Name:       "Active contacts",
		Criteria:   domain.FilterCriteria{Expression: expr},
		AutoUpdate: true,
		Policy:     collector.PolicyStrict,
	})
	require.NoError(t, err)
	return segment
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func TestExport_SegmentToCSV(t *testing.T) {
	f := newFixture(t)
	segment := f.activeSegment(t)

	var buf bytes.Buffer
	result, err := f.service.Export(context.Background(), &buf, Request{Source: SourceSegment, ID: segment.ID, Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, result.Complete)
	assert.Equal(t, "active-contacts-20260102-030405.csv", result.Filename)
	assert.Equal(t, "text/csv", result.MimeType)
	assert.Equal(t, int64(buf.Len()), result.Bytes)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, "id", header[0])
	nameCol := columnIndex(header, "name")
	tierCol := columnIndex(header, "custom_fields.tier")
	tagsCol := columnIndex(header, "tags")
	marketingCol := columnIndex(header, "is_marketing")
	require.NotEqual(t, -1, nameCol)
	require.NotEqual(t, -1, tierCol)

	byName := map[string][]string{}
	for _, row := range rows[1:] {
		byName[row[nameCol]] = row
	}
	require.Contains(t, byName, "Ada")
	require.Contains(t, byName, "Barbara")
	assert.Equal(t, f.records[0].ID.String(), byName["Ada"][0])
	assert.Equal(t, "gold", byName["Ada"][tierCol])
	assert.Equal(t, "true", byName["Ada"][marketingCol])
	assert.Equal(t, "", byName["Barbara"][tierCol])
	assert.Equal(t, `["vip","beta"]`, byName["Barbara"][tagsCol])
}

func TestExport_ListToXLSX(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	list, err := f.segments.CreateList(ctx, domain.NewList("Picked", "", domain.ListTypeStatic, nil))
	require.NoError(t, err)
	_, err = f.segments.AddMembers(ctx, list.ID, []uuid.UUID{f.records[1].ID})
	require.NoError(t, err)

	var buf bytes.Buffer
	result, err := f.service.Export(ctx, &buf, Request{Source: SourceList, ID: list.ID, Format: FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	assert.Equal(t, "picked-20260102-030405.xlsx", result.Filename)

	book, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Contacts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, f.records[1].ID.String(), rows[1][0])
	assert.Equal(t, "Linus", rows[1][columnIndex(rows[0], "name")])
}

func TestExport_UnknownSegment(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Export(context.Background(), &bytes.Buffer{}, Request{Source: SourceSegment, ID: uuid.New()})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	format, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestSanitizeFileComponent(t *testing.T) {
	assert.Equal(t, "q3-leads_eu", sanitizeFileComponent("  Q3 Leads_EU "))
	assert.Equal(t, "export", sanitizeFileComponent("***"))
	assert.Equal(t, "", sanitizeFileComponent("   "))
}

func TestHandler_Download(t *testing.T) {
	f := newFixture(t)
	segment := f.activeSegment(t)
	h := NewHTTPHandler(f.service)

	req := httptest.NewRequest(http.MethodGet, "/segments/"+segment.ID.String()+"?format=csv", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="active-contacts-20260102-030405.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "2", rec.Header().Get("X-Export-Rows"))

	for path, status := range map[string]int{
		"/segments/" + uuid.NewString():                    http.StatusNotFound,
		"/segments/nope":                                   http.StatusBadRequest,
		"/segments/" + segment.ID.String() + "?format=pdf": http.StatusBadRequest,
		"/reports/" + segment.ID.String():                  http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, status, rec.Code, path)
	}
}
