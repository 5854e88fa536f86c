package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/schema/registry"
	"github.com/rpattn/segmentql/internal/segmentation"
	"github.com/rpattn/segmentql/internal/segments"
)

// Format is the output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat reads a format name. Blank means CSV.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

// MimeType returns the content type of the format.
func (f Format) MimeType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Source names what is exported.
type Source string

const (
	SourceSegment Source = "segment"
	SourceList    Source = "list"
)

// FieldCatalog lists the fields that become export columns.
type FieldCatalog interface {
	ListAll() registry.Catalog
}

type Request struct {
	Source Source
	ID     uuid.UUID
	Format Format
	Policy collector.Policy
}

type Result struct {
	Rows     int
	Bytes    int64
	Filename string
	MimeType string
	// Complete is false when some record batches could not be fetched.
	Complete bool
}

type Service struct {
	segmentation *segmentation.Service
	segments     *segments.Service
	fields       FieldCatalog
	logger       *slog.Logger
	sheetName    string
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithSheetName(name string) Option {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.sheetName = strings.TrimSpace(name)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(seg *segmentation.Service, segs *segments.Service, fields FieldCatalog, opts ...Option) *Service {
	s := &Service{
		segmentation: seg,
		segments:     segs,
		fields:       fields,
		sheetName:    "Contacts",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger)
	return s
}

// Export writes the records of a segment or list to w.
func (s *Service) Export(ctx context.Context, w io.Writer, req Request) (Result, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.Policy == 0 {
		req.Policy = collector.PolicyStrict
	}

	records, name, complete, err := s.collect(ctx, req)
	if err != nil {
		return Result{}, err
	}
	columns := s.columns()

	result := Result{
		Rows:     len(records),
		Filename: s.fileName(name, req.Format),
		MimeType: req.Format.MimeType(),
		Complete: complete,
	}
	switch req.Format {
	case FormatCSV:
		result.Bytes, err = writeCSV(w, columns, records)
	case FormatXLSX:
		result.Bytes, err = writeXLSX(w, s.sheetName, columns, records)
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("export completed", "source", req.Source, "id", req.ID, "format", req.Format, "rows", result.Rows, "bytes", result.Bytes)
	return result, nil
}

func (s *Service) collect(ctx context.Context, req Request) ([]domain.Record, string, bool, error) {
	switch req.Source {
	case SourceSegment:
		resolution, err := s.segmentation.SegmentMembers(ctx, req.ID, req.Policy)
		if err != nil {
			return nil, "", false, fmt.Errorf("resolve segment: %w", err)
		}
		return resolution.Records, resolution.Segment.Name, len(resolution.Missing) == 0, nil
	case SourceList:
		list, err := s.segments.GetList(ctx, req.ID)
		if err != nil {
			return nil, "", false, err
		}
		records, err := s.segmentation.ListMembers(ctx, req.ID)
		if err != nil {
			return nil, "", false, fmt.Errorf("load list members: %w", err)
		}
		return records, list.Name, true, nil
	}
	return nil, "", false, fmt.Errorf("unsupported export source %q", req.Source)
}

type column struct {
	address string
	header  string
}

func (s *Service) columns() []column {
	catalog := s.fields.ListAll()
	columns := make([]column, 0, 1+len(catalog.Base)+len(catalog.Custom))
	columns = append(columns, column{address: "id", header: "id"})
	for _, field := range catalog.Base {
		columns = append(columns, column{address: field.Key, header: field.Key})
	}
	for _, field := range catalog.Custom {
		columns = append(columns, column{address: field.Key, header: field.Key})
	}
	return columns
}

func (s *Service) fileName(name string, format Format) string {
	base := sanitizeFileComponent(name)
	if base == "" {
		base = "contacts"
	}
	return fmt.Sprintf("%s-%s.%s", base, s.now().UTC().Format("20060102-150405"), format)
}

func writeCSV(w io.Writer, columns []column, records []domain.Record) (int64, error) {
	buffered := bufio.NewWriterSize(w, 1<<16)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.header
	}
	if err := csvWriter.Write(headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			value, _ := rec.Lookup(col.address)
			row[i] = formatValue(value)
		}
		if err := csvWriter.Write(row); err != nil {
			return counter.count, fmt.Errorf("write record row: %w", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return counter.count, fmt.Errorf("final flush: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return counter.count, fmt.Errorf("final buffered flush: %w", err)
	}
	return counter.count, nil
}

func writeXLSX(w io.Writer, sheet string, columns []column, records []domain.Record) (int64, error) {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	if sheet != defaultSheet {
		index, err := f.NewSheet(sheet)
		if err != nil {
			return 0, fmt.Errorf("create sheet: %w", err)
		}
		f.SetActiveSheet(index)
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return 0, fmt.Errorf("remove default sheet: %w", err)
		}
	}

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, fmt.Errorf("open sheet stream: %w", err)
	}

	headers := make([]interface{}, len(columns))
	for i, col := range columns {
		headers[i] = col.header
	}
	if err := stream.SetRow("A1", headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	for r, rec := range records {
		values := make([]interface{}, len(columns))
		for i, col := range columns {
			value, _ := rec.Lookup(col.address)
			values[i] = cellValue(value)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return 0, fmt.Errorf("resolve cell: %w", err)
		}
		if err := stream.SetRow(cell, values); err != nil {
			return 0, fmt.Errorf("write record row: %w", err)
		}
	}
	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet stream: %w", err)
	}

	n, err := f.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

// cellValue keeps numbers and booleans typed in the workbook.
func cellValue(value any) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case bool, int, int32, int64, float32, float64:
		return v
	case decimal.Decimal:
		return v.InexactFloat64()
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return formatValue(value)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any, []string:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	default:
		return fmt.Sprintf("%v", v)
	}
}
