package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
	"github.com/rpattn/segmentql/internal/segments"
)

type Handler struct {
	service  *Service
	segments *segments.Service
}

// NewHTTPHandler serves the preview, segment and list endpoints. Paths are
// matched relative to the mount point, so mount it behind http.StripPrefix.
func NewHTTPHandler(service *Service, segs *segments.Service) http.Handler {
	return &Handler{service: service, segments: segs}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path)
	if len(parts) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "preview":
		if len(parts) == 1 && r.Method == http.MethodPost {
			h.handlePreview(w, r)
			return
		}
	case "segments":
		h.routeSegments(w, r, parts[1:])
		return
	case "lists":
		h.routeLists(w, r, parts[1:])
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (h *Handler) routeSegments(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.handleListSegments(w, r)
	case len(parts) == 0 && r.Method == http.MethodPost:
		h.handleSaveSegment(w, r, uuid.Nil)
	case len(parts) == 0:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		id, err := uuid.Parse(parts[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid segment id: %v", err), http.StatusBadRequest)
			return
		}
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGetSegment(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodPut:
			h.handleSaveSegment(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodDelete:
			h.handleDeleteSegment(w, r, id)
		case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost:
			h.handleResolveSegment(w, r, id)
		case len(parts) == 2 && parts[1] == "recompute" && r.Method == http.MethodPost:
			h.handleRecomputeSegment(w, r, id)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

func (h *Handler) routeLists(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.handleListLists(w, r)
	case len(parts) == 0 && r.Method == http.MethodPost:
		h.handleSaveList(w, r)
	case len(parts) == 0:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		id, err := uuid.Parse(parts[0])
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid list id: %v", err), http.StatusBadRequest)
			return
		}
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGetList(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodPut:
			h.handleUpdateList(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodDelete:
			h.handleDeleteList(w, r, id)
		case len(parts) == 2 && parts[1] == "refresh" && r.Method == http.MethodPost:
			h.handleRefreshList(w, r, id)
		case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodGet:
			h.handleListMembers(w, r, id)
		case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodPost:
			h.handleMutateMembers(w, r, id, h.segments.AddMembers)
		case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodDelete:
			h.handleMutateMembers(w, r, id, h.segments.RemoveMembers)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

// strictCriteria reads client criteria and rejects keys the document does
// not define, so a foreign shape fails instead of decoding as no filter.
type strictCriteria struct {
	domain.FilterCriteria
}

func (c *strictCriteria) UnmarshalJSON(data []byte) error {
	criteria, err := domain.DecodeFilterCriteriaStrict(data)
	if err != nil {
		return fmt.Errorf("filterCriteria: %w", err)
	}
	c.FilterCriteria = criteria
	return nil
}

type previewPayload struct {
	Criteria   strictCriteria `json:"filterCriteria"`
	Session    string         `json:"session"`
	SampleSize int            `json:"sampleSize"`
}

type segmentPayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Criteria    strictCriteria `json:"filterCriteria"`
	AutoUpdate  bool           `json:"autoUpdate"`
	Tags        []string       `json:"tags"`
	Shared      bool           `json:"shared"`
}

type listPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        domain.ListType `json:"type"`
	Criteria    *strictCriteria `json:"filterCriteria"`
	Tags        []string        `json:"tags"`
	Shared      bool            `json:"shared"`
}

func (p listPayload) criteria() *domain.FilterCriteria {
	if p.Criteria == nil {
		return nil
	}
	criteria := p.Criteria.FilterCriteria
	return &criteria
}

type membersPayload struct {
	RecordIDs []string `json:"recordIds"`
}

type violationView struct {
	Group     int    `json:"group"`
	Condition int    `json:"condition"`
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Message   string `json:"message"`
}

type batchFailureView struct {
	Batch    int    `json:"batch"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type previewView struct {
	Size       int                `json:"size"`
	Scanned    int                `json:"scanned"`
	Complete   bool               `json:"complete"`
	Generation uint64             `json:"generation"`
	Sample     []domain.Record    `json:"sample"`
	Missing    []batchFailureView `json:"missing,omitempty"`
	Violations []violationView    `json:"violations,omitempty"`
}

type resolutionView struct {
	Segment  domain.Segment     `json:"segment"`
	Size     int                `json:"size"`
	Live     bool               `json:"live"`
	Complete bool               `json:"complete"`
	Records  []domain.Record    `json:"records"`
	Missing  []batchFailureView `json:"missing,omitempty"`
}

type refreshView struct {
	List     domain.List        `json:"list"`
	Matched  int                `json:"matched"`
	Added    int                `json:"added"`
	Complete bool               `json:"complete"`
	Missing  []batchFailureView `json:"missing,omitempty"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload previewPayload
	if err := decodePayload(r, &payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	policy, ok := policyFromQuery(w, r, collector.PolicyBestEffort)
	if !ok {
		return
	}
	session := payload.Session
	if session == "" {
		session = strings.TrimSpace(r.Header.Get("X-Preview-Session"))
	}

	preview, err := h.service.Preview(r.Context(), PreviewRequest{
		Criteria:   payload.Criteria.FilterCriteria,
		Session:    session,
		Policy:     policy,
		SampleSize: payload.SampleSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewView{
		Size:       preview.Size,
		Scanned:    preview.Scanned,
		Complete:   len(preview.Missing) == 0,
		Generation: preview.Generation,
		Sample:     nonNilRecords(preview.Sample),
		Missing:    toBatchFailureViews(preview.Missing),
		Violations: toViolationViews(preview.Violations),
	})
}

func (h *Handler) handleListSegments(w http.ResponseWriter, r *http.Request) {
	all, err := h.segments.ListSegments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) handleGetSegment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	segment, err := h.segments.GetSegment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, segment)
}

func (h *Handler) handleSaveSegment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload segmentPayload
	if err := decodePayload(r, &payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	policy, ok := policyFromQuery(w, r, collector.PolicyStrict)
	if !ok {
		return
	}

	segment, err := h.service.SaveSegment(r.Context(), SaveSegmentRequest{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		Criteria:    payload.Criteria.FilterCriteria,
		AutoUpdate:  payload.AutoUpdate,
		Tags:        payload.Tags,
		Shared:      payload.Shared,
		Policy:      policy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if id == uuid.Nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, segment)
}

func (h *Handler) handleDeleteSegment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.segments.DeleteSegment(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResolveSegment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	policy, ok := policyFromQuery(w, r, collector.PolicyStrict)
	if !ok {
		return
	}
	limit, ok := limitFromQuery(w, r)
	if !ok {
		return
	}
	resolution, err := h.service.ResolveSegment(r.Context(), id, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	records := resolution.Records
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	writeJSON(w, http.StatusOK, resolutionView{
		Segment:  resolution.Segment,
		Size:     resolution.Size,
		Live:     resolution.Live,
		Complete: len(resolution.Missing) == 0,
		Records:  nonNilRecords(records),
		Missing:  toBatchFailureViews(resolution.Missing),
	})
}

func (h *Handler) handleRecomputeSegment(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	policy, ok := policyFromQuery(w, r, collector.PolicyStrict)
	if !ok {
		return
	}
	segment, err := h.service.RecomputeSegment(r.Context(), id, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, segment)
}

func (h *Handler) handleListLists(w http.ResponseWriter, r *http.Request) {
	all, err := h.segments.ListLists(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) handleGetList(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	list, err := h.segments.GetList(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSaveList(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload listPayload
	if err := decodePayload(r, &payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	policy, ok := policyFromQuery(w, r, collector.PolicyStrict)
	if !ok {
		return
	}
	list, err := h.service.SaveList(r.Context(), SaveListRequest{
		Name:        payload.Name,
		Description: payload.Description,
		Type:        payload.Type,
		Criteria:    payload.criteria(),
		Tags:        payload.Tags,
		Shared:      payload.Shared,
		Policy:      policy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (h *Handler) handleUpdateList(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload listPayload
	if err := decodePayload(r, &payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	existing, err := h.segments.GetList(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.segments.UpdateList(r.Context(), existing.
		WithName(payload.Name).
		WithDescription(payload.Description).
		WithTags(payload.Tags).
		WithShared(payload.Shared))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteList(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.segments.DeleteList(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshList(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	policy, ok := policyFromQuery(w, r, collector.PolicyStrict)
	if !ok {
		return
	}
	result, err := h.service.RefreshList(r.Context(), id, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshView{
		List:     result.List,
		Matched:  result.Matched,
		Added:    result.Added,
		Complete: len(result.Missing) == 0,
		Missing:  toBatchFailureViews(result.Missing),
	})
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.URL.Query().Get("include") == "removed" {
		rows, err := h.segments.Members(r.Context(), id, true)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}
	records, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilRecords(records))
}

type membershipMutation func(ctx context.Context, listID uuid.UUID, recordIDs []uuid.UUID) (domain.List, error)

func (h *Handler) handleMutateMembers(w http.ResponseWriter, r *http.Request, id uuid.UUID, mutate membershipMutation) {
	defer r.Body.Close()
	var payload membersPayload
	if err := decodePayload(r, &payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	ids := make([]uuid.UUID, 0, len(payload.RecordIDs))
	for _, raw := range payload.RecordIDs {
		recordID, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid record id %q: %v", raw, err), http.StatusBadRequest)
			return
		}
		ids = append(ids, recordID)
	}
	list, err := mutate(r.Context(), id, ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func decodePayload(r *http.Request, payload any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(payload)
}

func pathParts(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func policyFromQuery(w http.ResponseWriter, r *http.Request, fallback collector.Policy) (collector.Policy, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("policy"))
	if raw == "" {
		return fallback, true
	}
	policy, err := collector.ParsePolicy(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return policy, true
}

func limitFromQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return parsed, true
}

func toViolationViews(violations []filter.Violation) []violationView {
	if len(violations) == 0 {
		return nil
	}
	out := make([]violationView, len(violations))
	for i, v := range violations {
		out[i] = violationView{
			Group:     v.Group,
			Condition: v.Condition,
			Field:     v.Field,
			Operator:  v.Operator,
			Message:   v.Message(),
		}
	}
	return out
}

func toBatchFailureViews(failures []collector.BatchFailure) []batchFailureView {
	if len(failures) == 0 {
		return nil
	}
	out := make([]batchFailureView, len(failures))
	for i, f := range failures {
		view := batchFailureView{Batch: f.Batch, Offset: f.Offset, Limit: f.Limit, Attempts: f.Attempts}
		if f.Err != nil {
			view.Error = f.Err.Error()
		}
		out[i] = view
	}
	return out
}

func nonNilRecords(records []domain.Record) []domain.Record {
	if records == nil {
		return []domain.Record{}
	}
	return records
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		validation *filter.ValidationError
		conflict   *domain.RepositoryConflictError
		batch      *domain.BatchFetchError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict),
		errors.Is(err, domain.ErrProtected),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrStaleResult):
		return http.StatusConflict
	case errors.Is(err, segments.ErrInvalidInput),
		errors.Is(err, ErrListHasNoCriteria):
		return http.StatusBadRequest
	case errors.As(err, &batch),
		errors.Is(err, ErrIncompleteUniverse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var validation *filter.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"violations": toViolationViews(validation.Violations),
		})
		return
	}

	var incomplete *IncompleteEvaluationError
	if errors.As(err, &incomplete) {
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"missing": toBatchFailureViews(incomplete.Missing),
		})
		return
	}

	var conflict *domain.RepositoryConflictError
	if errors.As(err, &conflict) {
		http.Error(w, conflict.Message, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
