package export

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/segmentation"
)

type Handler struct {
	service *Service
}

// NewHTTPHandler serves GET /segments/{id} and GET /lists/{id} relative to
// its mount point. The format and policy query parameters select the file
// format and the batch policy.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var source Source
	switch parts[0] {
	case "segments":
		source = SourceSegment
	case "lists":
		source = SourceList
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.handleDownload(w, r, source, parts[1])
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, source Source, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s identifier: %v", source, err), http.StatusBadRequest)
		return
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	policy := collector.PolicyStrict
	if raw := strings.TrimSpace(r.URL.Query().Get("policy")); raw != "" {
		policy, err = collector.ParsePolicy(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var body bytes.Buffer
	result, err := h.service.Export(r.Context(), &body, Request{
		Source: source,
		ID:     id,
		Format: format,
		Policy: policy,
	})
	if err != nil {
		http.Error(w, err.Error(), segmentation.StatusFor(err))
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(result.Rows))
	if !result.Complete {
		w.Header().Set("X-Export-Partial", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}
