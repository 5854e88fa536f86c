package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
)

type Handler struct {
	registry *Registry
}

// NewHTTPHandler exposes the field catalog and custom field management:
//
//	GET    /             catalog with the operators of every field
//	GET    /definitions  raw custom field definitions
//	POST   /             define a custom field
//	POST   /refresh      reload custom fields from the store
//	PUT    /{key}        redefine or rename a custom field
//	DELETE /{key}        remove a custom field from the schema and all records
func NewHTTPHandler(registry *Registry) http.Handler {
	return &Handler{registry: registry}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "" && r.Method == http.MethodGet:
		h.handleCatalog(w, r)
	case path == "" && r.Method == http.MethodPost:
		h.handleDefine(w, r)
	case path == "definitions" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, h.registry.Definitions())
	case path == "refresh" && r.Method == http.MethodPost:
		h.handleRefresh(w, r)
	case path != "" && !strings.Contains(path, "/") && r.Method == http.MethodPut:
		h.handleRedefine(w, r, path)
	case path != "" && !strings.Contains(path, "/") && r.Method == http.MethodDelete:
		h.handleRemove(w, r, path)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type fieldView struct {
	Key          string              `json:"key"`
	Label        string              `json:"label"`
	SemanticType domain.SemanticType `json:"semanticType"`
	Origin       domain.FieldOrigin  `json:"origin"`
	Operators    []string            `json:"operators"`
}

type catalogView struct {
	Base        []fieldView `json:"base"`
	Custom      []fieldView `json:"custom"`
	Degraded    bool        `json:"degraded"`
	RefreshedAt time.Time   `json:"refreshedAt"`
}

type definitionPayload struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Type         string `json:"type"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"defaultValue"`
	Description  string `json:"description"`
}

func (p definitionPayload) toDefinition() domain.CustomFieldDefinition {
	def := domain.NewCustomFieldDefinition(p.Key, p.Label, p.Type)
	def.Required = p.Required
	def.DefaultValue = p.DefaultValue
	def.Description = p.Description
	return def
}

func (h *Handler) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toCatalogView(h.registry.ListAll()))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   err.Error(),
			"catalog": toCatalogView(h.registry.ListAll()),
		})
		return
	}
	writeJSON(w, http.StatusOK, toCatalogView(h.registry.ListAll()))
}

func (h *Handler) handleDefine(w http.ResponseWriter, r *http.Request) {
	var payload definitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	created, err := h.registry.Define(r.Context(), payload.toDefinition())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRedefine(w http.ResponseWriter, r *http.Request, key string) {
	var payload definitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Key) == "" {
		payload.Key = key
	}
	updated, err := h.registry.Redefine(r.Context(), key, payload.toDefinition())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request, key string) {
	removed, err := h.registry.Remove(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "recordsUpdated": removed})
}

func toCatalogView(catalog Catalog) catalogView {
	return catalogView{
		Base:        toFieldViews(catalog.Base),
		Custom:      toFieldViews(catalog.Custom),
		Degraded:    catalog.Degraded,
		RefreshedAt: catalog.RefreshedAt,
	}
}

func toFieldViews(descriptors []domain.FieldDescriptor) []fieldView {
	views := make([]fieldView, 0, len(descriptors))
	for _, d := range descriptors {
		views = append(views, fieldView{
			Key:          d.Key,
			Label:        d.Label,
			SemanticType: d.Type,
			Origin:       d.Origin,
			Operators:    filter.OperatorsFor(d.Type),
		})
	}
	return views
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidDefinition):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateKey):
		status = http.StatusConflict
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
