package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CatalogCarriesOperators(t *testing.T) {
	store := newStore(t, domain.NewCustomFieldDefinition("tier", "Tier", "string"))
	reg := New(store, WithLogger(logger.Nop()))
	require.NoError(t, reg.Refresh(context.Background()))
	h := NewHTTPHandler(reg)

	rec := do(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog catalogView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.Len(t, catalog.Base, len(BaseFields))
	require.Len(t, catalog.Custom, 1)
	assert.Equal(t, "custom_fields.tier", catalog.Custom[0].Key)
	assert.Contains(t, catalog.Custom[0].Operators, "contains")

	for _, f := range catalog.Base {
		if f.Key == "is_marketing" {
			assert.Equal(t, []string{"is", "is not"}, f.Operators)
		}
	}
}

func TestHandler_DefineRedefineRemove(t *testing.T) {
	store := newStore(t)
	reg := New(store, WithLogger(logger.Nop()))
	require.NoError(t, reg.Refresh(context.Background()))
	h := NewHTTPHandler(reg)

	rec := do(h, http.MethodPost, "/", `{"key": "plan", "label": "Plan", "type": "string"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, "/", `{"key": "plan", "label": "Plan", "type": "string"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPost, "/", `{"key": "status", "type": "string"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/", `{"key": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPut, "/plan", `{"key": "tier", "label": "Tier", "type": "string"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := reg.Resolve("custom_fields.tier")
	assert.NoError(t, err)

	rec = do(h, http.MethodPut, "/missing", `{"label": "Missing", "type": "string"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/definitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var defs []domain.CustomFieldDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "tier", defs[0].Key)

	rec = do(h, http.MethodDelete, "/tier", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, reg.Definitions())

	rec = do(h, http.MethodDelete, "/tier", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RefreshFailureReportsDegradedCatalog(t *testing.T) {
	store := newStore(t, domain.NewCustomFieldDefinition("tier", "Tier", "string"))
	reg := New(store, WithLogger(logger.Nop()))
	require.NoError(t, reg.Refresh(context.Background()))
	h := NewHTTPHandler(reg)

	store.fail = true
	rec := do(h, http.MethodPost, "/refresh", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Error   string      `json:"error"`
		Catalog catalogView `json:"catalog"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.True(t, body.Catalog.Degraded)
	assert.Empty(t, body.Catalog.Custom)

	store.fail = false
	rec = do(h, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
