package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/logger"
	"github.com/rpattn/segmentql/internal/recordloader"
	"github.com/rpattn/segmentql/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewWithWriter(&buf, "info", "json")
	require.NoError(t, err)

	handler := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/segments", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/segments"`)
	assert.Contains(t, buf.String(), `"bytes":15`)
}

func TestDataLoaderMiddleware_AttachesLoader(t *testing.T) {
	a := domain.NewRecord(map[string]any{"name": "Ada"}, nil)
	b := domain.NewRecord(map[string]any{"name": "Grace"}, nil)
	store := memory.NewContactStore(a, b)

	var loaded []domain.Record
	handler := DataLoaderMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loader := recordloader.FromContext(r.Context())
		require.NotNil(t, loader)
		var err error
		loaded, err = loader.LoadMany(r.Context(), []uuid.UUID{b.ID, uuid.New(), a.ID})
		require.NoError(t, err)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, loaded, 2)
	assert.Equal(t, b.ID, loaded[0].ID)
	assert.Equal(t, a.ID, loaded[1].ID)
	assert.Nil(t, recordloader.FromContext(context.Background()))
}
