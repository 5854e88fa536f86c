package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rpattn/segmentql/internal/config"
	"github.com/rpattn/segmentql/internal/logger"
)

const testSeed = `{
	"customFields": [{"key": "tier", "label": "Tier", "type": "string"}],
	"records": [
		{"id": "6f1f7f1e-0000-4000-8000-000000000001", "attributes": {"name": "Ada", "status": "Active", "country": "US"}, "custom_fields": {"tier": "gold"}},
		{"id": "6f1f7f1e-0000-4000-8000-000000000002", "attributes": {"name": "Linus", "status": "Inactive", "country": "FI"}},
		{"id": "6f1f7f1e-0000-4000-8000-000000000003", "attributes": {"name": "Grace", "status": "Active", "country": "US"}}
	]
}`

const activeCriteria = `{"conditions": [{"field": "status", "operator": "is", "value": "Active"}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// useMemoryDriver points the configuration at an in-memory store holding
// testSeed and returns the config directory.
func useMemoryDriver(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SEGMENTQL_DATABASE_DRIVER", config.DriverMemory)
	t.Setenv("SEGMENTQL_DATABASE_SEED_PATH", writeFile(t, dir, "seed.json", testSeed))
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	cmd := RootCmd()

	if cmd.Use != "segmentql" {
		t.Errorf("Expected Use 'segmentql', got %s", cmd.Use)
	}

	for _, name := range []string{"config", "log-level", "log-format"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag %s to exist", name)
		}
	}

	expectedCommands := []string{"serve", "migrate", "seed", "fields", "segments", "export"}
	commandNames := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		commandNames[sub.Name()] = true
	}
	for _, expected := range expectedCommands {
		if !commandNames[expected] {
			t.Errorf("Expected command %s to exist", expected)
		}
	}
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	dir := useMemoryDriver(t)
	if _, err := execute(t, "", "--config", dir, "--log-level", "loud", "fields", "list"); err == nil {
		t.Fatal("Expected an invalid log level to fail")
	}
}

func TestFieldsList(t *testing.T) {
	dir := useMemoryDriver(t)
	out, err := execute(t, "", "--config", dir, "--log-level", "error", "fields", "list")
	if err != nil {
		t.Fatalf("fields list failed: %v", err)
	}
	if !strings.Contains(out, "tier") || !strings.Contains(out, "custom") {
		t.Errorf("Expected the custom field in the catalog, got:\n%s", out)
	}
	if !strings.Contains(out, "is_marketing") {
		t.Errorf("Expected base fields in the catalog, got:\n%s", out)
	}
}

func TestSegmentsPreview(t *testing.T) {
	dir := useMemoryDriver(t)
	out, err := execute(t, activeCriteria, "--config", dir, "--log-level", "error", "segments", "preview", "--criteria", "-")
	if err != nil {
		t.Fatalf("segments preview failed: %v", err)
	}

	var preview struct {
		Size     int  `json:"size"`
		Complete bool `json:"complete"`
	}
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		t.Fatalf("failed to decode preview %q: %v", out, err)
	}
	if preview.Size != 2 || !preview.Complete {
		t.Errorf("Expected 2 complete matches, got %+v", preview)
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	dir := useMemoryDriver(t)
	if _, err := execute(t, "", "--config", dir, "migrate", "up"); err == nil {
		t.Fatal("Expected migrate to refuse the memory driver")
	}
}

func TestExportRejectsUnknownSource(t *testing.T) {
	dir := useMemoryDriver(t)
	_, err := execute(t, "", "--config", dir, "export", "report", "6f1f7f1e-0000-4000-8000-000000000001")
	if err == nil || !strings.Contains(err.Error(), "unknown export source") {
		t.Fatalf("Expected unknown export source error, got %v", err)
	}
}

func TestRouter(t *testing.T) {
	dir := useMemoryDriver(t)
	cfg, _, err := config.Load(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	rt := &cli{cfg: cfg, logger: logger.Nop()}

	a, err := rt.openApp(t.Context())
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	defer a.Close()
	router := newRouter(a, rt.logger, []string{"*"})

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/api/fields/", "", http.StatusOK},
		{http.MethodPost, "/api/preview", `{"filterCriteria": {"filterGroups": [{"id": "g1", "conditions": [{"field": "country", "operator": "is", "value": "US"}]}]}}`, http.StatusOK},
		{http.MethodGet, "/api/segments", "", http.StatusOK},
		{http.MethodGet, "/api/exports/segments/6f1f7f1e-0000-4000-8000-000000000009", "", http.StatusNotFound},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tt.status {
			t.Errorf("%s %s: expected status %d, got %d: %s", tt.method, tt.path, tt.status, rec.Code, rec.Body.String())
		}
	}
}
