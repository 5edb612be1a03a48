package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinixnote/clinixnote/internal/config"
	"github.com/clinixnote/clinixnote/internal/domain/casenote"
	"github.com/clinixnote/clinixnote/internal/platform/db"
	"github.com/clinixnote/clinixnote/internal/platform/llm"
	"github.com/clinixnote/clinixnote/internal/platform/middleware"
	"github.com/clinixnote/clinixnote/internal/platform/pdf"
	"github.com/clinixnote/clinixnote/internal/platform/recordlog"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:           "0",
		Env:            "development",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: 5 * time.Second,
		LLMProvider:    config.ProviderOpenAI,
		LLMModel:       "gpt-4o",
		LLMTemperature: 0.5,
		LLMTimeout:     time.Second,
		SessionMax:     10,
		SessionTTL:     time.Hour,
		RecordSink:     config.SinkCSV,
		RecordCSVPath:  filepath.Join(t.TempDir(), "records.csv"),
		FacilityName:   "Test Clinic",
	}
}

func testService(t *testing.T, cfg *config.Config, client llm.Client) *casenote.Service {
	t.Helper()
	sink, err := openRecordSink(cfg, nil)
	if err != nil {
		t.Fatalf("openRecordSink: %v", err)
	}
	renderer, err := newRenderer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newRenderer: %v", err)
	}
	return casenote.NewService(casenote.ServiceConfig{
		Sessions: casenote.NewSessionStore(cfg.SessionMax, cfg.SessionTTL),
		Clients: llm.FactoryFunc(func(_ context.Context, apiKey string) (llm.Client, error) {
			if apiKey == "" {
				return nil, &llm.CompletionError{Kind: llm.AuthenticationFailed, Message: "api key is required"}
			}
			return client, nil
		}),
		Records:     sink,
		Renderer:    renderer,
		Temperature: cfg.LLMTemperature,
		Logger:      zerolog.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_Health(t *testing.T) {
	cfg := testConfig(t)
	e := newServer(cfg, zerolog.Nop(), testService(t, cfg, nil), nil, nil)

	rec := do(t, e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	if rec := do(t, e, http.MethodGet, "/health/db", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected no db health route without a database, got %d", rec.Code)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNewServer_DBHealth(t *testing.T) {
	cfg := testConfig(t)
	var pinger db.Pinger = pingFunc(func(context.Context) error { return nil })
	e := newServer(cfg, zerolog.Nop(), testService(t, cfg, nil), nil, pinger)

	if rec := do(t, e, http.MethodGet, "/health/db", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestNewServer_DocumentationFlow(t *testing.T) {
	cfg := testConfig(t)
	var prompts []string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
		prompts = append(prompts, req.UserPrompt)
		return "SOAP: ...", nil
	})
	e := newServer(cfg, zerolog.Nop(), testService(t, cfg, client), nil, nil)

	rec := do(t, e, http.MethodPost, "/api/v1/sessions", "", map[string]string{casenote.APIKeyHeader: "sk-test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	base := "/api/v1/sessions/" + sess.ID

	rec = do(t, e, http.MethodPut, base+"/case", `{"patient_name":"Aisha Khan","phone":"0300","case_summary":"58F chest pain 2h, diaphoretic"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit case: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodPost, base+"/note", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate note: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "58F chest pain 2h, diaphoretic") {
		t.Errorf("unexpected prompts %q", prompts)
	}

	rec = do(t, e, http.MethodPost, base+"/discharge", `{"final_diagnosis":""}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty diagnosis: expected 422, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, base+"/discharge", `{"final_diagnosis":"NSTEMI"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate discharge: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, base+"/discharge.pdf", "", nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("export: expected PDF, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, base+"/records", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save case: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/v1/records", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("list records: got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodDelete, base, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("end session: expected 204, got %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, base, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected ended session to be gone, got %d", rec.Code)
	}
}

func TestNewServer_RequiresTokenOutsideDevelopment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.AuthSigningKey = "test-signing-key"
	e := newServer(cfg, zerolog.Nop(), testService(t, cfg, nil), nil, nil)

	if rec := do(t, e, http.MethodPost, "/api/v1/sessions", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected health to stay public, got %d", rec.Code)
	}
}

func TestOpenRecordSink(t *testing.T) {
	cfg := testConfig(t)

	sink, err := openRecordSink(cfg, nil)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if _, ok := sink.(*recordlog.CSVSink); !ok {
		t.Errorf("expected CSVSink, got %T", sink)
	}

	cfg.RecordSink = config.SinkKafka
	cfg.KafkaBrokers = []string{"localhost:9092"}
	cfg.KafkaTopic = "records"
	sink, err = openRecordSink(cfg, nil)
	if err != nil {
		t.Fatalf("kafka: %v", err)
	}
	if _, ok := sink.(*recordlog.KafkaSink); !ok {
		t.Errorf("expected KafkaSink, got %T", sink)
	}
	_ = sink.Close()

	cfg.RecordSink = config.SinkPostgres
	if _, err := openRecordSink(cfg, nil); err == nil {
		t.Error("expected error for postgres without a pool")
	}

	cfg.RecordSink = "s3"
	if _, err := openRecordSink(cfg, nil); err == nil {
		t.Error("expected error for unknown sink")
	}
}

func TestNewRenderer_FontPaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.PDFFontPaths = []string{filepath.Join(t.TempDir(), "missing.ttf")}
	_, err := newRenderer(cfg, zerolog.Nop())
	var re *pdf.RenderError
	if !errors.As(err, &re) || re.Kind != pdf.FontUnavailable {
		t.Errorf("expected font_unavailable error, got %v", err)
	}
}

func TestNewArchive_Disabled(t *testing.T) {
	store, err := newArchive(testConfig(t))
	if err != nil || store != nil {
		t.Errorf("expected no archive, got %v, %v", store, err)
	}
}

func TestMigrationSource(t *testing.T) {
	if _, err := fs.ReadFile(migrationSource(""), "001_session_record.sql"); err != nil {
		t.Errorf("expected embedded migration: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "002_extra.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadFile(migrationSource(dir), "002_extra.sql"); err != nil {
		t.Errorf("expected migration from dir: %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "session_record", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "next"},
	})
	out := buf.String()
	for _, want := range []string{"session_record", "applied", "2024-05-01 12:00:00", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
