package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T, reportFile string) *Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewServer(":0", reportFile, nil, log)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "report.json")
	rec := get(t, s, "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status body = %v", body)
	}
}

func TestReportNotFound(t *testing.T) {
	s := newTestServer(t, filepath.Join(t.TempDir(), "absent.json"))
	rec := get(t, s, "/api/report")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReportServedVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	content := `{"mode":"analyze","reconciliation":{"matched":42}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, path)
	rec := get(t, s, "/api/report")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != content {
		t.Errorf("body = %s, want file content verbatim", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRunsWithoutTracker(t *testing.T) {
	s := newTestServer(t, "report.json")

	for _, path := range []string{"/api/runs", "/api/runs/some-id"} {
		rec := get(t, s, path)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestWriteMethodsRejected(t *testing.T) {
	s := newTestServer(t, "report.json")

	req := httptest.NewRequest(http.MethodPost, "/api/report", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}
