package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/driver/simulated"
	"github.com/answerhive/answerhive/internal/registry/inmemory"
	"github.com/answerhive/answerhive/internal/search"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Platforms: []config.PlatformConfig{
			{Name: "DeepSeek", Description: "test platform one"},
			{Name: "Kimi", Description: "test platform two"},
		},
	}
	reg := inmemory.New(0, "", nil)
	t.Cleanup(func() { _ = reg.Close() })

	sim := simulated.New(0, cfg.Platforms)
	chain := &search.FallbackChain{
		Drivers: []search.TierDriver{sim},
		Monitor: &search.StreamMonitor{
			Interval:  time.Millisecond,
			Threshold: 5 * time.Millisecond,
			Timeout:   time.Second,
		},
	}
	orch := search.NewOrchestrator(reg, chain, search.Aggregator{}, 4, 5*time.Second, nil, nil)

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Registry:     reg,
		Drivers:      chain.Drivers,
		Logger:       log.New(log.Writer(), "[TEST] ", log.LstdFlags),
	}
}

func doJSON(t *testing.T, e http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, payload
}

func startSession(t *testing.T, e http.Handler, body string) string {
	t.Helper()
	rec, payload := doJSON(t, e, http.MethodPost, "/api/search", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: status %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := payload["session_id"].(string)
	if id == "" {
		t.Fatalf("no session id in %v", payload)
	}
	return id
}

func TestSearchEndToEnd(t *testing.T) {
	app := newTestApp(t)
	e := NewEcho(app)

	id := startSession(t, e, `{"query":"what is a goroutine","platforms":["DeepSeek","Kimi"]}`)
	app.Orchestrator.Wait()

	rec, payload := doJSON(t, e, http.MethodGet, "/api/search/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d: %s", rec.Code, rec.Body.String())
	}
	if payload["status"] != "completed" {
		t.Fatalf("session status = %v", payload["status"])
	}
	if payload["progress"].(float64) != 1 {
		t.Fatalf("progress = %v", payload["progress"])
	}
	tasks, ok := payload["tasks"].(map[string]interface{})
	if !ok || len(tasks) != 2 {
		t.Fatalf("tasks payload wrong: %v", payload["tasks"])
	}

	rec, payload = doJSON(t, e, http.MethodGet, "/api/search/"+id+"/result", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result: %d: %s", rec.Code, rec.Body.String())
	}
	content, _ := payload["content"].(string)
	if !strings.Contains(content, "## Source 1: DeepSeek") {
		t.Fatalf("merged content missing section:\n%s", content)
	}
	if payload["integrated"] != false {
		t.Fatalf("no integrator configured, integrated = %v", payload["integrated"])
	}
}

func TestSearchValidation(t *testing.T) {
	e := NewEcho(newTestApp(t))

	rec, _ := doJSON(t, e, http.MethodPost, "/api/search", `{"platforms":["DeepSeek"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query: status %d", rec.Code)
	}
	rec, _ = doJSON(t, e, http.MethodPost, "/api/search", `{"query":"q","platforms":["NoSuch"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown platform: status %d", rec.Code)
	}
}

func TestSearchDefaultsToAllPlatforms(t *testing.T) {
	app := newTestApp(t)
	e := NewEcho(app)

	id := startSession(t, e, `{"query":"q"}`)
	app.Orchestrator.Wait()

	_, payload := doJSON(t, e, http.MethodGet, "/api/search/"+id, "")
	platforms, _ := payload["platforms"].([]interface{})
	if len(platforms) != 2 {
		t.Fatalf("expected all configured platforms, got %v", payload["platforms"])
	}
}

func TestSessionNotFound(t *testing.T) {
	e := NewEcho(newTestApp(t))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/search/unknown"},
		{http.MethodGet, "/api/search/unknown/result"},
		{http.MethodPost, "/api/search/unknown/stop"},
		{http.MethodDelete, "/api/search/unknown"},
	} {
		rec, _ := doJSON(t, e, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestDeleteSessionRoute(t *testing.T) {
	app := newTestApp(t)
	e := NewEcho(app)

	id := startSession(t, e, `{"query":"q","platforms":["DeepSeek"]}`)
	app.Orchestrator.Wait()

	rec, _ := doJSON(t, e, http.MethodDelete, "/api/search/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec, _ = doJSON(t, e, http.MethodGet, "/api/search/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestResultConflictWhileRunning(t *testing.T) {
	app := newTestApp(t)
	e := NewEcho(app)

	// A session created directly in the registry never runs, so it stays
	// in running state for the duration of the test.
	sess, err := app.Registry.Create(context.Background(), "q", []string{"DeepSeek"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := doJSON(t, e, http.MethodGet, fmt.Sprintf("/api/search/%s/result", sess.ID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("result of running session: status %d, want 409", rec.Code)
	}
}

func TestPlatformsEndpoint(t *testing.T) {
	e := NewEcho(newTestApp(t))

	req := httptest.NewRequest(http.MethodGet, "/api/platforms", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("platforms: status %d", rec.Code)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0]["name"] != "DeepSeek" {
		t.Fatalf("platform list wrong: %v", out)
	}
}

func TestHealthz(t *testing.T) {
	e := NewEcho(newTestApp(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
