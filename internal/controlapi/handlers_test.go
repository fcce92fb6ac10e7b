package controlapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hollows-hunter/agent/internal/history"
)

func TestHandleGetReportsDefaultLimit(t *testing.T) {
	store := &fakeHistoryStore{records: []history.Record{
		{ScanID: "a"}, {ScanID: "b"},
	}}
	srv := NewServer(store, nil, defaultCfg())
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []history.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestHandleGetReportsRejectsBadLimit(t *testing.T) {
	srv := NewServer(&fakeHistoryStore{}, nil, defaultCfg())
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePostScanTriggersWithValidPid(t *testing.T) {
	var triggered uint32
	trigger := func(pid uint32) { triggered = pid }
	srv := NewServer(&fakeHistoryStore{}, trigger, defaultCfg())
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan/777", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if triggered != 777 {
		t.Fatalf("expected trigger called with pid 777, got %d", triggered)
	}
}

func TestHandlePostScanRejectsInvalidPid(t *testing.T) {
	srv := NewServer(&fakeHistoryStore{}, func(uint32) {}, defaultCfg())
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan/not-a-pid", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetConfigReturnsActiveParams(t *testing.T) {
	cfg := defaultCfg()
	cfg.LogLevel = "debug"
	srv := NewServer(&fakeHistoryStore{}, nil, cfg)
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["LogLevel"] != "debug" {
		t.Fatalf("expected LogLevel debug in config snapshot, got %v", got["LogLevel"])
	}
}
