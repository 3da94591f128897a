package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	alarmapp "linemonitor/internal/alarms/application"
	voltage "linemonitor/internal/voltage/domain"
)

type staticStatus alarmapp.Snapshot

func (s staticStatus) Snapshot() alarmapp.Snapshot { return alarmapp.Snapshot(s) }

func TestHandlerServesSnapshot(t *testing.T) {
	handler, err := NewHandler(staticStatus{InFailure: true, Outages: []voltage.LineID{"120V"}})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, StatusPath, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		InFailure bool     `json:"in_failure"`
		Outages   []string `json:"outages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.InFailure || len(got.Outages) != 1 || got.Outages[0] != "120V" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestHandlerRejectsOtherRoutes(t *testing.T) {
	handler, _ := NewHandler(staticStatus{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, StatusPath, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
