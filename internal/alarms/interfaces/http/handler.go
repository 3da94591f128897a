package http

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	alarmapp "linemonitor/internal/alarms/application"
)

// StatusPath serves the debounce state.
const StatusPath = "/status"

// StatusReader exposes the debounce state.
type StatusReader interface {
	Snapshot() alarmapp.Snapshot
}

// Handler provides the notifier status endpoint.
type Handler struct {
	status StatusReader
}

// NewHandler constructs a handler.
func NewHandler(status StatusReader) (*Handler, error) {
	if status == nil {
		return nil, errors.New("status handler: nil status reader")
	}
	return &Handler{status: status}, nil
}

// ServeHTTP handles GET /status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != StatusPath {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := json.Marshal(h.status.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
