package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tailwatch/tailwatch/internal/models"
	"github.com/tailwatch/tailwatch/internal/storage"
)

func newTestHandler(t *testing.T) (*storage.Store, http.Handler) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, NewServer(":0", store).srv.Handler
}

func TestHealthz(t *testing.T) {
	_, h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestRecentAlerts(t *testing.T) {
	store, h := newTestHandler(t)
	ev := &models.AlertEvent{
		ID:        uuid.New().String(),
		MarketID:  "m1",
		Kind:      models.ExtremeLow,
		Value:     0.004,
		Delivered: true,
		SentAt:    time.Now(),
	}
	if err := store.LogAlert(ev); err != nil {
		t.Fatalf("LogAlert: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts/recent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var events []models.AlertEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) != 1 || events[0].MarketID != "m1" {
		t.Errorf("got events %+v", events)
	}
}
