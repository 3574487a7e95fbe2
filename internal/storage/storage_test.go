package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tailwatch/tailwatch/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(marketID string, kind models.ConditionKind, active bool) *models.AlertRecord {
	return &models.AlertRecord{
		MarketID:      marketID,
		Kind:          kind,
		Active:        active,
		LastAlertedAt: time.Now(),
		LastValue:     0.005,
	}
}

func TestStore_GetRecord_Absent(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.GetRecord("nope", models.ExtremeLow)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestStore_PutAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	in := testRecord("m1", models.ExtremeLow, true)
	if err := s.PutRecord(in); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	got, err := s.GetRecord("m1", models.ExtremeLow)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatal("record not found after put")
	}
	if !got.Active {
		t.Error("active flag not persisted")
	}
	if got.LastValue != in.LastValue {
		t.Errorf("got last value %v, want %v", got.LastValue, in.LastValue)
	}
	if !got.LastAlertedAt.Equal(in.LastAlertedAt) {
		t.Errorf("got last alerted at %v, want %v", got.LastAlertedAt, in.LastAlertedAt)
	}
}

func TestStore_PutRecord_Replaces(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("m1", models.ExtremeHigh, true)
	if err := s.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	rec.Active = false
	if err := s.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord (replace): %v", err)
	}
	got, _ := s.GetRecord("m1", models.ExtremeHigh)
	if got == nil || got.Active {
		t.Errorf("replace did not stick: %+v", got)
	}
}

func TestStore_PutRecord_RequiresKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutRecord(&models.AlertRecord{Kind: models.ExtremeLow}); err == nil {
		t.Error("expected error for missing market ID")
	}
	if err := s.PutRecord(&models.AlertRecord{MarketID: "m1"}); err == nil {
		t.Error("expected error for missing kind")
	}
}

func TestStore_KindsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutRecord(testRecord("m1", models.ExtremeLow, true)); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	got, err := s.GetRecord("m1", models.ExtremeHigh)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got != nil {
		t.Errorf("record leaked across kinds: %+v", got)
	}
}

func TestStore_ActiveRecords(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutRecord(testRecord("b", models.ExtremeLow, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRecord(testRecord("a", models.ExtremeHigh, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRecord(testRecord("c", models.ExtremeLow, false)); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ActiveRecords()
	if err != nil {
		t.Fatalf("ActiveRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d active records, want 2", len(recs))
	}
	if recs[0].MarketID != "a" || recs[1].MarketID != "b" {
		t.Errorf("records not ordered by market ID: %v, %v", recs[0].MarketID, recs[1].MarketID)
	}
}

func TestStore_AlertLog(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < 3; i++ {
		ev := &models.AlertEvent{
			ID:        uuid.New().String(),
			MarketID:  "m1",
			Kind:      models.ExtremeLow,
			Value:     0.004,
			Delivered: i != 1,
			SentAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.LogAlert(ev); err != nil {
			t.Fatalf("LogAlert: %v", err)
		}
	}

	events, err := s.RecentAlerts(2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].SentAt.Before(events[1].SentAt) {
		t.Error("events not in newest-first order")
	}
}

func TestStore_DurableAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := testRecord("m1", models.ExtremeLow, true)
	if err := s.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetRecord("m1", models.ExtremeLow)
	if err != nil {
		t.Fatalf("GetRecord after reopen: %v", err)
	}
	if got == nil || !got.Active {
		t.Fatalf("active record not durable across reopen: %+v", got)
	}
	if got.LastValue != rec.LastValue {
		t.Errorf("got last value %v, want %v", got.LastValue, rec.LastValue)
	}
}
