package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/bus"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// MockNotifier records fault notifications and optionally fails them
type MockNotifier struct {
	mu      sync.Mutex
	samples []*storage.TelemetrySample
	err     error
}

func (m *MockNotifier) NotifyFault(_ context.Context, s *storage.TelemetrySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return m.err
}

// MockFeed records broadcasts
type MockFeed struct {
	samples []*storage.TelemetrySample
}

func (m *MockFeed) Broadcast(s *storage.TelemetrySample) { m.samples = append(m.samples, s) }

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ingest-test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestIngestor(store Store, faults FaultNotifier, feed Broadcaster) *Ingestor {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, store, faults, feed)
}

func countSamples(t *testing.T, db *storage.DB) int {
	t.Helper()
	n, err := db.CountTelemetry(context.Background(), "")
	if err != nil {
		t.Fatalf("CountTelemetry failed: %v", err)
	}
	return n
}

const wellFormed = `{"pole_id":"P1","ts":"2026-07-01T21:00:00Z","state":"ON","voltage":231.2,
	"current_a":0.6,"power_w":138.7,"energy_kwh":90.1,"ambient_lux":2,"temperature_c":24,
	"dimming_level":100,"fault_code":null}`

func TestHandleMessageStoresOneSample(t *testing.T) {
	db := openTestDB(t)
	feed := &MockFeed{}
	ing := newTestIngestor(db, nil, feed)

	ing.HandleMessage(bus.Message{Topic: "streetlight/telemetry", Payload: []byte(wellFormed), ReceivedAt: time.Now()})

	if n := countSamples(t, db); n != 1 {
		t.Fatalf("sample count mismatch: got %d, want 1", n)
	}

	s, err := db.LatestTelemetry(context.Background(), "P1")
	if err != nil {
		t.Fatalf("LatestTelemetry failed: %v", err)
	}
	if _, err := uuid.Parse(s.TelemetryID); err != nil {
		t.Errorf("generated id is not a uuid: %q", s.TelemetryID)
	}
	if want := time.Date(2026, 7, 1, 21, 0, 0, 0, time.UTC); !s.TS.Equal(want) {
		t.Errorf("TS mismatch: got %v, want %v", s.TS, want)
	}
	if len(feed.samples) != 1 {
		t.Errorf("broadcast count mismatch: got %d, want 1", len(feed.samples))
	}

	stats := ing.Stats()
	if stats.Received != 1 || stats.Stored != 1 || stats.Dropped != 0 {
		t.Errorf("stats mismatch: got %+v", stats)
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	db := openTestDB(t)
	ing := newTestIngestor(db, nil, nil)

	payloads := []string{
		`not json at all`,
		`{"state":"ON","voltage":230,"current_a":1,"power_w":10}`,
		`{"pole_id":"P1"}`,
		``,
	}
	for _, p := range payloads {
		ing.HandleMessage(bus.Message{Topic: "streetlight/telemetry", Payload: []byte(p)})
	}

	if n := countSamples(t, db); n != 0 {
		t.Errorf("sample count mismatch: got %d, want 0", n)
	}
	if stats := ing.Stats(); stats.Dropped != uint64(len(payloads)) {
		t.Errorf("dropped mismatch: got %d, want %d", stats.Dropped, len(payloads))
	}
}

func TestIngestReturnsDecodeError(t *testing.T) {
	db := openTestDB(t)
	ing := newTestIngestor(db, nil, nil)

	_, err := ing.Ingest(context.Background(), []byte(`{"pole_id":"P1"}`), time.Now())
	if !errors.Is(err, fleet.ErrDecodeFailed) {
		t.Errorf("expected ErrDecodeFailed, got %v", err)
	}
}

func TestIngestStampsReceiveTime(t *testing.T) {
	db := openTestDB(t)
	ing := newTestIngestor(db, nil, nil)
	received := time.Date(2026, 7, 2, 3, 4, 5, 0, time.UTC)

	s, err := ing.Ingest(context.Background(),
		[]byte(`{"pole_id":"P1","ts":"not-a-time","state":"OFF","voltage":0,"current_a":0,"power_w":0}`), received)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !s.TS.Equal(received) {
		t.Errorf("TS mismatch: got %v, want %v", s.TS, received)
	}
}

func TestIngestKeepsSuppliedID(t *testing.T) {
	db := openTestDB(t)
	ing := newTestIngestor(db, nil, nil)
	payload := []byte(`{"telemetry_id":"dev-42","pole_id":"P1","state":"ON","voltage":1,"current_a":1,"power_w":1}`)

	if _, err := ing.Ingest(context.Background(), payload, time.Now()); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	// Redelivery of a message with a stable id is not stored twice
	if _, err := ing.Ingest(context.Background(), payload, time.Now()); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict on redelivery, got %v", err)
	}
	if n := countSamples(t, db); n != 1 {
		t.Errorf("sample count mismatch: got %d, want 1", n)
	}
}

func TestFaultNotificationFailureDoesNotFailWrite(t *testing.T) {
	db := openTestDB(t)
	notifier := &MockNotifier{err: errors.New("fault service down")}
	ing := newTestIngestor(db, notifier, nil)

	payload := []byte(`{"pole_id":"P9","state":"OFF","voltage":0,"current_a":0,"power_w":0,"fault_code":"LAMP_FAIL"}`)
	s, err := ing.Ingest(context.Background(), payload, time.Now())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if s.FaultCode == nil || *s.FaultCode != "LAMP_FAIL" {
		t.Errorf("FaultCode mismatch: got %v", s.FaultCode)
	}
	if len(notifier.samples) != 1 {
		t.Errorf("notification attempts mismatch: got %d, want 1", len(notifier.samples))
	}
	if n := countSamples(t, db); n != 1 {
		t.Errorf("sample count mismatch: got %d, want 1", n)
	}
	if ing.Stats().FaultsNotified != 0 {
		t.Error("failed notification should not be counted")
	}
}

func TestNoNotificationWithoutFaultCode(t *testing.T) {
	db := openTestDB(t)
	notifier := &MockNotifier{}
	ing := newTestIngestor(db, notifier, nil)

	if _, err := ing.Ingest(context.Background(), []byte(wellFormed), time.Now()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(notifier.samples) != 0 {
		t.Errorf("unexpected notification for healthy sample")
	}
}

func TestIngestImplausibleTimestampDoesNotPinLatest(t *testing.T) {
	db := openTestDB(t)
	ing := newTestIngestor(db, nil, nil)
	ctx := context.Background()
	received := time.Date(2026, 7, 2, 3, 4, 5, 0, time.UTC)

	bogus, err := ing.Ingest(ctx,
		[]byte(`{"pole_id":"P1","ts":1e15,"state":"ON","voltage":230,"current_a":0.5,"power_w":110}`), received)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !bogus.TS.Equal(received) {
		t.Errorf("TS mismatch: got %v, want receive time %v", bogus.TS, received)
	}

	later := received.Add(time.Minute)
	if _, err := ing.Ingest(ctx,
		[]byte(`{"pole_id":"P1","ts":"2026-07-02T03:05:05Z","state":"OFF","voltage":230,"current_a":0,"power_w":0}`), later); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	latest, err := db.LatestTelemetry(ctx, "P1")
	if err != nil {
		t.Fatalf("LatestTelemetry failed: %v", err)
	}
	if latest.State != "OFF" || !latest.TS.Equal(later) {
		t.Errorf("latest mismatch: got state=%s ts=%v", latest.State, latest.TS)
	}

	n, err := db.PruneTelemetry(ctx, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneTelemetry failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned mismatch: got %d, want 2", n)
	}
}
