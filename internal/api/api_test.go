package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/bus"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/dispatch"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/faults"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/ingest"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/maintenance"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// fakeBus accepts every publish except for poles listed in reject
type fakeBus struct {
	connected bool
	reject    map[string]bool
}

func (f *fakeBus) Publish(topic string, payload []byte) *bus.Ack {
	var msg struct {
		PoleID string `json:"pole_id"`
	}
	json.Unmarshal(payload, &msg)
	if f.reject[msg.PoleID] {
		return bus.Resolved(errors.New("broker unavailable"))
	}
	return bus.Resolved(nil)
}

func (f *fakeBus) IsConnected() bool { return f.connected }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testEnv struct {
	db      *storage.DB
	bus     *fakeBus
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	db.UpsertZone(ctx, &storage.Zone{ZoneID: "Z1", Name: "North"})
	db.UpsertZone(ctx, &storage.Zone{ZoneID: "Z2", Name: "Empty"})
	for _, p := range []string{"P1", "P2"} {
		if err := db.UpsertAsset(ctx, &storage.Asset{PoleID: p, ZoneID: "Z1"}); err != nil {
			t.Fatalf("UpsertAsset failed: %v", err)
		}
	}

	fb := &fakeBus{connected: true, reject: map[string]bool{}}
	fs := faults.New(faults.DefaultConfig(), db)
	deps := Deps{
		Dispatcher: dispatch.New(dispatch.DefaultConfig(), db, fb),
		Tickets:    maintenance.New(maintenance.DefaultConfig(), db),
		Faults:     fs,
		Ingestor:   ingest.New(ingest.DefaultConfig(), db, fs, nil),
		Store:      db,
		Bus:        fb,
	}
	return &testEnv{db: db, bus: fb, handler: New(DefaultConfig(), deps).Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid body %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
}

func TestControlPole(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/poles/P1/control", map[string]string{"command": "on"})
	if code != http.StatusOK {
		t.Fatalf("status mismatch: got %d, want 200 (%s)", code, env.Error)
	}
	var res dispatch.Result
	decodeData(t, env, &res)
	if !res.Accepted || res.Command != "ON" || res.PoleID != "P1" {
		t.Errorf("unexpected result: %+v", res)
	}

	tests := []struct {
		name string
		path string
		cmd  string
		want int
	}{
		{"unknown pole", "/poles/P404/control", "OFF", http.StatusNotFound},
		{"invalid command", "/poles/P1/control", "TOGGLE", http.StatusBadRequest},
		{"missing command", "/poles/P1/control", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := e.do(t, http.MethodPost, tt.path, map[string]string{"command": tt.cmd})
			if code != tt.want {
				t.Errorf("status mismatch: got %d, want %d", code, tt.want)
			}
			if env.Success || env.Error == "" {
				t.Errorf("expected error envelope, got %+v", env)
			}
		})
	}
}

func TestControlPoleTransportFailure(t *testing.T) {
	e := newTestEnv(t)
	e.bus.reject["P1"] = true

	code, _ := e.do(t, http.MethodPost, "/poles/P1/control", map[string]string{"command": "OFF"})
	if code != http.StatusBadGateway {
		t.Errorf("status mismatch: got %d, want 502", code)
	}
}

func TestControlZone(t *testing.T) {
	e := newTestEnv(t)
	e.bus.reject["P2"] = true

	code, env := e.do(t, http.MethodPost, "/zones/Z1/control", map[string]string{"command": "off"})
	if code != http.StatusOK {
		t.Fatalf("status mismatch: got %d, want 200 (%s)", code, env.Error)
	}
	var res dispatch.ZoneResult
	decodeData(t, env, &res)
	if res.Total != 2 || len(res.Successful) != 1 || len(res.Failed) != 1 {
		t.Errorf("unexpected aggregate: %+v", res)
	}
	if len(res.Failed) == 1 && res.Failed[0] != "P2" {
		t.Errorf("failed mismatch: got %v, want [P2]", res.Failed)
	}

	code, _ = e.do(t, http.MethodPost, "/zones/Z2/control", map[string]string{"command": "ON"})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("empty zone status mismatch: got %d, want 422", code)
	}
}

func TestTicketLifecycle(t *testing.T) {
	e := newTestEnv(t)
	req := map[string]any{"description": "lamp out", "pole_id": "P1", "zone_id": "Z1", "sla_hours": 24}

	code, env := e.do(t, http.MethodPost, "/maintenance/schedule", req)
	if code != http.StatusCreated {
		t.Fatalf("schedule status mismatch: got %d, want 201 (%s)", code, env.Error)
	}
	var ticket storage.Ticket
	decodeData(t, env, &ticket)
	if ticket.Status != "pending" {
		t.Errorf("status mismatch: got %s, want pending", ticket.Status)
	}

	req["description"] = "different words"
	if code, _ := e.do(t, http.MethodPost, "/maintenance/schedule", req); code != http.StatusConflict {
		t.Errorf("duplicate status mismatch: got %d, want 409", code)
	}

	code, env = e.do(t, http.MethodPatch, "/maintenance/"+ticket.TicketID+"/assign", map[string]string{"assignedTo": "crew-7"})
	if code != http.StatusOK {
		t.Fatalf("assign status mismatch: got %d, want 200 (%s)", code, env.Error)
	}
	decodeData(t, env, &ticket)
	if ticket.Status != "assigned" || ticket.AssignedTo != "crew-7" {
		t.Errorf("unexpected ticket after assign: %+v", ticket)
	}

	if code, _ := e.do(t, http.MethodPatch, "/maintenance/"+ticket.TicketID+"/status", map[string]string{"status": "bogus"}); code != http.StatusBadRequest {
		t.Errorf("bogus status mismatch: got %d, want 400", code)
	}
	code, env = e.do(t, http.MethodGet, "/maintenance/"+ticket.TicketID, nil)
	if code != http.StatusOK {
		t.Fatalf("get status mismatch: got %d, want 200", code)
	}
	decodeData(t, env, &ticket)
	if ticket.Status != "assigned" {
		t.Errorf("ticket mutated by invalid status: got %s", ticket.Status)
	}

	if code, _ := e.do(t, http.MethodPatch, "/maintenance/"+ticket.TicketID+"/status", map[string]string{"status": "completed"}); code != http.StatusOK {
		t.Errorf("complete status mismatch: got %d, want 200", code)
	}
	if code, _ := e.do(t, http.MethodPatch, "/maintenance/missing/assign", map[string]string{"assignedTo": "crew-7"}); code != http.StatusNotFound {
		t.Errorf("missing ticket status mismatch: got %d, want 404", code)
	}

	var list []storage.Ticket
	_, env = e.do(t, http.MethodGet, "/maintenance/pending?zoneId=Z1&is_completed=true", nil)
	decodeData(t, env, &list)
	if len(list) != 1 || list[0].Status != "completed" {
		t.Errorf("completed filter mismatch: got %+v", list)
	}

	_, env = e.do(t, http.MethodGet, "/maintenance/assignee/crew-7", nil)
	decodeData(t, env, &list)
	if len(list) != 1 {
		t.Errorf("assignee count mismatch: got %d, want 1", len(list))
	}

	if code, _ := e.do(t, http.MethodDelete, "/maintenance/"+ticket.TicketID, nil); code != http.StatusOK {
		t.Errorf("delete status mismatch: got %d, want 200", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/maintenance/"+ticket.TicketID, nil); code != http.StatusNotFound {
		t.Errorf("second delete status mismatch: got %d, want 404", code)
	}
}

func TestPendingAllZones(t *testing.T) {
	e := newTestEnv(t)
	e.db.UpsertAsset(context.Background(), &storage.Asset{PoleID: "P9", ZoneID: "Z2"})
	for _, p := range []struct{ pole, zone string }{{"P1", "Z1"}, {"P9", "Z2"}} {
		req := map[string]any{"description": "check", "pole_id": p.pole, "zone_id": p.zone, "sla_hours": 4}
		if code, env := e.do(t, http.MethodPost, "/maintenance/schedule", req); code != http.StatusCreated {
			t.Fatalf("schedule failed: %d %s", code, env.Error)
		}
	}

	var list []storage.Ticket
	_, env := e.do(t, http.MethodGet, "/maintenance/pending?zoneId=All%20Zones", nil)
	decodeData(t, env, &list)
	if len(list) != 2 {
		t.Errorf("all zones count mismatch: got %d, want 2", len(list))
	}

	_, env = e.do(t, http.MethodGet, "/maintenance/pending?zoneId=Z2", nil)
	decodeData(t, env, &list)
	if len(list) != 1 || list[0].ZoneID != "Z2" {
		t.Errorf("zone filter mismatch: got %+v", list)
	}

	if code, _ := e.do(t, http.MethodGet, "/maintenance/pending?start_date=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("bad date status mismatch: got %d, want 400", code)
	}

	var stats storage.TicketStats
	_, env = e.do(t, http.MethodGet, "/maintenance/stats", nil)
	decodeData(t, env, &stats)
	if stats.Total != 2 || stats.Pending != 2 {
		t.Errorf("stats mismatch: got %+v", stats)
	}
}

func TestTelemetryEndpoints(t *testing.T) {
	e := newTestEnv(t)

	if code, _ := e.do(t, http.MethodPost, "/telemetry", `{"pole_id":"P1"}`); code != http.StatusBadRequest {
		t.Errorf("malformed telemetry status mismatch: got %d, want 400", code)
	}

	payload := `{"pole_id":"P1","ts":"2026-03-01T10:00:00Z","state":"ON","voltage":231.5,"current_a":0.4,"power_w":92.6,"fault_code":"LAMP_FAIL"}`
	code, env := e.do(t, http.MethodPost, "/telemetry", payload)
	if code != http.StatusCreated {
		t.Fatalf("record status mismatch: got %d, want 201 (%s)", code, env.Error)
	}
	var sample storage.TelemetrySample
	decodeData(t, env, &sample)
	if sample.TelemetryID == "" {
		t.Error("expected generated telemetry id")
	}

	code, env = e.do(t, http.MethodGet, "/telemetry/pole/P1/latest", nil)
	if code != http.StatusOK {
		t.Fatalf("latest status mismatch: got %d, want 200", code)
	}
	var latest storage.TelemetrySample
	decodeData(t, env, &latest)
	if latest.TelemetryID != sample.TelemetryID {
		t.Errorf("latest mismatch: got %s, want %s", latest.TelemetryID, sample.TelemetryID)
	}

	if code, _ := e.do(t, http.MethodGet, "/telemetry/"+sample.TelemetryID, nil); code != http.StatusOK {
		t.Errorf("get status mismatch: got %d, want 200", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/telemetry/pole/P2/latest", nil); code != http.StatusNotFound {
		t.Errorf("latest without samples: got %d, want 404", code)
	}

	var samples []storage.TelemetrySample
	_, env = e.do(t, http.MethodGet, "/telemetry/pole/P1/range?start=2026-03-01T00:00:00Z&end=2026-03-02T00:00:00Z", nil)
	decodeData(t, env, &samples)
	if len(samples) != 1 {
		t.Errorf("range count mismatch: got %d, want 1", len(samples))
	}
	// A bare end date covers that whole day
	samples = nil
	_, env = e.do(t, http.MethodGet, "/telemetry/pole/P1/range?start=2026-03-01&end=2026-03-01", nil)
	decodeData(t, env, &samples)
	if len(samples) != 1 {
		t.Errorf("date-only range count mismatch: got %d, want 1", len(samples))
	}
	if code, _ := e.do(t, http.MethodGet, "/telemetry/pole/P1/range?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z", nil); code != http.StatusBadRequest {
		t.Errorf("inverted range status mismatch: got %d, want 400", code)
	}

	var open []storage.Fault
	_, env = e.do(t, http.MethodGet, "/faults/open", nil)
	decodeData(t, env, &open)
	if len(open) != 1 || open[0].FaultCode != "LAMP_FAIL" {
		t.Errorf("telemetry fault not raised: %+v", open)
	}
}

func TestFaultEndpoints(t *testing.T) {
	e := newTestEnv(t)

	if code, _ := e.do(t, http.MethodPost, "/faults", map[string]string{"pole_id": "P1", "fault_code": "X", "severity": "apocalyptic"}); code != http.StatusBadRequest {
		t.Errorf("bad severity status mismatch: got %d, want 400", code)
	}

	code, env := e.do(t, http.MethodPost, "/faults", map[string]string{"pole_id": "P1", "fault_code": "VOLTAGE_HIGH", "severity": "critical"})
	if code != http.StatusCreated {
		t.Fatalf("report status mismatch: got %d, want 201 (%s)", code, env.Error)
	}
	var f storage.Fault
	decodeData(t, env, &f)
	if f.ZoneID != "Z1" {
		t.Errorf("zone mismatch: got %s, want Z1", f.ZoneID)
	}

	code, env = e.do(t, http.MethodPatch, "/faults/"+f.FaultID+"/resolve", nil)
	if code != http.StatusOK {
		t.Fatalf("resolve status mismatch: got %d, want 200", code)
	}
	decodeData(t, env, &f)
	if f.Status != "resolved" || f.ResolvedAt == nil {
		t.Errorf("unexpected fault after resolve: %+v", f)
	}

	var stats storage.FaultStats
	_, env = e.do(t, http.MethodGet, "/faults/zone/Z1/stats", nil)
	decodeData(t, env, &stats)
	if stats.Total != 1 || stats.Resolved != 1 || stats.Critical != 1 {
		t.Errorf("stats mismatch: got %+v", stats)
	}

	if code, _ := e.do(t, http.MethodGet, "/faults/nope", nil); code != http.StatusNotFound {
		t.Errorf("missing fault status mismatch: got %d, want 404", code)
	}
}

func TestZonesRulesAndHeartbeat(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var stats storage.ZoneStats
	_, env := e.do(t, http.MethodGet, "/zones/Z1/stats", nil)
	decodeData(t, env, &stats)
	if stats.TotalPoles != 2 || stats.ActivePoles != 2 {
		t.Errorf("zone stats mismatch: got %+v", stats)
	}

	var poles []storage.Asset
	_, env = e.do(t, http.MethodGet, "/zones/Z1/poles", nil)
	decodeData(t, env, &poles)
	if len(poles) != 2 {
		t.Errorf("pole count mismatch: got %d, want 2", len(poles))
	}

	if code, _ := e.do(t, http.MethodPost, "/controllers/C1/heartbeat", nil); code != http.StatusNotFound {
		t.Errorf("unknown controller status mismatch: got %d, want 404", code)
	}
	if err := e.db.UpsertController(ctx, &storage.Controller{ControllerID: "C1", ZoneID: "Z1"}); err != nil {
		t.Fatalf("UpsertController failed: %v", err)
	}
	if code, _ := e.do(t, http.MethodPost, "/controllers/C1/heartbeat", nil); code != http.StatusOK {
		t.Errorf("heartbeat status mismatch: got %d, want 200", code)
	}

	rule := map[string]any{"zone_id": "Z1", "name": "dusk", "condition": map[string]any{"ambient_lux_below": 20}, "action": "on"}
	code, env := e.do(t, http.MethodPost, "/rules", rule)
	if code != http.StatusCreated {
		t.Fatalf("create rule status mismatch: got %d, want 201 (%s)", code, env.Error)
	}
	var saved storage.AutomationRule
	decodeData(t, env, &saved)
	if saved.Action != "ON" || !saved.IsActive {
		t.Errorf("unexpected rule: %+v", saved)
	}

	if code, _ := e.do(t, http.MethodPatch, "/rules/"+saved.RuleID+"/toggle", nil); code != http.StatusOK {
		t.Errorf("toggle status mismatch: got %d, want 200", code)
	}
	var rules []storage.AutomationRule
	_, env = e.do(t, http.MethodGet, "/rules/zone/Z1?active=true", nil)
	decodeData(t, env, &rules)
	if len(rules) != 0 {
		t.Errorf("active rules mismatch: got %d, want 0", len(rules))
	}

	rule["action"] = "DIM"
	if code, _ := e.do(t, http.MethodPost, "/rules", rule); code != http.StatusBadRequest {
		t.Errorf("invalid action status mismatch: got %d, want 400", code)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	e.bus.connected = false

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if resp.Status != "ok" || resp.BusConnected {
		t.Errorf("unexpected health: %+v", resp)
	}
}
