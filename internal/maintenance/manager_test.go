package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// testClock hands out strictly increasing times so creation order is stable
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func setupManager(t *testing.T) (*Manager, *storage.DB) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "maintenance-test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Now = clock.Now
	return New(cfg, db), db
}

func mustCreate(t *testing.T, m *Manager, pole, zone string) *storage.Ticket {
	t.Helper()
	tk, err := m.CreateTicket(context.Background(), CreateRequest{
		Description: "lamp flicker on " + pole,
		PoleID:      pole,
		ZoneID:      zone,
		SLAHours:    48,
	})
	if err != nil {
		t.Fatalf("CreateTicket(%s, %s) failed: %v", pole, zone, err)
	}
	return tk
}

func ids(tickets []*storage.Ticket) []string {
	out := make([]string, len(tickets))
	for i, t := range tickets {
		out[i] = t.PoleID
	}
	return out
}

func TestCreateTicketStartsPending(t *testing.T) {
	m, _ := setupManager(t)

	tk := mustCreate(t, m, "P1", "Z1")
	if tk.Status != fleet.StatusPending {
		t.Errorf("Status mismatch: got %s, want pending", tk.Status)
	}
	if tk.TicketID == "" {
		t.Error("expected a generated ticket id")
	}
	if tk.SLAHours != 48 {
		t.Errorf("SLAHours mismatch: got %d, want 48", tk.SLAHours)
	}
}

func TestCreateTicketDuplicate(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	mustCreate(t, m, "P1", "Z1")

	_, err := m.CreateTicket(ctx, CreateRequest{Description: "something else entirely", PoleID: "P1", ZoneID: "Z1"})
	if !errors.Is(err, fleet.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
}

func TestCreateTicketConcurrentDuplicates(t *testing.T) {
	m, db := setupManager(t)
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateTicket(ctx, CreateRequest{Description: "race", PoleID: "P7", ZoneID: "Z3"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, fleet.ErrDuplicateTicket):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created mismatch: got %d, want 1", created)
	}
	if created+duplicate != attempts {
		t.Errorf("outcomes mismatch: got %d created + %d duplicate", created, duplicate)
	}

	open, err := db.QueryTickets(ctx, storage.TicketFilter{ZoneID: "Z3"})
	if err != nil {
		t.Fatalf("QueryTickets failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("stored tickets mismatch: got %d, want 1", len(open))
	}
}

func TestCreateTicketAfterCompletion(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	first := mustCreate(t, m, "P1", "Z1")
	if _, err := m.UpdateTicketStatus(ctx, first.TicketID, "completed"); err != nil {
		t.Fatalf("UpdateTicketStatus failed: %v", err)
	}
	mustCreate(t, m, "P1", "Z1")
}

func TestCreateTicketValidation(t *testing.T) {
	m, _ := setupManager(t)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no description", CreateRequest{PoleID: "P1", ZoneID: "Z1"}},
		{"no pole", CreateRequest{Description: "x", ZoneID: "Z1"}},
		{"no zone", CreateRequest{Description: "x", PoleID: "P1"}},
		{"negative sla", CreateRequest{Description: "x", PoleID: "P1", ZoneID: "Z1", SLAHours: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateTicket(context.Background(), tt.req); !errors.Is(err, fleet.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAssignTicket(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()
	tk := mustCreate(t, m, "P1", "Z1")

	if _, err := m.AssignTicket(ctx, tk.TicketID, "  "); !errors.Is(err, fleet.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank assignee, got %v", err)
	}

	// Assigning forces the status even from in_progress
	if _, err := m.UpdateTicketStatus(ctx, tk.TicketID, "in_progress"); err != nil {
		t.Fatalf("UpdateTicketStatus failed: %v", err)
	}
	got, err := m.AssignTicket(ctx, tk.TicketID, "crew-north")
	if err != nil {
		t.Fatalf("AssignTicket failed: %v", err)
	}
	if got.Status != fleet.StatusAssigned || got.AssignedTo != "crew-north" {
		t.Errorf("assign mismatch: got status %s assignee %q", got.Status, got.AssignedTo)
	}

	if _, err := m.AssignTicket(ctx, "missing", "crew-north"); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTicketStatusInvalidDoesNotMutate(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()
	tk := mustCreate(t, m, "P1", "Z1")

	if _, err := m.UpdateTicketStatus(ctx, tk.TicketID, "bogus"); !errors.Is(err, fleet.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	stored, err := m.GetTicketByID(ctx, tk.TicketID)
	if err != nil {
		t.Fatalf("GetTicketByID failed: %v", err)
	}
	if stored.Status != fleet.StatusPending || !stored.UpdatedAt.Equal(tk.UpdatedAt) {
		t.Errorf("ticket mutated: got status %s updated %v", stored.Status, stored.UpdatedAt)
	}

	if _, err := m.UpdateTicketStatus(ctx, "missing", "assigned"); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTicketStatusAllowsAnyValidValue(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()
	tk := mustCreate(t, m, "P1", "Z1")

	for _, s := range []string{"completed", "pending", "in_progress", "assigned"} {
		got, err := m.UpdateTicketStatus(ctx, tk.TicketID, s)
		if err != nil {
			t.Fatalf("UpdateTicketStatus(%s) failed: %v", s, err)
		}
		if string(got.Status) != s {
			t.Errorf("Status mismatch: got %s, want %s", got.Status, s)
		}
	}
}

func TestGetPendingTickets(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	// Created in this order, one minute apart
	p1 := mustCreate(t, m, "P1", "Z1")
	mustCreate(t, m, "P2", "Z1")
	p3 := mustCreate(t, m, "P3", "Z2")
	p4 := mustCreate(t, m, "P4", "Z1")
	mustCreate(t, m, "P5", "Z2")

	for id, st := range map[string]string{p1.TicketID: "completed", p3.TicketID: "in_progress", p4.TicketID: "assigned"} {
		if _, err := m.UpdateTicketStatus(ctx, id, st); err != nil {
			t.Fatalf("UpdateTicketStatus failed: %v", err)
		}
	}

	tests := []struct {
		name string
		q    PendingQuery
		want []string
	}{
		{"default open set, all zones", PendingQuery{ZoneID: "all zones"}, []string{"P2", "P3", "P4", "P5"}},
		{"wildcard casing", PendingQuery{ZoneID: "ALL_ZONES"}, []string{"P2", "P3", "P4", "P5"}},
		{"wildcard short", PendingQuery{ZoneID: "All"}, []string{"P2", "P3", "P4", "P5"}},
		{"zone open set", PendingQuery{ZoneID: "Z1"}, []string{"P2", "P4"}},
		{"zone completed", PendingQuery{ZoneID: "Z1", Completed: true}, []string{"P1"}},
		{"explicit status wins over completed", PendingQuery{ZoneID: "Z2", Status: "in_progress", Completed: true}, []string{"P3"}},
		{"status all", PendingQuery{ZoneID: "all zones", Status: "all"}, []string{"P1", "P2", "P3", "P4", "P5"}},
		{"status all ignores completed flag", PendingQuery{ZoneID: "Z1", Status: "ALL", Completed: true}, []string{"P1", "P2", "P4"}},
		{"limit", PendingQuery{ZoneID: "all", Limit: 2}, []string{"P2", "P3"}},
		{"unknown zone", PendingQuery{ZoneID: "Z9"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.GetPendingTickets(ctx, tt.q)
			if err != nil {
				t.Fatalf("GetPendingTickets failed: %v", err)
			}
			gotIDs := ids(got)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("result mismatch: got %v, want %v", gotIDs, tt.want)
			}
			for i := range tt.want {
				if gotIDs[i] != tt.want[i] {
					t.Errorf("result mismatch: got %v, want %v", gotIDs, tt.want)
					break
				}
			}
		})
	}
}

func TestGetPendingTicketsDateBounds(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	a := mustCreate(t, m, "P1", "Z1")
	b := mustCreate(t, m, "P2", "Z1")
	c := mustCreate(t, m, "P3", "Z1")

	got, err := m.GetPendingTickets(ctx, PendingQuery{ZoneID: "Z1", Start: b.CreatedAt, End: c.CreatedAt})
	if err != nil {
		t.Fatalf("GetPendingTickets failed: %v", err)
	}
	if len(got) != 2 || got[0].TicketID != b.TicketID || got[1].TicketID != c.TicketID {
		t.Errorf("date window mismatch: got %v", ids(got))
	}

	got, err = m.GetPendingTickets(ctx, PendingQuery{ZoneID: "Z1", End: a.CreatedAt})
	if err != nil {
		t.Fatalf("GetPendingTickets failed: %v", err)
	}
	if len(got) != 1 || got[0].TicketID != a.TicketID {
		t.Errorf("end bound mismatch: got %v", ids(got))
	}

	if _, err := m.GetPendingTickets(ctx, PendingQuery{Start: c.CreatedAt, End: a.CreatedAt}); !errors.Is(err, fleet.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for inverted window, got %v", err)
	}
	if _, err := m.GetPendingTickets(ctx, PendingQuery{Status: "closed"}); !errors.Is(err, fleet.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestHistoryStatsAndDelete(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	a := mustCreate(t, m, "P1", "Z1")
	mustCreate(t, m, "P2", "Z1")
	mustCreate(t, m, "P3", "Z2")
	if _, err := m.AssignTicket(ctx, a.TicketID, "crew-1"); err != nil {
		t.Fatalf("AssignTicket failed: %v", err)
	}

	history, err := m.GetMaintenanceHistory(ctx, "Z1", 0)
	if err != nil {
		t.Fatalf("GetMaintenanceHistory failed: %v", err)
	}
	if got := ids(history); len(got) != 2 || got[0] != "P2" || got[1] != "P1" {
		t.Errorf("history mismatch: got %v, want [P2 P1]", got)
	}

	mine, err := m.GetTicketsByAssignee(ctx, "crew-1", 10)
	if err != nil {
		t.Fatalf("GetTicketsByAssignee failed: %v", err)
	}
	if len(mine) != 1 || mine[0].TicketID != a.TicketID {
		t.Errorf("assignee tickets mismatch: got %v", ids(mine))
	}

	stats, err := m.GetMaintenanceStatistics(ctx, "all zones")
	if err != nil {
		t.Fatalf("GetMaintenanceStatistics failed: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Assigned != 1 {
		t.Errorf("stats mismatch: got %+v", stats)
	}

	if err := m.DeleteTicket(ctx, a.TicketID); err != nil {
		t.Fatalf("DeleteTicket failed: %v", err)
	}
	if _, err := m.GetTicketByID(ctx, a.TicketID); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.DeleteTicket(ctx, a.TicketID); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestIsAllZones(t *testing.T) {
	for _, s := range []string{"all zones", "All Zones", "ALL_ZONES", "all-zones", "allzones", "all", "ALL", "", "*"} {
		if !IsAllZones(s) {
			t.Errorf("IsAllZones(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"Z1", "zone-all", "all zone 1"} {
		if IsAllZones(s) {
			t.Errorf("IsAllZones(%q) = true, want false", s)
		}
	}
}
