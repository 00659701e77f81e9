// Package maintenance owns the maintenance ticket lifecycle: creation with
// duplicate suppression, assignment, status changes and zone-scoped queries.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Store is the ticket slice of the record store
type Store interface {
	InsertTicket(ctx context.Context, t *storage.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*storage.Ticket, error)
	AssignTicket(ctx context.Context, ticketID, assignee string, at time.Time) (*storage.Ticket, error)
	SetTicketStatus(ctx context.Context, ticketID string, status fleet.TicketStatus, at time.Time) (*storage.Ticket, error)
	QueryTickets(ctx context.Context, f storage.TicketFilter) ([]*storage.Ticket, error)
	TicketStats(ctx context.Context, zoneID string) (*storage.TicketStats, error)
	DeleteTicket(ctx context.Context, ticketID string) error
}

// Config holds manager configuration
type Config struct {
	DefaultLimit int
	MaxLimit     int
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultConfig returns default manager configuration
func DefaultConfig() Config {
	return Config{DefaultLimit: 50, MaxLimit: 500}
}

// StatusAll disables status filtering in pending queries
const StatusAll = "all"

// CreateRequest describes a new ticket
type CreateRequest struct {
	Description string `json:"description"`
	PoleID      string `json:"pole_id"`
	ZoneID      string `json:"zone_id"`
	SLAHours    int    `json:"sla_hours"`
	FaultID     string `json:"fault_id,omitempty"`
}

// PendingQuery selects tickets for the pending view
type PendingQuery struct {
	ZoneID    string // a zone id, or an "all zones" wildcard
	Limit     int
	Status    string // "", "all", or one ticket status
	Completed bool
	Start     time.Time
	End       time.Time
}

// Manager implements the ticket state machine on top of the store
type Manager struct {
	config Config
	store  Store
	log    *slog.Logger
	now    func() time.Time
}

// New creates a manager
func New(config Config, store Store) *Manager {
	def := DefaultConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = def.MaxLimit
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		config: config,
		store:  store,
		log:    logger.With("component", "maintenance"),
		now:    now,
	}
}

// CreateTicket opens a pending ticket. A (pole, zone) pair that already has
// a non-completed ticket fails with fleet.ErrDuplicateTicket.
func (m *Manager) CreateTicket(ctx context.Context, req CreateRequest) (*storage.Ticket, error) {
	req.Description = strings.TrimSpace(req.Description)
	req.PoleID = strings.TrimSpace(req.PoleID)
	req.ZoneID = strings.TrimSpace(req.ZoneID)

	switch {
	case req.Description == "":
		return nil, fmt.Errorf("%w: description is required", fleet.ErrInvalidInput)
	case req.PoleID == "":
		return nil, fmt.Errorf("%w: pole_id is required", fleet.ErrInvalidInput)
	case req.ZoneID == "":
		return nil, fmt.Errorf("%w: zone_id is required", fleet.ErrInvalidInput)
	case req.SLAHours < 0:
		return nil, fmt.Errorf("%w: sla_hours must not be negative", fleet.ErrInvalidInput)
	}

	now := m.now()
	t := &storage.Ticket{
		TicketID:    uuid.NewString(),
		FaultID:     strings.TrimSpace(req.FaultID),
		PoleID:      req.PoleID,
		ZoneID:      req.ZoneID,
		Description: req.Description,
		SLAHours:    req.SLAHours,
		Status:      fleet.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.InsertTicket(ctx, t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("pole %s in zone %s: %w", req.PoleID, req.ZoneID, fleet.ErrDuplicateTicket)
		}
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	m.log.Info("ticket created", "ticket_id", t.TicketID, "pole_id", t.PoleID, "zone_id", t.ZoneID)
	return t, nil
}

// AssignTicket records the assignee and forces the status to assigned
func (m *Manager) AssignTicket(ctx context.Context, ticketID, assignee string) (*storage.Ticket, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", fleet.ErrInvalidInput)
	}

	t, err := m.store.AssignTicket(ctx, ticketID, assignee, m.now())
	if err != nil {
		return nil, m.wrap(ticketID, err)
	}

	m.log.Info("ticket assigned", "ticket_id", ticketID, "assigned_to", assignee)
	return t, nil
}

// UpdateTicketStatus writes any status of the fixed set. Unknown values
// fail with fleet.ErrInvalidStatus before the store is touched.
func (m *Manager) UpdateTicketStatus(ctx context.Context, ticketID, status string) (*storage.Ticket, error) {
	st, err := fleet.ParseTicketStatus(status)
	if err != nil {
		return nil, err
	}

	t, err := m.store.SetTicketStatus(ctx, ticketID, st, m.now())
	if err != nil {
		return nil, m.wrap(ticketID, err)
	}

	m.log.Info("ticket status changed", "ticket_id", ticketID, "status", st)
	return t, nil
}

// GetPendingTickets lists tickets oldest-created first. Status selection:
// "all" disables the predicate, a valid status selects exactly it,
// otherwise Completed selects completed tickets and the default is the
// open set.
func (m *Manager) GetPendingTickets(ctx context.Context, q PendingQuery) ([]*storage.Ticket, error) {
	f := storage.TicketFilter{
		ZoneID:      zoneFilter(q.ZoneID),
		Limit:       m.limit(q.Limit),
		CreatedFrom: q.Start,
		CreatedTo:   q.End,
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, fmt.Errorf("%w: end date is before start date", fleet.ErrInvalidInput)
	}

	status := strings.TrimSpace(q.Status)
	switch {
	case strings.EqualFold(status, StatusAll):
	case status != "":
		st, err := fleet.ParseTicketStatus(status)
		if err != nil {
			return nil, err
		}
		f.Statuses = []fleet.TicketStatus{st}
	case q.Completed:
		f.Statuses = []fleet.TicketStatus{fleet.StatusCompleted}
	default:
		f.Statuses = fleet.OpenStatuses
	}

	return m.store.QueryTickets(ctx, f)
}

// GetMaintenanceHistory lists tickets of any status, newest first
func (m *Manager) GetMaintenanceHistory(ctx context.Context, zoneID string, limit int) ([]*storage.Ticket, error) {
	return m.store.QueryTickets(ctx, storage.TicketFilter{
		ZoneID:      zoneFilter(zoneID),
		Limit:       m.limit(limit),
		NewestFirst: true,
	})
}

// GetTicketsByAssignee lists an assignee's tickets, newest first
func (m *Manager) GetTicketsByAssignee(ctx context.Context, assignee string, limit int) ([]*storage.Ticket, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", fleet.ErrInvalidInput)
	}
	return m.store.QueryTickets(ctx, storage.TicketFilter{
		AssignedTo:  assignee,
		Limit:       m.limit(limit),
		NewestFirst: true,
	})
}

// GetTicketByID retrieves one ticket
func (m *Manager) GetTicketByID(ctx context.Context, ticketID string) (*storage.Ticket, error) {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, m.wrap(ticketID, err)
	}
	return t, nil
}

// GetMaintenanceStatistics counts tickets per status for a zone or all zones
func (m *Manager) GetMaintenanceStatistics(ctx context.Context, zoneID string) (*storage.TicketStats, error) {
	return m.store.TicketStats(ctx, zoneFilter(zoneID))
}

// DeleteTicket removes a ticket
func (m *Manager) DeleteTicket(ctx context.Context, ticketID string) error {
	if err := m.store.DeleteTicket(ctx, ticketID); err != nil {
		return m.wrap(ticketID, err)
	}
	m.log.Info("ticket deleted", "ticket_id", ticketID)
	return nil
}

func (m *Manager) limit(n int) int {
	if n <= 0 {
		return m.config.DefaultLimit
	}
	if n > m.config.MaxLimit {
		return m.config.MaxLimit
	}
	return n
}

func (m *Manager) wrap(ticketID string, err error) error {
	switch {
	case errors.Is(err, fleet.ErrNotFound):
		return fmt.Errorf("ticket %s: %w", ticketID, fleet.ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("ticket %s: %w", ticketID, fleet.ErrDuplicateTicket)
	}
	return err
}

// IsAllZones reports whether zoneID is the "all zones" wildcard. Matching
// ignores case, spaces, hyphens and underscores; empty also means all.
func IsAllZones(zoneID string) bool {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, strings.ToLower(zoneID))
	return norm == "" || norm == "all" || norm == "allzones" || norm == "*"
}

func zoneFilter(zoneID string) string {
	if IsAllZones(zoneID) {
		return ""
	}
	return strings.TrimSpace(zoneID)
}
