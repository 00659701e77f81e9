// Package api exposes the fleet subsystem over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/dispatch"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/faults"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/maintenance"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Dispatcher issues ON/OFF commands
type Dispatcher interface {
	DispatchToPole(ctx context.Context, poleID, command string) (*dispatch.Result, error)
	DispatchToZone(ctx context.Context, zoneID, command string) (*dispatch.ZoneResult, error)
}

// Tickets is the maintenance ticket manager
type Tickets interface {
	CreateTicket(ctx context.Context, req maintenance.CreateRequest) (*storage.Ticket, error)
	AssignTicket(ctx context.Context, ticketID, assignee string) (*storage.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ticketID, status string) (*storage.Ticket, error)
	GetPendingTickets(ctx context.Context, q maintenance.PendingQuery) ([]*storage.Ticket, error)
	GetMaintenanceHistory(ctx context.Context, zoneID string, limit int) ([]*storage.Ticket, error)
	GetTicketsByAssignee(ctx context.Context, assignee string, limit int) ([]*storage.Ticket, error)
	GetTicketByID(ctx context.Context, ticketID string) (*storage.Ticket, error)
	GetMaintenanceStatistics(ctx context.Context, zoneID string) (*storage.TicketStats, error)
	DeleteTicket(ctx context.Context, ticketID string) error
}

// Faults is the fault service
type Faults interface {
	ReportFault(ctx context.Context, r faults.Report) (*storage.Fault, error)
	ResolveFault(ctx context.Context, faultID string) (*storage.Fault, error)
	GetFault(ctx context.Context, faultID string) (*storage.Fault, error)
	OpenFaults(ctx context.Context, limit int) ([]*storage.Fault, error)
	FaultsByPole(ctx context.Context, poleID string) ([]*storage.Fault, error)
	FaultsByZone(ctx context.Context, zoneID string) ([]*storage.Fault, error)
	Statistics(ctx context.Context, zoneID string) (*storage.FaultStats, error)
	DeleteFault(ctx context.Context, faultID string) error
}

// Ingestor records telemetry posted over HTTP
type Ingestor interface {
	Ingest(ctx context.Context, payload []byte, receivedAt time.Time) (*storage.TelemetrySample, error)
}

// Store is the subset of the record store read directly by handlers
type Store interface {
	GetTelemetry(ctx context.Context, telemetryID string) (*storage.TelemetrySample, error)
	TelemetryByPole(ctx context.Context, poleID string, limit int) ([]*storage.TelemetrySample, error)
	LatestTelemetry(ctx context.Context, poleID string) (*storage.TelemetrySample, error)
	TelemetryRange(ctx context.Context, poleID string, start, end time.Time) ([]*storage.TelemetrySample, error)
	AveragePower(ctx context.Context, poleID string, since time.Time) (*storage.PowerUsage, error)
	ZoneStats(ctx context.Context, zoneID string) (*storage.ZoneStats, error)
	ListAssets(ctx context.Context, zoneID string) ([]*storage.Asset, error)
	TouchController(ctx context.Context, controllerID string, at time.Time) error
	InsertRule(ctx context.Context, r *storage.AutomationRule) error
	RulesByZone(ctx context.Context, zoneID string, activeOnly bool) ([]*storage.AutomationRule, error)
	ToggleRule(ctx context.Context, ruleID string) (*storage.AutomationRule, error)
	DeleteRule(ctx context.Context, ruleID string) error
}

// BusStatus reports broker connectivity
type BusStatus interface {
	IsConnected() bool
}

// Deps are the components served by the API
type Deps struct {
	Dispatcher Dispatcher
	Tickets    Tickets
	Faults     Faults
	Ingestor   Ingestor
	Store      Store
	Bus        BusStatus
	Live       http.Handler // WebSocket telemetry feed, optional
}

// Config holds API settings
type Config struct {
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// DefaultConfig returns default API settings
func DefaultConfig() Config {
	return Config{RequestTimeout: 30 * time.Second}
}

// Server routes HTTP requests to the fleet components
type Server struct {
	config Config
	deps   Deps
	log    *slog.Logger
	now    func() time.Time
}

// New creates an API server
func New(config Config, deps Deps) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		config: config,
		deps:   deps,
		log:    logger.With("component", "api"),
		now:    now,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.deps.Live != nil {
		// no timeout: the connection is long-lived
		r.Handle("/ws/telemetry", s.deps.Live)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/poles/{poleId}/control", s.controlPole)
		r.Mount("/zones", s.zoneRouter())
		r.Mount("/maintenance", s.maintenanceRouter())
		r.Mount("/telemetry", s.telemetryRouter())
		r.Mount("/faults", s.faultRouter())
		r.Mount("/rules", s.ruleRouter())
		r.Post("/controllers/{controllerId}/heartbeat", s.heartbeat)
	})
	return r
}

type healthResponse struct {
	Status       string    `json:"status"`
	BusConnected bool      `json:"bus_connected"`
	Time         time.Time `json:"time"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Time: s.now().UTC()}
	if s.deps.Bus != nil {
		resp.BusConnected = s.deps.Bus.IsConnected()
	}
	render.JSON(w, r, resp)
}
