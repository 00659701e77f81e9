package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/maintenance"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

func (s *Server) maintenanceRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/schedule", s.scheduleTicket)
	r.Get("/pending", s.pendingTickets)
	r.Get("/history", s.ticketHistory)
	r.Get("/stats", s.ticketStats)
	r.Get("/assignee/{name}", s.assigneeTickets)
	r.Route("/{ticketId}", func(r chi.Router) {
		r.Get("/", s.getTicket)
		r.Delete("/", s.deleteTicket)
		r.Patch("/assign", s.assignTicket)
		r.Patch("/status", s.updateTicketStatus)
	})
	return r
}

type scheduleRequest struct {
	maintenance.CreateRequest
}

func (req *scheduleRequest) Bind(r *http.Request) error { return nil }

type assignRequest struct {
	AssignedTo string `json:"assignedTo"`
	Assignee   string `json:"assigned_to"`
}

func (req *assignRequest) Bind(r *http.Request) error {
	if req.AssignedTo == "" {
		req.AssignedTo = req.Assignee
	}
	if strings.TrimSpace(req.AssignedTo) == "" {
		return fmt.Errorf("%w: assignedTo is required", fleet.ErrInvalidInput)
	}
	return nil
}

type statusRequest struct {
	Status string `json:"status"`
}

func (req *statusRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(req.Status) == "" {
		return fmt.Errorf("%w: status is required", fleet.ErrInvalidStatus)
	}
	return nil
}

func (s *Server) scheduleTicket(w http.ResponseWriter, r *http.Request) {
	req := &scheduleRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	t, err := s.deps.Tickets.CreateTicket(r.Context(), req.CreateRequest)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, created(t))
}

func (s *Server) assignTicket(w http.ResponseWriter, r *http.Request) {
	req := &assignRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	t, err := s.deps.Tickets.AssignTicket(r.Context(), chi.URLParam(r, "ticketId"), req.AssignedTo)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(t))
}

func (s *Server) updateTicketStatus(w http.ResponseWriter, r *http.Request) {
	req := &statusRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	t, err := s.deps.Tickets.UpdateTicketStatus(r.Context(), chi.URLParam(r, "ticketId"), req.Status)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(t))
}

func (s *Server) pendingTickets(w http.ResponseWriter, r *http.Request) {
	q := maintenance.PendingQuery{
		ZoneID: zoneParam(r),
		Status: r.URL.Query().Get("status"),
	}
	var err error
	if q.Limit, err = queryInt(r, "limit", 0); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if q.Completed, err = queryBool(r, "is_completed"); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if q.Start, err = queryTime(r, "start_date"); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if q.End, err = queryEndTime(r, "end_date"); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}

	tickets, err := s.deps.Tickets.GetPendingTickets(r.Context(), q)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderTickets(w, r, tickets)
}

func (s *Server) ticketHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	tickets, err := s.deps.Tickets.GetMaintenanceHistory(r.Context(), zoneParam(r), limit)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderTickets(w, r, tickets)
}

func (s *Server) assigneeTickets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	tickets, err := s.deps.Tickets.GetTicketsByAssignee(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderTickets(w, r, tickets)
}

func (s *Server) ticketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Tickets.GetMaintenanceStatistics(r.Context(), zoneParam(r))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(stats))
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tickets.GetTicketByID(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(t))
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ticketId")
	if err := s.deps.Tickets.DeleteTicket(r.Context(), id); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(map[string]string{"ticket_id": id}))
}

func renderTickets(w http.ResponseWriter, r *http.Request, tickets []*storage.Ticket) {
	if tickets == nil {
		tickets = []*storage.Ticket{}
	}
	render.Render(w, r, ok(tickets))
}
