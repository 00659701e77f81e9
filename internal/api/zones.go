package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

func (s *Server) zoneRouter() chi.Router {
	r := chi.NewRouter()
	r.Route("/{zoneId}", func(r chi.Router) {
		r.Post("/control", s.controlZone)
		r.Get("/stats", s.zoneStats)
		r.Get("/poles", s.zonePoles)
	})
	return r
}

func (s *Server) zoneStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.ZoneStats(r.Context(), chi.URLParam(r, "zoneId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(stats))
}

func (s *Server) zonePoles(w http.ResponseWriter, r *http.Request) {
	poles, err := s.deps.Store.ListAssets(r.Context(), chi.URLParam(r, "zoneId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if poles == nil {
		poles = []*storage.Asset{}
	}
	render.Render(w, r, ok(poles))
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "controllerId")
	at := s.now()
	if err := s.deps.Store.TouchController(r.Context(), id, at); err != nil {
		render.Render(w, r, s.errRender(fmt.Errorf("controller %s: %w", id, err)))
		return
	}
	render.Render(w, r, ok(map[string]any{"controller_id": id, "last_seen": at.UTC()}))
}

// --- Automation rules ---

type ruleRequest struct {
	ZoneID    string         `json:"zone_id"`
	Name      string         `json:"name"`
	Condition json.RawMessage `json:"condition"`
	Action    string         `json:"action"`
	IsActive  *bool          `json:"is_active"`
}

func (req *ruleRequest) Bind(r *http.Request) error {
	req.ZoneID = strings.TrimSpace(req.ZoneID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ZoneID == "" || req.Name == "" {
		return fmt.Errorf("%w: zone_id and name are required", fleet.ErrInvalidInput)
	}
	if len(req.Condition) == 0 || string(req.Condition) == "null" {
		req.Condition = json.RawMessage(`{}`)
	}
	return nil
}

func (s *Server) ruleRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.createRule)
	r.Get("/zone/{zoneId}", s.zoneRules)
	r.Patch("/{ruleId}/toggle", s.toggleRule)
	r.Delete("/{ruleId}", s.deleteRule)
	return r
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	req := &ruleRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	action, err := fleet.ParseCommand(req.Action)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}

	rule := &storage.AutomationRule{
		RuleID:    uuid.NewString(),
		ZoneID:    req.ZoneID,
		Name:      req.Name,
		Condition: req.Condition,
		Action:    string(action),
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: s.now(),
	}
	if err := s.deps.Store.InsertRule(r.Context(), rule); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, created(rule))
}

func (s *Server) zoneRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	rules, err := s.deps.Store.RulesByZone(r.Context(), chi.URLParam(r, "zoneId"), activeOnly)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if rules == nil {
		rules = []*storage.AutomationRule{}
	}
	render.Render(w, r, ok(rules))
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleId")
	rule, err := s.deps.Store.ToggleRule(r.Context(), id)
	if err != nil {
		render.Render(w, r, s.errRender(fmt.Errorf("rule %s: %w", id, err)))
		return
	}
	render.Render(w, r, ok(rule))
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleId")
	if err := s.deps.Store.DeleteRule(r.Context(), id); err != nil {
		render.Render(w, r, s.errRender(fmt.Errorf("rule %s: %w", id, err)))
		return
	}
	render.Render(w, r, ok(map[string]string{"rule_id": id}))
}
