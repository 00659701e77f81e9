package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

type controlRequest struct {
	Command string `json:"command"`
}

func (c *controlRequest) Bind(r *http.Request) error {
	if c.Command == "" {
		return fmt.Errorf("%w: command is required", fleet.ErrInvalidCommand)
	}
	return nil
}

func (s *Server) controlPole(w http.ResponseWriter, r *http.Request) {
	req := &controlRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}

	res, err := s.deps.Dispatcher.DispatchToPole(r.Context(), chi.URLParam(r, "poleId"), req.Command)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(res))
}

// controlZone always answers 200 once the fan-out ran, even when every
// pole failed; issuing and delivering a command are different guarantees
func (s *Server) controlZone(w http.ResponseWriter, r *http.Request) {
	req := &controlRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}

	res, err := s.deps.Dispatcher.DispatchToZone(r.Context(), chi.URLParam(r, "zoneId"), req.Command)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(res))
}
