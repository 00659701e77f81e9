package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/faults"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

func (s *Server) faultRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.reportFault)
	r.Get("/open", s.openFaults)
	r.Get("/pole/{poleId}", s.poleFaults)
	r.Get("/zone/{zoneId}", s.zoneFaults)
	r.Get("/zone/{zoneId}/stats", s.faultStats)
	r.Route("/{faultId}", func(r chi.Router) {
		r.Get("/", s.getFault)
		r.Delete("/", s.deleteFault)
		r.Patch("/resolve", s.resolveFault)
	})
	return r
}

type reportRequest struct {
	faults.Report
}

func (req *reportRequest) Bind(r *http.Request) error { return nil }

func (s *Server) reportFault(w http.ResponseWriter, r *http.Request) {
	req := &reportRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	f, err := s.deps.Faults.ReportFault(r.Context(), req.Report)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, created(f))
}

func (s *Server) openFaults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	list, err := s.deps.Faults.OpenFaults(r.Context(), limit)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderFaults(w, r, list)
}

func (s *Server) poleFaults(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Faults.FaultsByPole(r.Context(), chi.URLParam(r, "poleId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderFaults(w, r, list)
}

func (s *Server) zoneFaults(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Faults.FaultsByZone(r.Context(), chi.URLParam(r, "zoneId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderFaults(w, r, list)
}

func (s *Server) faultStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Faults.Statistics(r.Context(), chi.URLParam(r, "zoneId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(stats))
}

func (s *Server) getFault(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Faults.GetFault(r.Context(), chi.URLParam(r, "faultId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(f))
}

func (s *Server) resolveFault(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Faults.ResolveFault(r.Context(), chi.URLParam(r, "faultId"))
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(f))
}

func (s *Server) deleteFault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "faultId")
	if err := s.deps.Faults.DeleteFault(r.Context(), id); err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(map[string]string{"fault_id": id}))
}

func renderFaults(w http.ResponseWriter, r *http.Request, list []*storage.Fault) {
	if list == nil {
		list = []*storage.Fault{}
	}
	render.Render(w, r, ok(list))
}
