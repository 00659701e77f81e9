package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

const (
	defaultTelemetryLimit = 100
	maxTelemetryBody      = 64 << 10
)

func (s *Server) telemetryRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.recordTelemetry)
	r.Route("/pole/{poleId}", func(r chi.Router) {
		r.Get("/", s.poleTelemetry)
		r.Get("/latest", s.latestTelemetry)
		r.Get("/range", s.telemetryRange)
		r.Get("/power", s.powerUsage)
	})
	r.Get("/{telemetryId}", s.getTelemetry)
	return r
}

// recordTelemetry runs the bus ingestion path for a posted payload, but
// reports decode failures to the caller
func (s *Server) recordTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTelemetryBody))
	if err != nil {
		render.Render(w, r, s.errInvalidRequest(err))
		return
	}
	sample, err := s.deps.Ingestor.Ingest(r.Context(), body, s.now())
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, created(sample))
}

func (s *Server) poleTelemetry(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTelemetryLimit)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if limit == 0 {
		limit = defaultTelemetryLimit
	}
	samples, err := s.deps.Store.TelemetryByPole(r.Context(), chi.URLParam(r, "poleId"), limit)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderSamples(w, r, samples)
}

func (s *Server) latestTelemetry(w http.ResponseWriter, r *http.Request) {
	pole := chi.URLParam(r, "poleId")
	sample, err := s.deps.Store.LatestTelemetry(r.Context(), pole)
	if err != nil {
		render.Render(w, r, s.errRender(fmt.Errorf("telemetry for pole %s: %w", pole, err)))
		return
	}
	render.Render(w, r, ok(sample))
}

func (s *Server) telemetryRange(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	end, err := queryEndTime(r, "end")
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if start.IsZero() || end.IsZero() {
		render.Render(w, r, s.errRender(fmt.Errorf("%w: start and end are required", fleet.ErrInvalidInput)))
		return
	}
	if end.Before(start) {
		render.Render(w, r, s.errRender(fmt.Errorf("%w: end is before start", fleet.ErrInvalidInput)))
		return
	}

	samples, err := s.deps.Store.TelemetryRange(r.Context(), chi.URLParam(r, "poleId"), start, end)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	renderSamples(w, r, samples)
}

func (s *Server) powerUsage(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	if hours == 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	usage, err := s.deps.Store.AveragePower(r.Context(), chi.URLParam(r, "poleId"), since)
	if err != nil {
		render.Render(w, r, s.errRender(err))
		return
	}
	render.Render(w, r, ok(usage))
}

func (s *Server) getTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "telemetryId")
	sample, err := s.deps.Store.GetTelemetry(r.Context(), id)
	if err != nil {
		render.Render(w, r, s.errRender(fmt.Errorf("telemetry %s: %w", id, err)))
		return
	}
	render.Render(w, r, ok(sample))
}

func renderSamples(w http.ResponseWriter, r *http.Request, samples []*storage.TelemetrySample) {
	if samples == nil {
		samples = []*storage.TelemetrySample{}
	}
	render.Render(w, r, ok(samples))
}
