package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// Response is the success envelope
type Response struct {
	HTTPStatusCode int  `json:"-"`
	Success        bool `json:"success"`
	Data           any  `json:"data"`
}

func (resp *Response) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, resp.HTTPStatusCode)
	return nil
}

func ok(data any) render.Renderer {
	return &Response{HTTPStatusCode: http.StatusOK, Success: true, Data: data}
}

func created(data any) render.Renderer {
	return &Response{HTTPStatusCode: http.StatusCreated, Success: true, Data: data}
}

// ErrResponse is the failure envelope
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	Success        bool   `json:"success"`
	ErrorText      string `json:"error"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrInvalidCommand),
		errors.Is(err, fleet.ErrInvalidStatus),
		errors.Is(err, fleet.ErrInvalidInput),
		errors.Is(err, fleet.ErrDecodeFailed):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrEmptyZone):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fleet.ErrDuplicateTicket), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrDispatchFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) errRender(err error) render.Renderer {
	code := statusFor(err)
	text := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		text = http.StatusText(code)
	}
	return &ErrResponse{Err: err, HTTPStatusCode: code, ErrorText: text}
}

func (s *Server) errInvalidRequest(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, ErrorText: err.Error()}
}
