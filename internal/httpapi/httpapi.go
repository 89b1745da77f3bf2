// Package httpapi exposes orchestrator status and control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/orchestrator"
	"github.com/rbright/parley/internal/recognition"
)

const maxBodyBytes = 64 * 1024

// Controller is the orchestrator surface served over HTTP.
type Controller interface {
	Status() orchestrator.Status
	Turns() []conversation.Turn
	SetContinuous(ctx context.Context, on bool) error
	Submit(ctx context.Context, text string) error
	Replay(ctx context.Context, id string) error
}

type Handler struct {
	logger     *slog.Logger
	controller Controller
}

// NewRouter builds the API routes. metrics may be nil.
func NewRouter(logger *slog.Logger, controller Controller, metrics http.Handler) chi.Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{logger: logger, controller: controller}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(v chi.Router) {
		v.Get("/status", h.Status)
		v.Get("/turns", h.Turns)
		v.Post("/turns/{id}/replay", h.Replay)
		v.Post("/continuous", h.SetContinuous)
		v.Post("/messages", h.Submit)
	})
	return r
}

func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) Turns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"turns": h.controller.Turns()})
}

func (h *Handler) SetContinuous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Enabled == nil {
		h.fail(w, r, badRequest(errors.New("enabled is required")))
		return
	}
	if err := h.controller.SetContinuous(r.Context(), *req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.controller.Submit(r.Context(), req.Text); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.controller.Status())
}

func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Replay(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.controller.Status())
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, conversation.ErrEmptyText),
		errors.Is(err, orchestrator.ErrNotAssistantTurn):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrContinuousActive),
		errors.Is(err, recognition.ErrUnsupported):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("http request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err.Error(),
		)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs the API on listener until ctx is done.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()

	select {
	case err := <-errc:
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}
