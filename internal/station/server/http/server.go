// Package http serves the station control API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/notifier"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/log"
	"github.com/autopeer-io/multiprog/pkg/options"
)

const maxBodyBytes = 1 << 20

var _ server.Server = (*Server)(nil)

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	ctrl    server.Controller
}

const apiPrefix = "/api/v1"

// NewServer builds the control API. metrics may be nil.
func NewServer(opts *options.HttpOptions, ctrl server.Controller, metrics http.Handler) *Server {
	s := &Server{options: opts, ctrl: ctrl}

	r := mux.NewRouter()
	r.Use(logRequests)

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness Probe
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	// API routes sit on the root router so a method mismatch answers 405.
	api := func(path string, h http.HandlerFunc, method string) {
		r.HandleFunc(apiPrefix+path, h).Methods(method)
	}
	api("/batches", s.handleSubmit, http.MethodPost)
	api("/start", s.handleStart, http.MethodPost)
	api("/abort", s.handleAbort, http.MethodPost)
	api("/frames/reset", s.handleFrame(server.FrameReset), http.MethodPost)
	api("/frames/raw/{n}", s.handleFrame(server.FrameRaw), http.MethodPost)
	api("/frames/bootloader/{n}", s.handleFrame(server.FrameBootloader), http.MethodPost)
	api("/frames/service/{n}", s.handleFrame(server.FrameService), http.MethodPost)
	api("/link", s.handleOpenLink, http.MethodPost)
	api("/link", s.handleCloseLink, http.MethodDelete)
	api("/status", s.handleStatus, http.MethodGet)
	api("/status", s.handleClearStatus, http.MethodDelete)

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(ctx context.Context) error {
	network := s.options.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

type submitRequest struct {
	batch.Manifest
	Start bool `json:"start"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if q := r.URL.Query().Get("start"); q != "" {
		start, err := strconv.ParseBool(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.Start = req.Start || start
	}

	sub, err := s.ctrl.Submit(r.Context(), &req.Manifest, req.Start)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	confirm := false
	if q := r.URL.Query().Get("confirm"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		confirm = v
	}
	if err := s.ctrl.Abort(confirm); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleFrame(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if v, ok := mux.Vars(r)["n"]; ok {
			parsed, err := strconv.ParseInt(v, 0, 0)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			n = int(parsed)
		}

		f, err := server.BuildFrame(kind, n)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.ctrl.SendFrame(f); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"frame": f.String()})
	}
}

func (s *Server) handleOpenLink(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.OpenLink(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseLink(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CloseLink(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearStatus(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Ready(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusFor maps station errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrInvalidManifest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrConfirmationRequired),
		errors.Is(err, orchestrator.ErrQueueEmpty),
		errors.Is(err, link.ErrClosed),
		errors.Is(err, link.ErrAlreadyOpen),
		errors.Is(err, notifier.ErrBoardBusy),
		errors.Is(err, server.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.code, "duration", time.Since(start))
	})
}
