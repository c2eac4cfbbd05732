package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/export"
	"github.com/vk/pkcfg/internal/ledger"
	"github.com/vk/pkcfg/internal/report"
	"github.com/vk/pkcfg/internal/schedule"
	"github.com/vk/pkcfg/internal/validate"
)

const (
	// DefaultMaxBody limits request bodies.
	DefaultMaxBody = 4 << 20

	shutdownTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Validator *validate.Validator
	// Ledger, when set, records every validation and plan.
	Ledger  *ledger.Store
	MaxBody int64
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	router *httprouter.Router
	ctx    context.Context
}

// New builds the router. ctx carries the logger and is the parent of every
// request's work.
func New(ctx context.Context, opts Options) *Server {
	if opts.Validator == nil {
		opts.Validator = validate.New()
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	s := &Server{opts: opts, router: httprouter.New(), ctx: ctx}
	s.router.GET("/health", s.health)
	s.router.POST("/v1/validate", s.validate)
	s.router.POST("/v1/plan", s.plan)
	s.router.POST("/v1/export/:format", s.export)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	logger := ctxlog.FromContext(s.ctx)
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("API server starting", "address", l.Addr().String())
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("Shutting down API server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Debug("API server shut down gracefully.")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctxlog.FromContext(s.ctx).Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rep, ok := s.readReport(w, r)
	if !ok {
		return
	}
	s.record(r.Context(), rep)
	writeJSON(w, http.StatusOK, report.Summarize(rep))
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	epochs := 0
	if v := r.URL.Query().Get("epochs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid epochs %q", v))
			return
		}
		epochs = n
	}
	rep, ok := s.readValid(w, r)
	if !ok {
		return
	}
	p, err := schedule.Build(rep.Experiment, schedule.Options{Epochs: epochs})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.opts.Ledger != nil {
		if _, err := s.opts.Ledger.RecordPlan(r.Context(), rep.Filename, rep.File, p); err != nil {
			ctxlog.FromContext(s.ctx).Error("Failed to record plan", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, schedule.Summarize(p))
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	format, err := export.ParseFormat(ps.ByName("format"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rep, ok := s.readValid(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, format, rep.Experiment, rep.Graph); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// readReport parses and validates the request body. The name query
// parameter sets the file name used in diagnostics.
func (s *Server) readReport(w http.ResponseWriter, r *http.Request) (*validate.Report, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return nil, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "request.cfg"
	}

	ctx := ctxlog.With(r.Context(), "request", r.URL.Path)
	f, diags := cfgfile.Parse(body, name)
	if diags.HasErrors() {
		return &validate.Report{Filename: name, File: f, Diagnostics: diags}, true
	}
	rep := s.opts.Validator.Validate(ctx, f)
	rep.Diagnostics = append(diags, rep.Diagnostics...)
	return rep, true
}

// readValid is readReport for endpoints that need a valid configuration.
// Invalid ones are answered with the report and 422.
func (s *Server) readValid(w http.ResponseWriter, r *http.Request) (*validate.Report, bool) {
	rep, ok := s.readReport(w, r)
	if !ok {
		return nil, false
	}
	s.record(r.Context(), rep)
	if rep.HasErrors() {
		writeJSON(w, http.StatusUnprocessableEntity, report.Summarize(rep))
		return nil, false
	}
	return rep, true
}

func (s *Server) record(ctx context.Context, rep *validate.Report) {
	if s.opts.Ledger == nil {
		return
	}
	if _, err := s.opts.Ledger.RecordValidation(ctx, rep); err != nil {
		ctxlog.FromContext(s.ctx).Error("Failed to record validation", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
