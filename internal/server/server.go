// Package server wires together HTTP routes, dependency injection, and business
// logic. Go's net/http package builds servers via handler functions which
// receive http.ResponseWriter + *http.Request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/normalize"
	"github.com/dharsanguruparan/VoteDrop/internal/pipeline"
	"github.com/dharsanguruparan/VoteDrop/internal/processing"
	"github.com/dharsanguruparan/VoteDrop/internal/signing"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

// Server hosts HTTP handlers for VoteDrop. It stitches together configuration,
// the dataset pipeline, background job dispatch, and session signing.
type Server struct {
	cfg        *config.Config
	pipeline   *pipeline.Pipeline
	dispatcher processing.Dispatcher
	signer     *signing.Signer
	links      UploadLinker
	log        *logrus.Entry
	once       sync.Once
}

// UploadLinker hands out temporary download links for archived uploads.
type UploadLinker interface {
	PresignUploadURL(ctx context.Context, datasetID, name string, expiry time.Duration) (string, error)
}

// New creates a configured server.
func New(cfg *config.Config, p *pipeline.Pipeline, dispatcher processing.Dispatcher, signer *signing.Signer, logger logrus.FieldLogger) *Server {
	return &Server{
		cfg:        cfg,
		pipeline:   p,
		dispatcher: dispatcher,
		signer:     signer,
		log:        logging.Component(logger, "http"),
	}
}

// WithUploadLinks enables GET /datasets/{id}/source.
func (s *Server) WithUploadLinks(links UploadLinker) *Server {
	s.links = links
	return s
}

// starter is implemented by dispatchers that run their own goroutines.
type starter interface {
	Start(ctx context.Context)
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.once.Do(func() {
		// sync.Once ensures the in-process workers start only once even if
		// Serve is called multiple times in tests.
		if st, ok := s.dispatcher.(starter); ok {
			st.Start(ctx)
		}
	})
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		// When the context is cancelled we gracefully shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the full route tree wrapped in the shared middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// HandleFunc registers path-specific handler functions on the ServeMux.
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/admin/login", s.handleLogin)
	mux.HandleFunc("/results", s.handleResults)
	mux.Handle("/datasets", s.requireAdmin(http.HandlerFunc(s.handleDatasets)))
	mux.Handle("/datasets/", s.requireAdmin(http.HandlerFunc(s.handleDatasetRoute)))
	mux.Handle("/votes", s.requireAdmin(http.HandlerFunc(s.handleVotes)))
	return s.withLogging(cors(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder remembers the status code written so it can be logged.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request completed")
	})
}

// cors lets the admin dashboard call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondPipelineError maps domain errors onto status codes.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "dataset not found")
	case errors.Is(err, pipeline.ErrActionUnavailable), errors.Is(err, pipeline.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, "dataset changed concurrently, try again")
	case errors.Is(err, normalize.ErrMalformed),
		errors.Is(err, normalize.ErrEmptyOrNotAList),
		errors.Is(err, normalize.ErrInvalidRecord):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, processing.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	// ResponseWriter exposes headers + status writing; once WriteHeader is
	// called we must send the body, so always set headers first.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode json failed")
	}
}

// splitPath turns "/datasets/{id}/issues" into ["{id}", "issues"].
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
