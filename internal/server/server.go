// Package server exposes the speech driver over HTTP: a small control API,
// a websocket stream of rig weights and bus events, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-gl/mathgl/mgl32"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/logging"
	"github.com/normanking/speechsync/internal/speech"
	"github.com/normanking/speechsync/internal/tts"
	"github.com/rs/zerolog"
)

// Runner executes fn on the goroutine that owns the driver.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// WeightSource provides the current target weights by name.
type WeightSource interface {
	Snapshot() map[string]float32
}

// DeltaSource blends morph target displacements at the current weights.
type DeltaSource interface {
	Deltas(fullScale float32) []mgl32.Vec3
}

// VoiceLister asks the TTS server for its installed voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// LogSource provides recent log entries.
type LogSource interface {
	History(limit int) []logging.LogEntry
}

// Options wires the server to the rest of the application. Driver, Runner
// and Catalog are required.
type Options struct {
	Driver  *speech.Driver
	Runner  Runner
	Catalog *tts.Catalog
	Voices  VoiceLister
	Weights WeightSource
	Deltas  DeltaSource
	Logs    LogSource
	Bus     *bus.EventBus
	Metrics http.Handler

	// DeltaScale is the weight at which a morph target is fully applied,
	// matching the driver's weight scale. Default 1.
	DeltaScale float32

	// StreamInterval is how often /ws clients receive weights. Default 33ms.
	StreamInterval time.Duration
}

// Server is the control API.
type Server struct {
	opts   Options
	hub    *Hub
	router chi.Router
	logger zerolog.Logger
}

// New builds the router. Call Hub().Run to start streaming.
func New(opts Options, logger zerolog.Logger) (*Server, error) {
	if opts.Driver == nil || opts.Runner == nil || opts.Catalog == nil {
		return nil, errors.New("server: driver, runner and catalog are required")
	}
	if opts.DeltaScale <= 0 {
		opts.DeltaScale = 1
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 33 * time.Millisecond
	}

	s := &Server{
		opts:   opts,
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.hub = NewHub(opts.Weights, opts.Bus, opts.StreamInterval, s.logger)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/speak", s.handleSpeak)
	r.Post("/stop", s.handleStop)
	r.Get("/voices", s.handleVoices)
	r.Get("/weights", s.handleWeights)
	r.Get("/deltas", s.handleDeltas)
	r.Get("/logs", s.handleLogs)
	r.Get("/ws", s.hub.ServeHTTP)

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
