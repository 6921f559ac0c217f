// Package server is an HTTP facade over the scan client: sync and async
// scan submission, result polling, and report retrieval, with an optional
// Redis verdict cache and Postgres scan history behind it. It exists so the
// scan workflow can be demoed and load-tested without every caller carrying
// credentials.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
	"github.com/cdot65/pan-ai-runtime-security/aisecurity/mock"
	"github.com/cdot65/pan-ai-runtime-security/history"
	"github.com/cdot65/pan-ai-runtime-security/resultcache"
	"github.com/cdot65/pan-ai-runtime-security/secrets"
)

const (
	serviceName = "panaisec-server"
	version     = "1.0.0"
)

// Scanner is the scan service surface the handlers need. Both
// *aisecurity.Client and *mock.Client satisfy it.
type Scanner interface {
	SyncScan(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error)
	AsyncScan(ctx context.Context, objects []aisecurity.AsyncScanObject) (*aisecurity.AsyncScanResponse, error)
	QueryByScanIDs(ctx context.Context, scanIDs []string) ([]aisecurity.ScanIDResult, error)
	QueryByReportIDs(ctx context.Context, reportIDs []string) ([]aisecurity.ThreatScanReportObject, error)
}

// Server routes scan requests to the configured scanner and optional
// supporting stores.
type Server struct {
	cfg      Config
	scanner  Scanner
	profile  aisecurity.AIProfile
	log      logrus.FieldLogger
	cache    *resultcache.Cache
	history  *history.Store
	recorder *history.Recorder
	router   *mux.Router
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithCache wires a shared verdict cache consulted before sync scans.
func WithCache(c *resultcache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithHistory wires the scan history store behind GET /v1/history.
func WithHistory(store *history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithRecorder wires the asynchronous history recorder sync verdicts are
// written through.
func WithRecorder(rec *history.Recorder) Option {
	return func(s *Server) { s.recorder = rec }
}

// New assembles a server around an existing scanner. Collaborators the
// options leave unset are simply not used: no cache means every scan goes to
// the scanner, no history means GET /v1/history reports unavailable.
func New(cfg Config, scanner Scanner, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		scanner: scanner,
		profile: cfg.Profile.AIProfile(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// NewFromConfig builds the full server from configuration: scanner (remote
// client or offline mock), verdict cache, and history store. A missing Redis
// degrades to no cache with a warning; a configured but unreachable database
// is an error, matching how much each store matters once configured.
func NewFromConfig(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var scanner Scanner
	if cfg.Mock {
		scanner = mock.NewClient()
		log.Info("mock mode enabled, serving verdicts from the offline mock client")
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			var store secrets.Store
			if os.Getenv(aisecurity.EnvAPIKeySecret) != "" {
				aws, err := secrets.NewAWSStore(ctx, secrets.AWSStoreOptions{})
				if err != nil {
					return nil, fmt.Errorf("secrets store: %w", err)
				}
				store = aws
			}
			key, err := secrets.ResolveAPIKey(ctx, store)
			if err != nil {
				return nil, err
			}
			apiKey = key
		}
		client, err := aisecurity.NewClient(aisecurity.Config{
			APIKey:   apiKey,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		scanner = client
	}

	opts := []Option{WithLogger(log)}

	if cfg.RedisURL != "" {
		cache, err := resultcache.New(resultcache.Options{URL: cfg.RedisURL, Logger: log})
		if err != nil {
			log.WithError(err).Warn("verdict cache unavailable, continuing without it")
		} else {
			log.Info("verdict cache enabled")
			opts = append(opts, WithCache(cache))
		}
	}

	if cfg.DatabaseURL != "" {
		store, err := history.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("history schema: %w", err)
		}
		log.Info("scan history enabled")
		rec := history.NewRecorder(store, history.WithRecorderLogger(log))
		opts = append(opts, WithHistory(store), WithRecorder(rec))
	}

	return New(cfg, scanner, opts...), nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/scans/sync", s.handleSyncScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/async", s.handleAsyncScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/{scan_id}/wait", s.handleScanWait).Methods(http.MethodGet)
	api.HandleFunc("/scans/{scan_id}", s.handleScanStatus).Methods(http.MethodGet)
	api.HandleFunc("/reports/{report_id}", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	return r
}

// Handler returns the full middleware-wrapped handler, ready to serve.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully: stop accepting, let in-flight requests finish, drain the
// history recorder, close the stores.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logrus.Fields{
			"listen":  s.cfg.Listen,
			"mock":    s.cfg.Mock,
			"version": version,
		}).Info("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		s.log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
		s.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("shutdown did not finish cleanly")
	}
	return s.Close(shutdownCtx)
}

// Close releases the server's collaborators. Safe to call once, after the
// HTTP listener has stopped.
func (s *Server) Close(ctx context.Context) error {
	var firstErr error
	if s.recorder != nil {
		if err := s.recorder.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c, ok := s.scanner.(interface{ Close() }); ok {
		c.Close()
	}
	return firstErr
}
