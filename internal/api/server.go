// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/config"
	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

const defaultRequestTimeout = 60 * time.Second

// Runner executes crawl runs over the configured sites.
type Runner interface {
	Run(ctx context.Context, req dispatcher.RunRequest) map[string]crawler.CrawlResult
	Sites() []crawler.SiteProfile
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecorder persists per-site results of finished runs.
type RunRecorder interface {
	RecordSiteRun(ctx context.Context, runID string, result crawler.CrawlResult) error
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Sites          []string `json:"sites,omitempty"`
	MaxArticles    int      `json:"max_articles,omitempty"`
	Workers        int      `json:"workers,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	DiscoverOnly   bool     `json:"discover_only,omitempty"`
}

type siteResponse struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Method  string `json:"method"`
}

// Server wires HTTP handlers to the run coordinator and run store.
type Server struct {
	router   chi.Router
	runner   Runner
	runs     *RunStore
	idGen    IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
	recorder RunRecorder

	baseCtx  context.Context
	wg       sync.WaitGroup
	draining atomic.Bool
}

// Option customizes a Server.
type Option func(*Server)

// WithRecorder persists finished site results in addition to the in-memory run store.
func WithRecorder(r RunRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithBaseContext sets the context background runs derive from. Canceling it
// cancels in-flight runs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	runs *RunStore,
	idGen IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if runs == nil {
		runs = NewRunStore(0)
	}
	s := &Server{
		runner:  runner,
		runs:    runs,
		idGen:   idGen,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		metrics.Init()
		r.Handle(path, metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sites", s.listSites)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Drain makes readyz fail so load balancers stop routing new runs here.
func (s *Server) Drain() {
	s.draining.Store(true)
}

// Wait blocks until every background run has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	profiles := s.runner.Sites()
	out := make([]siteResponse, 0, len(profiles))
	for _, p := range profiles {
		method := string(p.ResolveMethod())
		if method == "" {
			method = "none"
		}
		out = append(out, siteResponse{
			Key:     p.Key,
			Name:    p.DisplayName(),
			BaseURL: p.BaseURL,
			Method:  method,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.MaxArticles < 0 || req.Workers < 0 || req.TimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "max_articles, workers and timeout_seconds must be >= 0")
		return
	}
	if len(s.runner.Sites()) == 0 {
		writeError(w, http.StatusConflict, "no sites configured")
		return
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.runs.Create(runID, req, s.clock.Now())

	s.wg.Add(1)
	go s.execute(runID, req)

	s.logger.Info("run accepted",
		zap.String("run_id", runID),
		zap.Strings("sites", req.Sites),
		zap.String("request_id", requestIDFrom(r.Context())),
	)
	w.Header().Set("Location", "/v1/runs/"+runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) execute(runID string, req RunRequest) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("run_id", runID))

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = s.cfg.RunTimeout()
	}
	maxArticles := req.MaxArticles
	if maxArticles == 0 {
		maxArticles = s.cfg.Crawler.MaxArticles
	}

	s.runs.Start(runID, s.clock.Now())
	results := s.runner.Run(s.baseCtx, dispatcher.RunRequest{
		Sites:        req.Sites,
		MaxArticles:  maxArticles,
		Workers:      req.Workers,
		Timeout:      timeout,
		DiscoverOnly: req.DiscoverOnly,
	})
	s.runs.Complete(runID, results, s.clock.Now())

	if s.recorder != nil {
		for _, result := range results {
			if err := s.recorder.RecordSiteRun(context.WithoutCancel(s.baseCtx), runID, result); err != nil {
				logger.Warn("record site run failed", zap.String("site", result.Site), zap.Error(err))
			}
		}
	}
	logger.Info("run finished", zap.Int("sites", len(results)))
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.List()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, ok := s.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
