// Package server exposes the demo backend as a JSON API. The endpoints
// mirror the demo's callbacks: create a scenario, score its balance,
// start a background solve, poll or cancel it, and list past runs. The
// browser-side rendering stays out of scope; every response carries the
// data those widgets would plot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vmbalance/internal/cluster"
	"vmbalance/internal/config"
	"vmbalance/internal/report"
	"vmbalance/internal/run"
	"vmbalance/internal/store"
)

// Server is the vmbalance HTTP API.
type Server struct {
	mu      sync.RWMutex
	cfg     *config.Config
	manager *run.Manager
	store   *store.RunStore // may be nil, disables /api/runs
	logger  *zap.Logger
}

// New creates a server. The run store is optional.
func New(cfg *config.Config, manager *run.Manager, runStore *store.RunStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		store:   runStore,
		logger:  logger,
	}
}

// Config returns the live configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig swaps the configuration, typically from a config-file watcher.
// Later requests see the new limits and cluster settings; the listen
// address only takes effect on restart.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Handler returns the full route table with request logging attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scenario", s.handleScenario)
	mux.HandleFunc("POST /api/balance", s.handleBalance)
	mux.HandleFunc("POST /api/solve", s.handleSolve)
	mux.HandleFunc("GET /api/solve/{id}", s.handleSolveStatus)
	mux.HandleFunc("DELETE /api/solve/{id}", s.handleSolveCancel)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.Config()
	srv := &http.Server{Addr: cfg.Server.Listen, Handler: s.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// scenarioRequest mirrors the demo's slider values. Out-of-range counts
// are clamped, not rejected, the way the sliders bound them.
type scenarioRequest struct {
	NumVMs   int    `json:"num_vms"`
	NumHosts int    `json:"num_hosts"`
	Seed     int64  `json:"seed,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type scenarioResponse struct {
	Inventory     *cluster.Inventory `json:"inventory"`
	Priority      cluster.Priority   `json:"priority"`
	BalanceFactor float64            `json:"balance_factor"`
	Summary       string             `json:"summary"`
	Tables        report.Tables      `json:"tables"`
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	priority, err := s.parsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.Config()
	if req.NumVMs == 0 {
		req.NumVMs = cfg.Limits.VMs.Value
	}
	if req.NumHosts == 0 {
		req.NumHosts = cfg.Limits.Hosts.Value
	}
	numVMs := cfg.Limits.VMs.Clamp(req.NumVMs)
	numHosts := cfg.Limits.Hosts.Clamp(req.NumHosts)

	seed := req.Seed
	if seed == 0 {
		seed = cfg.Cluster.Seed
	}
	gen := cluster.NewGeneratorWithConfig(cluster.GeneratorConfig{
		Seed:   seed,
		CPUCap: cfg.Cluster.CPUCap,
		MemCap: cfg.Cluster.MemCap,
	})
	inv, err := gen.Generate(numVMs, numHosts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	factor := cluster.BalanceFactor(inv.Hosts, priority)
	s.writeJSON(w, http.StatusOK, scenarioResponse{
		Inventory:     inv,
		Priority:      priority,
		BalanceFactor: factor,
		Summary:       report.Summary(factor),
		Tables:        report.Build(inv),
	})
}

type balanceRequest struct {
	Inventory *cluster.Inventory `json:"inventory"`
	Priority  string             `json:"priority,omitempty"`
}

type balanceResponse struct {
	Priority      cluster.Priority `json:"priority"`
	BalanceFactor float64          `json:"balance_factor"`
	Summary       string           `json:"summary"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Inventory == nil || len(req.Inventory.Hosts) == 0 {
		s.writeError(w, http.StatusBadRequest, "inventory has no hosts")
		return
	}

	priority, err := s.parsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Host usage may be stale in a client-edited inventory.
	req.Inventory.RecomputeUsage()

	factor := cluster.BalanceFactor(req.Inventory.Hosts, priority)
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Priority:      priority,
		BalanceFactor: factor,
		Summary:       report.Summary(factor),
	})
}

type solveRequest struct {
	Inventory  *cluster.Inventory `json:"inventory"`
	Priority   string             `json:"priority,omitempty"`
	TimeLimitS int                `json:"time_limit_s,omitempty"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Inventory == nil || len(req.Inventory.VMs) == 0 {
		s.writeError(w, http.StatusBadRequest, "inventory has no VMs")
		return
	}

	priority, err := s.parsePriority(req.Priority)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Inventory.RecomputeUsage()

	job, err := s.manager.Start(run.Request{
		Inventory: req.Inventory,
		Priority:  priority,
		TimeLimit: s.Config().ClampSolveTime(req.TimeLimitS),
	})
	switch {
	case errors.Is(err, run.ErrBusy):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, buildJobView(job))
}

func (s *Server) handleSolveStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.PathValue("id"))
	if errors.Is(err, run.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, buildJobView(job))
}

func (s *Server) handleSolveCancel(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.PathValue("id"))
	if errors.Is(err, run.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runsResponse struct {
	Runs []*store.RunRecord `json:"runs"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobView is the API shape of a run.Job.
type jobView struct {
	ID         string      `json:"id"`
	Phase      string      `json:"phase"`
	NumVMs     int         `json:"num_vms"`
	NumHosts   int         `json:"num_hosts"`
	Priority   string      `json:"priority"`
	TimeLimitS int         `json:"time_limit_s"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	Result     *resultView `json:"result,omitempty"`
}

type resultView struct {
	run.Result
	Summary string        `json:"summary"`
	Tables  report.Tables `json:"tables"`
}

func buildJobView(job run.Job) jobView {
	view := jobView{
		ID:         job.ID,
		Phase:      job.Phase.String(),
		NumVMs:     job.NumVMs,
		NumHosts:   job.NumHosts,
		Priority:   job.Priority.String(),
		TimeLimitS: int(job.TimeLimit / time.Second),
		CreatedAt:  job.CreatedAt,
	}
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt
		view.FinishedAt = &t
	}
	if job.Err != nil {
		view.Error = job.Err.Error()
	}
	if job.Result != nil {
		view.Result = &resultView{
			Result:  *job.Result,
			Summary: report.SolveSummary(job.Result.FactorAfter, job.Result.Improvement),
			Tables:  report.Build(job.Result.Inventory),
		}
	}
	return view
}

// parsePriority applies the demo's default (CPU) when the field is empty.
func (s *Server) parsePriority(raw string) (cluster.Priority, error) {
	if raw == "" {
		return cluster.PriorityCPU, nil
	}
	return cluster.ParsePriority(raw)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
