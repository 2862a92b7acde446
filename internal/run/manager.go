// Package run executes balancing jobs: build the model, submit it to the
// remote solver, interpret the winning sample, and score the outcome. Jobs
// run in the background and can be cancelled mid-solve, which is how the
// demo's cancel button works against a solver call that takes minutes.
package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vmbalance/internal/cluster"
	"vmbalance/internal/cqm"
	"vmbalance/internal/solver"
	"vmbalance/internal/store"
)

// Phase is where a job is in its lifecycle.
type Phase int

const (
	// PhasePending - job accepted, goroutine not yet running
	PhasePending Phase = iota
	// PhaseBuilding - assembling the CQM from the inventory
	PhaseBuilding
	// PhaseSolving - waiting on the remote solver
	PhaseSolving
	// PhaseCompleted - plan applied, result available
	PhaseCompleted
	// PhaseFailed - job hit an error
	PhaseFailed
	// PhaseCancelled - cancelled before the solver finished
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseBuilding:
		return "building"
	case PhaseSolving:
		return "solving"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Request describes one balancing job.
type Request struct {
	Inventory *cluster.Inventory
	Priority  cluster.Priority
	TimeLimit time.Duration
}

// Result is the outcome of a completed job. It is written once, before
// the job turns terminal, and never mutated afterwards.
type Result struct {
	Plan         cqm.Plan           `json:"plan"`
	Inventory    *cluster.Inventory `json:"inventory"`
	FactorBefore float64            `json:"factor_before"`
	FactorAfter  float64            `json:"factor_after"`
	Improvement  float64            `json:"improvement"`
	Moves        int                `json:"moves"`
	Energy       float64            `json:"energy"`
	Feasible     bool               `json:"feasible"`
}

// Job tracks one balancing run.
type Job struct {
	ID         string
	Phase      Phase
	NumVMs     int
	NumHosts   int
	Priority   cluster.Priority
	TimeLimit  time.Duration
	CreatedAt  time.Time
	FinishedAt time.Time
	Result     *Result
	Err        error
}

// Manager errors.
var (
	ErrBusy     = errors.New("another balancing job is already running")
	ErrClosed   = errors.New("run manager is closed")
	ErrNotFound = errors.New("job not found")
)

// ManagerConfig configures the run manager.
type ManagerConfig struct {
	Sampler solver.Sampler
	// Store persists terminal jobs. Optional; nil disables history.
	Store *store.RunStore
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Label tags submitted problems; empty uses the solver default.
	Label string
	// MaxConcurrent bounds simultaneously running jobs. The demo has one
	// run button, so the default is 1.
	MaxConcurrent int
}

// Manager runs balancing jobs with bounded concurrency.
type Manager struct {
	sampler solver.Sampler
	store   *store.RunStore
	logger  *zap.Logger
	label   string

	slots chan struct{} // Semaphore for running jobs

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// NewManager creates a run manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Sampler == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Manager{
		sampler: config.Sampler,
		store:   config.Store,
		logger:  config.Logger,
		label:   config.Label,
		slots:   make(chan struct{}, config.MaxConcurrent),
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Start launches a balancing job and returns its initial snapshot. It
// rejects with ErrBusy when all slots are taken rather than queueing —
// the demo runs one solve at a time.
//
// The job runs detached from the caller: it keeps going after Start
// returns until it finishes, is cancelled, or the manager closes.
func (m *Manager) Start(req Request) (Job, error) {
	if req.Inventory == nil || len(req.Inventory.VMs) == 0 || len(req.Inventory.Hosts) == 0 {
		return Job{}, fmt.Errorf("empty inventory")
	}
	if !req.Priority.Valid() {
		return Job{}, fmt.Errorf("invalid priority %q", req.Priority)
	}
	if req.TimeLimit <= 0 {
		return Job{}, fmt.Errorf("time limit must be positive, got %v", req.TimeLimit)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrClosed
	}

	select {
	case m.slots <- struct{}{}:
	default:
		m.mu.Unlock()
		return Job{}, ErrBusy
	}

	job := &Job{
		ID:        uuid.NewString(),
		Phase:     PhasePending,
		NumVMs:    len(req.Inventory.VMs),
		NumHosts:  len(req.Inventory.Hosts),
		Priority:  req.Priority,
		TimeLimit: req.TimeLimit,
		CreatedAt: time.Now(),
	}

	// Jobs own their context: the HTTP request that started one is long
	// gone by the time the solver answers.
	ctx, cancel := context.WithCancel(context.Background())
	m.jobs[job.ID] = job
	m.cancels[job.ID] = cancel

	snapshot := *job
	m.mu.Unlock()

	m.logger.Info("balancing job started",
		zap.String("job_id", job.ID),
		zap.Int("vms", job.NumVMs),
		zap.Int("hosts", job.NumHosts),
		zap.String("priority", job.Priority.String()),
		zap.Duration("time_limit", job.TimeLimit))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.execute(ctx, job.ID, req)
	}()

	return snapshot, nil
}

// execute drives a job through its phases.
func (m *Manager) execute(ctx context.Context, id string, req Request) {
	m.setPhase(id, PhaseBuilding)

	model, err := cqm.Build(req.Inventory, req.Priority)
	if err != nil {
		m.finish(ctx, id, nil, fmt.Errorf("failed to build model: %w", err))
		return
	}
	factorBefore := cluster.BalanceFactor(req.Inventory.Hosts, req.Priority)

	m.setPhase(id, PhaseSolving)

	sampleSet, err := m.sampler.SampleCQM(ctx, model, req.TimeLimit, m.label)
	if err != nil {
		m.finish(ctx, id, nil, fmt.Errorf("solve failed: %w", err))
		return
	}

	best, err := sampleSet.First()
	if err != nil {
		m.finish(ctx, id, nil, err)
		return
	}

	plan, err := cqm.ParsePlan(best.Selected())
	if err != nil {
		m.finish(ctx, id, nil, fmt.Errorf("failed to parse plan: %w", err))
		return
	}

	after := req.Inventory.Clone()
	if err := plan.Apply(after); err != nil {
		m.finish(ctx, id, nil, fmt.Errorf("failed to apply plan: %w", err))
		return
	}

	result := &Result{
		Plan:         plan,
		Inventory:    after,
		FactorBefore: factorBefore,
		FactorAfter:  cluster.BalanceFactor(after.Hosts, req.Priority),
		Moves:        plan.Moves(req.Inventory),
		Energy:       best.Energy,
		Feasible:     best.IsFeasible,
	}
	result.Improvement = cluster.Improvement(result.FactorBefore, result.FactorAfter)

	m.finish(ctx, id, result, nil)
}

// setPhase advances a job's phase unless it is already terminal.
func (m *Manager) setPhase(id string, phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && !job.Phase.Terminal() {
		job.Phase = phase
	}
}

// finish classifies the outcome, persists it, then publishes the terminal
// phase and frees the job's slot. Persisting first means anyone who sees a
// terminal phase will also find the run in the store.
func (m *Manager) finish(ctx context.Context, id string, result *Result, runErr error) {
	m.mu.RLock()
	job := m.jobs[id]
	m.mu.RUnlock()
	if job == nil {
		<-m.slots
		return
	}

	snapshot := *job
	snapshot.FinishedAt = time.Now()
	switch {
	case runErr == nil:
		snapshot.Phase = PhaseCompleted
		snapshot.Result = result
	case ctx.Err() != nil:
		// Cancellation surfaces as a sampler error; classify by context.
		snapshot.Phase = PhaseCancelled
		snapshot.Err = runErr
	default:
		snapshot.Phase = PhaseFailed
		snapshot.Err = runErr
	}

	switch snapshot.Phase {
	case PhaseCompleted:
		m.logger.Info("balancing job completed",
			zap.String("job_id", id),
			zap.Float64("factor_before", result.FactorBefore),
			zap.Float64("factor_after", result.FactorAfter),
			zap.Float64("improvement", result.Improvement),
			zap.Int("moves", result.Moves),
			zap.Bool("feasible", result.Feasible),
			zap.Duration("elapsed", snapshot.FinishedAt.Sub(snapshot.CreatedAt)))
	case PhaseCancelled:
		m.logger.Info("balancing job cancelled", zap.String("job_id", id))
	default:
		m.logger.Error("balancing job failed", zap.String("job_id", id), zap.Error(runErr))
	}

	m.persist(&snapshot)

	m.mu.Lock()
	<-m.slots
	job.Phase = snapshot.Phase
	job.FinishedAt = snapshot.FinishedAt
	job.Result = snapshot.Result
	job.Err = snapshot.Err
	delete(m.cancels, id)
	m.mu.Unlock()
}

// persist writes a terminal job to the run store, if one is configured.
func (m *Manager) persist(job *Job) {
	if m.store == nil {
		return
	}

	rec := &store.RunRecord{
		ID:         job.ID,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
		NumVMs:     job.NumVMs,
		NumHosts:   job.NumHosts,
		Priority:   job.Priority.String(),
		TimeLimitS: int(job.TimeLimit / time.Second),
		Status:     job.Phase.String(),
	}
	if job.Result != nil {
		rec.FactorBefore = job.Result.FactorBefore
		rec.FactorAfter = job.Result.FactorAfter
		rec.Improvement = job.Result.Improvement
		rec.Plan = job.Result.Plan
	}
	if job.Err != nil {
		rec.Error = job.Err.Error()
	}

	if err := m.store.SaveRun(rec); err != nil {
		m.logger.Warn("failed to persist run", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Jobs returns snapshots of all known jobs, newest first.
func (m *Manager) Jobs() []Job {
	m.mu.RLock()
	snapshots := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshots = append(snapshots, *job)
	}
	m.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Cancel aborts a running job. Cancelling a terminal job is a no-op;
// unknown ids return ErrNotFound.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cancel, running := m.cancels[id]
	m.mu.Unlock()

	if !running || job.Phase.Terminal() {
		return nil
	}

	m.logger.Info("cancelling balancing job", zap.String("job_id", id))
	cancel()
	return nil
}

// Close cancels all running jobs and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}
