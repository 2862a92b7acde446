package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vmbalance/internal/cluster"
	"vmbalance/internal/cqm"
	"vmbalance/internal/solver"
	"vmbalance/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSampler implements solver.Sampler for tests. When block is set it
// waits until the channel closes or the context is cancelled, which lets
// tests hold a job in the solving phase.
type fakeSampler struct {
	mu        sync.Mutex
	calls     int
	gotModel  *cqm.Model
	gotLimit  time.Duration
	gotLabel  string
	sampleSet *solver.SampleSet
	err       error
	block     chan struct{}
}

func (f *fakeSampler) SampleCQM(ctx context.Context, model *cqm.Model, timeLimit time.Duration, label string) (*solver.SampleSet, error) {
	f.mu.Lock()
	f.calls++
	f.gotModel = model
	f.gotLimit = timeLimit
	f.gotLabel = label
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("solve cancelled: %w", ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.sampleSet, nil
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testInventory() *cluster.Inventory {
	inv := &cluster.Inventory{
		VMs: []cluster.VM{
			{Name: "VM 1", Status: cluster.StatusRunning, CurrentHost: "Host 1", CPU: 30, Memory: 100},
			{Name: "VM 2", Status: cluster.StatusRunning, CurrentHost: "Host 1", CPU: 20, Memory: 50},
			{Name: "VM 3", Status: cluster.StatusRunning, CurrentHost: "Host 2", CPU: 10, Memory: 150},
		},
		Hosts: []cluster.Host{
			{Name: "Host 1", ProcessorType: "CPU", CPUCap: 100, MemCap: 500},
			{Name: "Host 2", ProcessorType: "CPU", CPUCap: 100, MemCap: 500},
		},
	}
	inv.RecomputeUsage()
	return inv
}

// spreadValues moves VM 2 to Host 2, which evens out CPU usage across the
// two hosts. Every variable the model defines gets a value.
func spreadValues(inv *cluster.Inventory) map[string]float64 {
	target := map[string]string{
		"VM 1": "Host 1",
		"VM 2": "Host 2",
		"VM 3": "Host 2",
	}
	values := make(map[string]float64)
	for _, vm := range inv.VMs {
		for _, h := range inv.Hosts {
			v := 0.0
			if target[vm.Name] == h.Name {
				v = 1.0
			}
			values[cqm.VariableName(vm.Name, h.Name)] = v
		}
	}
	return values
}

func goodSampleSet(inv *cluster.Inventory) *solver.SampleSet {
	return &solver.SampleSet{
		Samples: []solver.Sample{
			{Energy: -42.5, IsFeasible: true, Values: spreadValues(inv)},
		},
	}
}

func newTestManager(t *testing.T, sampler solver.Sampler) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{Sampler: sampler, Label: "balance-test"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", id, err)
		}
		if job.Phase.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal phase", id)
	return Job{}
}

func TestManagerCompletesJob(t *testing.T) {
	inv := testInventory()
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv)}
	m := newTestManager(t, sampler)

	req := Request{Inventory: inv, Priority: cluster.PriorityCPU, TimeLimit: 10 * time.Second}
	job, err := m.Start(req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if job.ID == "" {
		t.Error("expected a job ID")
	}
	if job.NumVMs != 3 || job.NumHosts != 2 {
		t.Errorf("expected 3 VMs on 2 hosts, got %d on %d", job.NumVMs, job.NumHosts)
	}

	done := waitTerminal(t, m, job.ID)
	if done.Phase != PhaseCompleted {
		t.Fatalf("expected completed, got %v (err: %v)", done.Phase, done.Err)
	}
	if done.Result == nil {
		t.Fatal("completed job has no result")
	}
	if done.FinishedAt.IsZero() {
		t.Error("completed job has no finish time")
	}

	result := done.Result
	if len(result.Plan) != 3 {
		t.Errorf("expected 3 assignments, got %d", len(result.Plan))
	}
	wantBefore := cluster.BalanceFactor(inv.Hosts, cluster.PriorityCPU)
	if result.FactorBefore != wantBefore {
		t.Errorf("expected factor before %v, got %v", wantBefore, result.FactorBefore)
	}
	if result.FactorAfter <= result.FactorBefore {
		t.Errorf("expected the plan to improve balance, before %v after %v",
			result.FactorBefore, result.FactorAfter)
	}
	if got := cluster.Improvement(result.FactorBefore, result.FactorAfter); result.Improvement != got {
		t.Errorf("expected improvement %v, got %v", got, result.Improvement)
	}
	if result.Moves != 1 {
		t.Errorf("expected 1 move, got %d", result.Moves)
	}
	if result.Energy != -42.5 || !result.Feasible {
		t.Errorf("unexpected sample metadata: energy %v feasible %v", result.Energy, result.Feasible)
	}

	if sampler.gotModel == nil || sampler.gotModel.NumVariables() != 6 {
		t.Errorf("expected the sampler to receive a 6-variable model, got %+v", sampler.gotModel)
	}
	if sampler.gotLimit != 10*time.Second {
		t.Errorf("expected 10s time limit, got %v", sampler.gotLimit)
	}
	if sampler.gotLabel != "balance-test" {
		t.Errorf("expected label balance-test, got %q", sampler.gotLabel)
	}
}

func TestManagerRejectsWhenBusy(t *testing.T) {
	inv := testInventory()
	block := make(chan struct{})
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv), block: block}
	m := newTestManager(t, sampler)

	req := Request{Inventory: inv, Priority: cluster.PriorityCPU, TimeLimit: 10 * time.Second}
	first, err := m.Start(req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := m.Start(req); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while a job runs, got %v", err)
	}

	close(block)
	waitTerminal(t, m, first.ID)

	// The slot frees up once the job finishes.
	second, err := m.Start(req)
	if err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	waitTerminal(t, m, second.ID)

	if got := sampler.callCount(); got != 2 {
		t.Errorf("expected 2 solver calls, got %d", got)
	}
}

func TestManagerCancel(t *testing.T) {
	inv := testInventory()
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv), block: make(chan struct{})}
	m := newTestManager(t, sampler)

	req := Request{Inventory: inv, Priority: cluster.PriorityMemory, TimeLimit: time.Minute}
	job, err := m.Start(req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := m.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	done := waitTerminal(t, m, job.ID)
	if done.Phase != PhaseCancelled {
		t.Fatalf("expected cancelled, got %v", done.Phase)
	}
	if done.Err == nil {
		t.Error("cancelled job should record the error")
	}
	if done.Result != nil {
		t.Error("cancelled job should not have a result")
	}

	// Cancelling a finished job is a no-op.
	if err := m.Cancel(job.ID); err != nil {
		t.Errorf("expected cancel of finished job to be a no-op, got %v", err)
	}
}

func TestManagerCancelUnknown(t *testing.T) {
	m := newTestManager(t, &fakeSampler{})
	if err := m.Cancel("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := newTestManager(t, &fakeSampler{})
	if _, err := m.Get("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerSolveFailure(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("service unavailable")}
	m := newTestManager(t, sampler)

	job, err := m.Start(Request{Inventory: testInventory(), Priority: cluster.PriorityMemory, TimeLimit: 10 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitTerminal(t, m, job.ID)
	if done.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %v", done.Phase)
	}
	if done.Err == nil || !strings.Contains(done.Err.Error(), "solve failed") {
		t.Errorf("expected a solve failure error, got %v", done.Err)
	}
}

func TestManagerEmptySampleSet(t *testing.T) {
	sampler := &fakeSampler{sampleSet: &solver.SampleSet{}}
	m := newTestManager(t, sampler)

	job, err := m.Start(Request{Inventory: testInventory(), Priority: cluster.PriorityMemory, TimeLimit: 10 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := waitTerminal(t, m, job.ID)
	if done.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %v", done.Phase)
	}
	if done.Err == nil || !strings.Contains(done.Err.Error(), "no samples") {
		t.Errorf("expected a no-samples error, got %v", done.Err)
	}
}

func TestManagerValidatesRequests(t *testing.T) {
	m := newTestManager(t, &fakeSampler{})
	inv := testInventory()

	tests := []struct {
		name string
		req  Request
	}{
		{"nil inventory", Request{Priority: cluster.PriorityCPU, TimeLimit: time.Second}},
		{"no VMs", Request{Inventory: &cluster.Inventory{Hosts: inv.Hosts}, Priority: cluster.PriorityCPU, TimeLimit: time.Second}},
		{"no hosts", Request{Inventory: &cluster.Inventory{VMs: inv.VMs}, Priority: cluster.PriorityCPU, TimeLimit: time.Second}},
		{"bad priority", Request{Inventory: inv, Priority: "disk", TimeLimit: time.Second}},
		{"zero time limit", Request{Inventory: inv, Priority: cluster.PriorityCPU}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Start(tt.req); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestManagerPersistsRuns(t *testing.T) {
	runStore, err := store.NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer runStore.Close()

	inv := testInventory()
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv)}
	m, err := NewManager(ManagerConfig{Sampler: sampler, Store: runStore})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	job, err := m.Start(Request{Inventory: inv, Priority: cluster.PriorityMemory, TimeLimit: 30 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := waitTerminal(t, m, job.ID)

	rec, err := runStore.GetRun(job.ID)
	if err != nil {
		t.Fatalf("expected the run to be persisted: %v", err)
	}
	if rec.Status != "completed" {
		t.Errorf("expected status completed, got %q", rec.Status)
	}
	if rec.Priority != "memory" || rec.TimeLimitS != 30 {
		t.Errorf("unexpected run parameters: %+v", rec)
	}
	if rec.FactorAfter != done.Result.FactorAfter || rec.Improvement != done.Result.Improvement {
		t.Errorf("persisted factors do not match the result: %+v", rec)
	}
	if len(rec.Plan) != 3 {
		t.Errorf("expected the plan to be persisted, got %d assignments", len(rec.Plan))
	}
}

func TestManagerPersistsFailures(t *testing.T) {
	runStore, err := store.NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer runStore.Close()

	sampler := &fakeSampler{err: errors.New("quota exceeded")}
	m, err := NewManager(ManagerConfig{Sampler: sampler, Store: runStore})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	job, err := m.Start(Request{Inventory: testInventory(), Priority: cluster.PriorityCPU, TimeLimit: 10 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitTerminal(t, m, job.ID)

	rec, err := runStore.GetRun(job.ID)
	if err != nil {
		t.Fatalf("expected the failed run to be persisted: %v", err)
	}
	if rec.Status != "failed" {
		t.Errorf("expected status failed, got %q", rec.Status)
	}
	if !strings.Contains(rec.Error, "quota exceeded") {
		t.Errorf("expected the error to be persisted, got %q", rec.Error)
	}
}

func TestManagerCloseCancelsActiveJob(t *testing.T) {
	inv := testInventory()
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv), block: make(chan struct{})}
	m, err := NewManager(ManagerConfig{Sampler: sampler})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	job, err := m.Start(Request{Inventory: inv, Priority: cluster.PriorityMemory, TimeLimit: time.Minute})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	m.Close()

	done, err := m.Get(job.ID)
	if err != nil {
		t.Fatalf("Get after close failed: %v", err)
	}
	if done.Phase != PhaseCancelled {
		t.Errorf("expected the active job to be cancelled on close, got %v", done.Phase)
	}

	if _, err := m.Start(Request{Inventory: inv, Priority: cluster.PriorityMemory, TimeLimit: time.Minute}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	// Close is idempotent.
	m.Close()
}

func TestManagerJobsNewestFirst(t *testing.T) {
	inv := testInventory()
	sampler := &fakeSampler{sampleSet: goodSampleSet(inv)}
	m := newTestManager(t, sampler)

	req := Request{Inventory: inv, Priority: cluster.PriorityMemory, TimeLimit: 10 * time.Second}
	first, err := m.Start(req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitTerminal(t, m, first.ID)

	time.Sleep(5 * time.Millisecond)
	second, err := m.Start(req)
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	waitTerminal(t, m, second.ID)

	jobs := m.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Errorf("expected newest first, got %s then %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhasePending, "pending"},
		{PhaseBuilding, "building"},
		{PhaseSolving, "solving"},
		{PhaseCompleted, "completed"},
		{PhaseFailed, "failed"},
		{PhaseCancelled, "cancelled"},
		{Phase(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
