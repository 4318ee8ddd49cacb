package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammadpnp/cnpj-import/internal/application/ingest"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

// blockingRunner stays in Run until it is released, stopped or cancelled.
type blockingRunner struct {
	started     chan ingest.RunOptions
	release     chan struct{}
	ignoreStops bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan ingest.RunOptions, 1), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, opts ingest.RunOptions, stop *ingest.StopFlag) (*domain.Execution, error) {
	r.started <- opts
	stopped := stop.Done()
	if r.ignoreStops {
		stopped = nil
	}
	select {
	case <-r.release:
		return &domain.Execution{ID: "exec-1", Status: domain.ExecutionCompleted}, nil
	case <-stopped:
		return &domain.Execution{ID: "exec-1", Status: domain.ExecutionStopped}, nil
	case <-ctx.Done():
		return &domain.Execution{ID: "exec-1", Status: domain.ExecutionFailed}, ctx.Err()
	}
}

func waitStarted(t *testing.T, r *blockingRunner) ingest.RunOptions {
	t.Helper()
	select {
	case opts := <-r.started:
		return opts
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not start")
		return ingest.RunOptions{}
	}
}

func TestRunControllerAllowsOneRunAtATime(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	c := ingest.NewRunController(context.Background(), runner, ingest.NewProgressTracker(), zap.NewNop())

	if err := c.Stop(); !errors.Is(err, ingest.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning while idle, got %v", err)
	}
	if err := c.Start(ingest.RunOptions{Download: true, Import: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStarted(t, runner)
	if !c.Running() {
		t.Fatalf("expected controller to report a run")
	}
	if err := c.Start(ingest.RunOptions{Import: true}); !errors.Is(err, ingest.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(runner.release)
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if c.Running() {
		t.Fatalf("expected controller to be idle")
	}
	if last := c.LastExecution(); last == nil || last.Status != domain.ExecutionCompleted {
		t.Fatalf("unexpected last execution %+v", last)
	}
}

func TestRunControllerStop(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	c := ingest.NewRunController(context.Background(), runner, ingest.NewProgressTracker(), zap.NewNop())

	if err := c.Start(ingest.RunOptions{Import: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStarted(t, runner)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if last := c.LastExecution(); last == nil || last.Status != domain.ExecutionStopped {
		t.Fatalf("unexpected last execution %+v", last)
	}

	if err := c.Start(ingest.RunOptions{Import: true}); err != nil {
		t.Fatalf("expected a new run after the stop, got %v", err)
	}
	waitStarted(t, runner)
	close(runner.release)
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRunControllerShutdownCancelsAStuckRun(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	runner.ignoreStops = true
	c := ingest.NewRunController(context.Background(), runner, ingest.NewProgressTracker(), zap.NewNop())

	if err := c.Start(ingest.RunOptions{Import: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStarted(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := c.Wait(waitCtx); err != nil {
		t.Fatalf("expected the cancelled run to finish, got %v", err)
	}
	if last := c.LastExecution(); last == nil || last.Status != domain.ExecutionFailed {
		t.Fatalf("unexpected last execution %+v", last)
	}
}

type fakeController struct {
	startErr error
	started  []ingest.RunOptions
	stopErr  error
	running  bool
	status   domain.Progress
}

func (f *fakeController) Start(opts ingest.RunOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, opts)
	return nil
}

func (f *fakeController) Stop() error { return f.stopErr }
func (f *fakeController) Running() bool { return f.running }
func (f *fakeController) Status() domain.Progress { return f.status }

func boolPtr(v bool) *bool { return &v }

func TestStartRunAppliesDefaultsAndValidates(t *testing.T) {
	t.Parallel()

	c := &fakeController{status: domain.Progress{State: domain.StateRunning}}
	uc := ingest.NewStartRun(c, ingest.RunOptions{Download: true, Import: true})

	out, err := uc.Execute(context.Background(), ingest.StartRunInput{Download: boolPtr(false), Tables: []string{" Socios "}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !out.Started || out.Status.State != domain.StateRunning {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(c.started) != 1 {
		t.Fatalf("expected one start, got %d", len(c.started))
	}
	opts := c.started[0]
	if opts.Download || !opts.Import || len(opts.Tables) != 1 || opts.Tables[0] != "socios" {
		t.Fatalf("unexpected options %+v", opts)
	}

	_, err = uc.Execute(context.Background(), ingest.StartRunInput{Tables: []string{"clientes"}})
	if !errors.Is(err, ingest.ErrInvalidRunRequest) {
		t.Fatalf("expected ErrInvalidRunRequest for unknown table, got %v", err)
	}

	_, err = uc.Execute(context.Background(), ingest.StartRunInput{Download: boolPtr(false), Import: boolPtr(false)})
	if !errors.Is(err, ingest.ErrInvalidRunRequest) {
		t.Fatalf("expected ErrInvalidRunRequest with both toggles off, got %v", err)
	}
	if len(c.started) != 1 {
		t.Fatalf("expected rejected requests not to start a run")
	}
}

func TestStartRunIsNoOpWhileRunning(t *testing.T) {
	t.Parallel()

	c := &fakeController{startErr: ingest.ErrRunInProgress, status: domain.Progress{State: domain.StateRunning, ExecutionID: "exec-1"}}
	uc := ingest.NewStartRun(c, ingest.RunOptions{Download: true, Import: true})

	out, err := uc.Execute(context.Background(), ingest.StartRunInput{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Started || out.Status.ExecutionID != "exec-1" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestStopRunWithoutRun(t *testing.T) {
	t.Parallel()

	uc := ingest.NewStopRun(&fakeController{stopErr: ingest.ErrNotRunning})
	if _, err := uc.Execute(context.Background()); !errors.Is(err, ingest.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestGetRunStatusRefreshesCountsWhenIdle(t *testing.T) {
	t.Parallel()

	tracker := ingest.NewProgressTracker()
	c := ingest.NewRunController(context.Background(), newBlockingRunner(), tracker, zap.NewNop())
	uc := ingest.NewGetRunStatus(c, tracker, fakeStats{}, zap.NewNop())

	status, err := uc.Execute(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.State != domain.StateIdle {
		t.Fatalf("expected idle state, got %s", status.State)
	}
	if len(status.TableCounts) != len(domain.Catalog) {
		t.Fatalf("expected counts for every table, got %v", status.TableCounts)
	}
}
