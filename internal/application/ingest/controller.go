package ingest

import (
	"context"
	"sync"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context, opts RunOptions, stop *StopFlag) (*domain.Execution, error)
}

// RunController allows at most one pipeline run at a time and exposes the
// idle -> running -> completed|failed|stopped state machine.
type RunController struct {
	pipeline runner
	tracker  *ProgressTracker
	logger   *zap.Logger
	baseCtx  context.Context

	mu      sync.Mutex
	running bool
	stop    *StopFlag
	cancel  context.CancelFunc
	done    chan struct{}
	last    *domain.Execution
}

// NewRunController binds runs to baseCtx; cancelling it aborts a run in
// progress.
func NewRunController(baseCtx context.Context, pipeline runner, tracker *ProgressTracker, logger *zap.Logger) *RunController {
	return &RunController{
		pipeline: pipeline,
		tracker:  tracker,
		logger:   logger.Named("run_controller"),
		baseCtx:  baseCtx,
	}
}

// Start launches a run in the background. It returns ErrRunInProgress when a
// run is already active.
func (c *RunController) Start(opts RunOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunInProgress
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.running = true
	c.stop = NewStopFlag()
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, opts, c.stop, c.done)
	return nil
}

func (c *RunController) run(ctx context.Context, opts RunOptions, stop *StopFlag, done chan struct{}) {
	defer close(done)

	exec, err := c.pipeline.Run(ctx, opts, stop)
	if err != nil {
		c.logger.Error("run finished with error", zap.Error(err))
	}

	c.mu.Lock()
	c.running = false
	c.last = exec
	c.cancel()
	c.mu.Unlock()
}

// Stop asks the active run to stop after its current chunk.
func (c *RunController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.stop.Request()
	c.logger.Info("stop requested")
	return nil
}

func (c *RunController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *RunController) Status() domain.Progress {
	return c.tracker.Snapshot()
}

// LastExecution returns the outcome of the most recent finished run.
func (c *RunController) LastExecution() *domain.Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Wait blocks until the active run, if any, has finished.
func (c *RunController) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown requests a stop and waits for the run to leave; when ctx expires
// the run is cancelled outright.
func (c *RunController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.stop.Request()
	}
	cancel := c.cancel
	c.mu.Unlock()

	if err := c.Wait(ctx); err != nil {
		if cancel != nil {
			cancel()
		}
		return err
	}
	return nil
}
