package ingest

import (
	"sync"
	"time"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

// ProgressTracker owns the live progress record of the current run and fans
// every change out to its observers.
type ProgressTracker struct {
	mu        sync.Mutex
	progress  domain.Progress
	planned   map[domain.Stage]int
	handled   map[domain.Stage]int
	stage     domain.Stage
	observers []domain.ProgressObserver
}

func NewProgressTracker(observers ...domain.ProgressObserver) *ProgressTracker {
	return &ProgressTracker{
		progress:  domain.Progress{State: domain.StateIdle, Step: "idle", Errors: []string{}},
		planned:   map[domain.Stage]int{},
		handled:   map[domain.Stage]int{},
		observers: observers,
	}
}

func (t *ProgressTracker) Subscribe(observer domain.ProgressObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, observer)
	t.mu.Unlock()
}

func (t *ProgressTracker) Snapshot() domain.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Clone()
}

// Begin resets the record for a new run.
func (t *ProgressTracker) Begin(executionID string) {
	t.update(func(p *domain.Progress) {
		now := time.Now().UTC()
		counts := p.TableCounts
		*p = domain.Progress{
			State:       domain.StateRunning,
			ExecutionID: executionID,
			Step:        "discovering archives",
			StartedAt:   &now,
			TableCounts: counts,
			Errors:      []string{},
		}
		t.planned = map[domain.Stage]int{}
		t.handled = map[domain.Stage]int{}
	})
}

// Plan records the archives the run is going to load.
func (t *ProgressTracker) Plan(archives []domain.Archive) {
	t.update(func(p *domain.Progress) {
		p.TotalFiles = len(archives)
		for _, a := range archives {
			if table, ok := domain.TableFor(a.Classification); ok {
				t.planned[table.Stage]++
			}
		}
	})
}

func (t *ProgressTracker) Step(step string) {
	t.update(func(p *domain.Progress) { p.Step = step })
}

func (t *ProgressTracker) FileStarted(stage domain.Stage, file domain.CurrentFile) {
	t.update(func(p *domain.Progress) {
		t.stage = stage
		p.Step = "loading " + file.Table
		p.CurrentFile = &file
	})
}

func (t *ProgressTracker) ChunkProgress(chunk int, rowsCopied int64) {
	t.update(func(p *domain.Progress) {
		if p.CurrentFile == nil {
			return
		}
		p.CurrentFile.Chunk = chunk
		p.CurrentFile.RowsCopied = rowsCopied
	})
}

// FileFinished closes the current file. Failed files count towards the
// percentage but not towards CompletedFiles.
func (t *ProgressTracker) FileFinished(stage domain.Stage, completed bool) {
	t.update(func(p *domain.Progress) {
		t.handled[stage]++
		if completed {
			p.CompletedFiles++
		}
		p.CurrentFile = nil
	})
}

func (t *ProgressTracker) Error(message string) {
	t.update(func(p *domain.Progress) { p.Errors = append(p.Errors, message) })
}

func (t *ProgressTracker) SetTableCounts(counts map[string]int64) {
	t.update(func(p *domain.Progress) { p.TableCounts = counts })
}

func (t *ProgressTracker) Finish(state domain.RunState) {
	t.update(func(p *domain.Progress) {
		now := time.Now().UTC()
		p.State = state
		p.Step = string(state)
		p.FinishedAt = &now
		p.CurrentFile = nil
		if state == domain.StateCompleted {
			p.Percent = 100
		}
	})
}

func (t *ProgressTracker) update(mutate func(p *domain.Progress)) {
	t.mu.Lock()
	mutate(&t.progress)
	if t.progress.State == domain.StateRunning {
		t.progress.Percent = t.percent()
	}
	snapshot := t.progress.Clone()
	observers := append([]domain.ProgressObserver(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		o.OnProgress(snapshot)
	}
}

// percent weighs each stage by its share, normalised over the stages that
// have files. The current file contributes its copied fraction.
func (t *ProgressTracker) percent() float64 {
	var total, done float64
	for _, stage := range domain.Stages {
		planned := t.planned[stage]
		if planned == 0 {
			continue
		}
		weight := domain.StageWeights[stage]
		total += weight

		fraction := float64(t.handled[stage])
		if cf := t.progress.CurrentFile; cf != nil && t.stage == stage && cf.TotalLines > 0 {
			fraction += min(float64(cf.RowsCopied)/float64(cf.TotalLines), 1)
		}
		done += weight * min(fraction/float64(planned), 1)
	}
	if total == 0 {
		return 0
	}
	return done / total * 100
}
