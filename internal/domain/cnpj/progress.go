package cnpj

import "time"

// RunState is the orchestrator state machine: idle -> running -> completed|failed|stopped.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateStopped   RunState = "stopped"
)

type CurrentFile struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	Chunk      int    `json:"chunk"`
	RowsCopied int64  `json:"rows_copied"`
	TotalLines int64  `json:"total_lines"`
	TrackingID int64  `json:"tracking_id,omitempty"`
}

// Progress is emitted after every material pipeline event.
type Progress struct {
	State          RunState         `json:"state"`
	ExecutionID    string           `json:"execution_id,omitempty"`
	Step           string           `json:"step"`
	Percent        float64          `json:"percent"`
	TotalFiles     int              `json:"total_files"`
	CompletedFiles int              `json:"completed_files"`
	CurrentFile    *CurrentFile     `json:"current_file,omitempty"`
	TableCounts    map[string]int64 `json:"table_counts,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	Errors         []string         `json:"errors"`
}

// Clone returns a deep copy safe to hand to observers.
func (p Progress) Clone() Progress {
	out := p
	if p.CurrentFile != nil {
		cf := *p.CurrentFile
		out.CurrentFile = &cf
	}
	if p.TableCounts != nil {
		out.TableCounts = make(map[string]int64, len(p.TableCounts))
		for k, v := range p.TableCounts {
			out.TableCounts[k] = v
		}
	}
	out.Errors = append([]string{}, p.Errors...)
	return out
}

// ProgressObserver receives progress snapshots. Implementations must not block.
type ProgressObserver interface {
	OnProgress(p Progress)
}
