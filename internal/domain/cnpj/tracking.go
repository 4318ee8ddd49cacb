package cnpj

import "time"

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

type FileStatus string

const (
	FileRunning   FileStatus = "running"
	FilePartial   FileStatus = "partial"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
)

type ChunkStatus string

const (
	ChunkRunning   ChunkStatus = "running"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

type Execution struct {
	ID                   string
	Host                 string
	ChunkSize            int
	MaxWorkers           int
	Status               ExecutionStatus
	TotalFiles           int64
	FilesCompleted       int64
	TotalRecordsImported int64
	HasErrors            bool
	ErrorDetail          string
	StartedAt            time.Time
	FinishedAt           *time.Time
}

type FileTracking struct {
	ID                   int64
	ExecutionID          string
	FileName             string
	Classification       Classification
	TableName            string
	Hash                 string
	SizeBytes            int64
	TotalCSVLines        int64
	TotalImportedRecords int64
	SkippedRecords       int64
	DroppedRows          int64
	ChunksTotal          int
	ChunksCompleted      int
	Status               FileStatus
	HasDiscrepancy       bool
	ErrorMessage         string
	// ReusedFrom marks a skip: the row that already holds this content.
	ReusedFrom           *int64
	StartedAt            time.Time
	FinishedAt           *time.Time
}

type ChunkTracking struct {
	FileTrackingID   int64
	ChunkNumber      int
	ChunkOffset      int64
	ChunkSize        int
	RecordsProcessed int
	Status           ChunkStatus
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type LogEntry struct {
	ExecutionID    string
	FileTrackingID *int64
	Level          LogLevel
	Message        string
	Details        map[string]any
}

type FileAction string

const (
	ActionNew    FileAction = "new"
	ActionSkip   FileAction = "skip"
	ActionResume FileAction = "resume"
)

// DecideFile is the idempotence decision for a CSV given the latest tracking
// row with the same name and hash, or nil when there is none.
func DecideFile(latest *FileTracking) FileAction {
	if latest == nil {
		return ActionNew
	}
	switch latest.Status {
	case FileCompleted:
		if latest.TotalCSVLines == latest.TotalImportedRecords {
			return ActionSkip
		}
		return ActionNew
	case FileRunning, FilePartial:
		return ActionResume
	default:
		return ActionNew
	}
}

// Discrepancy is recorded on a completed file whose CSV line count differs
// from the number of imported records.
type Discrepancy struct {
	CSVLines   int64 `json:"csv_lines"`
	Imported   int64 `json:"imported"`
	Difference int64 `json:"difference"`
	Skipped    int64 `json:"skipped_duplicates"`
	Dropped    int64 `json:"dropped_rows"`
	Residual   int64 `json:"residual"`
}

// ComputeDiscrepancy returns nil when every CSV line was imported.
func ComputeDiscrepancy(csvLines, imported, skipped, dropped int64) *Discrepancy {
	if csvLines == imported {
		return nil
	}
	return &Discrepancy{
		CSVLines:   csvLines,
		Imported:   imported,
		Difference: csvLines - imported,
		Skipped:    skipped,
		Dropped:    dropped,
		Residual:   csvLines - imported - skipped - dropped,
	}
}

// LoadResult is what the bulk loader reports for one file.
type LoadResult struct {
	Seen     int64
	Inserted int64
	Chunks   int
}

func (r LoadResult) Skipped() int64 {
	return r.Seen - r.Inserted
}
