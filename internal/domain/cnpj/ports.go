package cnpj

import "context"

type ArchiveDiscoverer interface {
	Discover(ctx context.Context) ([]Archive, error)
}

// ArchiveDownloader fetches an archive to local storage and returns its path.
// Discard removes the local copy so the next Download fetches it again.
type ArchiveDownloader interface {
	Download(ctx context.Context, archive Archive) (string, error)
	Discard(archive Archive) error
}

// ArchiveExtractor yields the single CSV enclosed in an archive. Rejected
// archives are reported with ErrCorruptArchive. Discard drops a previous
// extraction of the archive.
type ArchiveExtractor interface {
	Extract(ctx context.Context, archivePath string) (string, error)
	Discard(archivePath string) error
}

type CSVInspection struct {
	Path  string
	Name  string
	Hash  string
	Size  int64
	Lines int64
}

type CSVInspector interface {
	Inspect(ctx context.Context, csvPath string) (CSVInspection, error)
}

// BatchSource yields batches in ascending chunk order and io.EOF at the end.
type BatchSource interface {
	Next(ctx context.Context) (*Batch, error)
}

type BatchReader interface {
	BatchSource
	Close() error
}

type BatchReaderFactory interface {
	Open(ctx context.Context, csvPath string, table Table) (BatchReader, error)
}

// ChunkHooks brackets the bulk copy of each batch.
type ChunkHooks interface {
	ChunkStarted(ctx context.Context, batch *Batch) error
	ChunkCopied(ctx context.Context, batch *Batch) error
}

type BulkLoader interface {
	Load(ctx context.Context, table Table, source BatchSource, hooks ChunkHooks) (LoadResult, error)
}

// CodeSource lists the codes currently stored in an auxiliary table.
type CodeSource interface {
	Codes(ctx context.Context, auxTable string) ([]string, error)
}

type TableStats interface {
	LiveCounts(ctx context.Context, tables []string) (map[string]int64, error)
}

type TrackingStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	SetExecutionFiles(ctx context.Context, executionID string, totalFiles int64) error
	// FinalizeExecution recomputes the aggregate columns from file rows.
	FinalizeExecution(ctx context.Context, executionID string, status ExecutionStatus, errorDetail string) (*Execution, error)

	// LatestFile ignores skip markers, rows with ReusedFrom set.
	LatestFile(ctx context.Context, fileName, hash string) (*FileTracking, error)
	CreateFile(ctx context.Context, file *FileTracking) error
	ResumeFile(ctx context.Context, file *FileTracking) error
	CompleteFile(ctx context.Context, file *FileTracking, discrepancy *Discrepancy) error
	FailFile(ctx context.Context, fileID int64, status FileStatus, reason string) error

	StartChunk(ctx context.Context, chunk *ChunkTracking) error
	FinishChunk(ctx context.Context, chunk *ChunkTracking) error
	// RollbackChunks fails every chunk of a file after its load was rolled back.
	RollbackChunks(ctx context.Context, fileID int64, reason string) error

	AppendLog(ctx context.Context, entry LogEntry) error
}
