package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

type fakeDiscoverer struct {
	archives []domain.Archive
	err      error
}

func (f *fakeDiscoverer) Discover(ctx context.Context) ([]domain.Archive, error) {
	return f.archives, f.err
}

type fakeDownloader struct {
	mu        sync.Mutex
	failures  map[string]error
	downloads map[string]int
	discards  map[string]int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{failures: map[string]error{}, downloads: map[string]int{}, discards: map[string]int{}}
}

func (f *fakeDownloader) Download(ctx context.Context, archive domain.Archive) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[archive.Name]++
	if err := f.failures[archive.Name]; err != nil {
		return "", err
	}
	return "/downloads/" + archive.Name, nil
}

func (f *fakeDownloader) Discard(archive domain.Archive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards[archive.Name]++
	return nil
}

func (f *fakeDownloader) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[name]
}

// fakeExtractor maps /downloads/X.zip to /data/X.csv.
type fakeExtractor struct {
	corrupt map[string]bool
	calls   map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{corrupt: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeExtractor) Extract(ctx context.Context, archivePath string) (string, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(archivePath, "/downloads/"), ".zip")
	f.calls[name]++
	if f.corrupt[name] {
		return "", domain.NewPipelineError(domain.KindCorruptArchive, "validate "+name, domain.ErrCorruptArchive)
	}
	return "/data/" + name + ".csv", nil
}

func (f *fakeExtractor) Discard(archivePath string) error { return nil }

// csvFixtures holds the raw records of every fake CSV by path.
type csvFixtures map[string][][]string

type fakeInspector struct {
	files csvFixtures
}

func (f *fakeInspector) Inspect(ctx context.Context, csvPath string) (domain.CSVInspection, error) {
	records, ok := f.files[csvPath]
	if !ok {
		return domain.CSVInspection{}, fmt.Errorf("open file %s: no such file", csvPath)
	}
	name := strings.TrimPrefix(csvPath, "/data/")
	return domain.CSVInspection{
		Path:  csvPath,
		Name:  name,
		Hash:  fmt.Sprintf("hash-%s-%d", name, len(records)),
		Size:  int64(len(records) * 10),
		Lines: int64(len(records)),
	}, nil
}

type fakeReaders struct {
	files     csvFixtures
	chunkSize int
}

func (f *fakeReaders) Open(ctx context.Context, csvPath string, table domain.Table) (domain.BatchReader, error) {
	records, ok := f.files[csvPath]
	if !ok {
		return nil, fmt.Errorf("open file %s: no such file", csvPath)
	}
	return &fakeReader{records: records, table: table, chunkSize: f.chunkSize}, nil
}

type fakeReader struct {
	records   [][]string
	table     domain.Table
	chunkSize int
	pos       int
	number    int
}

func (r *fakeReader) Next(ctx context.Context) (*domain.Batch, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	batch := &domain.Batch{Number: r.number, Offset: int64(r.pos)}
	for batch.Lines < r.chunkSize && r.pos < len(r.records) {
		record := append([]string(nil), r.records[r.pos]...)
		r.pos++
		batch.Lines++
		row, err := domain.CoerceRow(r.table, record)
		if err != nil {
			batch.Dropped++
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}
	r.number++
	return batch, nil
}

func (r *fakeReader) Close() error { return nil }

// fakeLoader keeps target tables in memory with first-write-wins semantics.
type fakeLoader struct {
	mu      sync.Mutex
	tables  map[string]map[string][]string
	failFor map[string][]error
	calls   map[string]int
	order   []string
	// afterChunk runs after each copied chunk.
	afterChunk func(table string, batch *domain.Batch)
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{tables: map[string]map[string][]string{}, failFor: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeLoader) Load(ctx context.Context, table domain.Table, source domain.BatchSource, hooks domain.ChunkHooks) (domain.LoadResult, error) {
	f.mu.Lock()
	f.calls[table.Name]++
	f.order = append(f.order, table.Name)
	if errs := f.failFor[table.Name]; len(errs) > 0 {
		f.failFor[table.Name] = errs[1:]
		f.mu.Unlock()
		return domain.LoadResult{}, errs[0]
	}
	f.mu.Unlock()

	var staged [][]string
	result := domain.LoadResult{}
	for {
		batch, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, err
		}
		if err := hooks.ChunkStarted(ctx, batch); err != nil {
			return result, err
		}
		staged = append(staged, batch.Rows...)
		result.Chunks++
		if err := hooks.ChunkCopied(ctx, batch); err != nil {
			return result, err
		}
		if f.afterChunk != nil {
			f.afterChunk(table.Name, batch)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.tables[table.Name]
	if target == nil || table.Policy == domain.PolicyReplace {
		target = map[string][]string{}
		f.tables[table.Name] = target
	}
	pk := pkIndexes(table)
	for _, row := range staged {
		key := make([]string, 0, len(pk))
		for _, i := range pk {
			key = append(key, row[i])
		}
		k := strings.Join(key, "|")
		if _, exists := target[k]; exists {
			continue
		}
		target[k] = row
		result.Inserted++
	}
	result.Seen = int64(len(staged))
	return result, nil
}

func (f *fakeLoader) callsFor(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[table]
}

func (f *fakeLoader) rows(table string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table]
}

func pkIndexes(table domain.Table) []int {
	var idx []int
	for _, name := range table.PrimaryKey {
		for i, c := range table.Columns {
			if c.Name == name {
				idx = append(idx, i)
			}
		}
	}
	return idx
}

// fakeCodes serves codes straight from the fake loader's aux tables.
type fakeCodes struct {
	loader *fakeLoader
	loads  map[string]int
	// failFor pops one error per Codes call for the named auxiliary table.
	failFor map[string][]error
	mu      sync.Mutex
}

func (f *fakeCodes) Codes(ctx context.Context, auxTable string) ([]string, error) {
	f.mu.Lock()
	if f.loads == nil {
		f.loads = map[string]int{}
	}
	f.loads[auxTable]++
	if errs := f.failFor[auxTable]; len(errs) > 0 {
		f.failFor[auxTable] = errs[1:]
		f.mu.Unlock()
		return nil, errs[0]
	}
	f.mu.Unlock()

	var codes []string
	for code := range f.loader.rows(auxTable) {
		codes = append(codes, code)
	}
	return codes, nil
}

type fakeStats struct{}

func (fakeStats) LiveCounts(ctx context.Context, tables []string) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, t := range tables {
		counts[t] = 0
	}
	return counts, nil
}

// memoryStore is an in-memory tracking store.
type memoryStore struct {
	mu         sync.Mutex
	executions map[string]*domain.Execution
	files      []*domain.FileTracking
	chunks     map[string]*domain.ChunkTracking
	logs       []domain.LogEntry
	discrep    map[int64]*domain.Discrepancy
	nextExec   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		executions: map[string]*domain.Execution{},
		chunks:     map[string]*domain.ChunkTracking{},
		discrep:    map[int64]*domain.Discrepancy{},
	}
}

func (s *memoryStore) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExec++
	exec.ID = fmt.Sprintf("exec-%d", s.nextExec)
	exec.StartedAt = time.Now()
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *memoryStore) SetExecutionFiles(ctx context.Context, executionID string, totalFiles int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[executionID].TotalFiles = totalFiles
	return nil
}

func (s *memoryStore) FinalizeExecution(ctx context.Context, executionID string, status domain.ExecutionStatus, errorDetail string) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec := s.executions[executionID]
	exec.Status = status
	exec.ErrorDetail = errorDetail
	exec.FilesCompleted, exec.TotalRecordsImported = 0, 0
	exec.HasErrors = errorDetail != "" || status == domain.ExecutionFailed
	for _, f := range s.files {
		if f.ExecutionID != executionID {
			continue
		}
		switch f.Status {
		case domain.FileCompleted:
			exec.FilesCompleted++
			exec.TotalRecordsImported += f.TotalImportedRecords
		case domain.FileFailed, domain.FilePartial:
			exec.HasErrors = true
		}
	}
	now := time.Now()
	exec.FinishedAt = &now
	cp := *exec
	return &cp, nil
}

func (s *memoryStore) LatestFile(ctx context.Context, fileName, hash string) (*domain.FileTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.files) - 1; i >= 0; i-- {
		f := s.files[i]
		if f.FileName == fileName && f.Hash == hash && f.ReusedFrom == nil {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) CreateFile(ctx context.Context, file *domain.FileTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file.Status == "" {
		file.Status = domain.FileRunning
	}
	file.ID = int64(len(s.files) + 1)
	cp := *file
	s.files = append(s.files, &cp)
	return nil
}

func (s *memoryStore) ResumeFile(ctx context.Context, file *domain.FileTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.files[file.ID-1]
	row.ExecutionID = file.ExecutionID
	row.Status = domain.FileRunning
	row.ErrorMessage = ""
	row.ChunksCompleted = 0
	return nil
}

func (s *memoryStore) CompleteFile(ctx context.Context, file *domain.FileTracking, discrepancy *domain.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file.Status = domain.FileCompleted
	file.HasDiscrepancy = discrepancy != nil
	cp := *file
	s.files[file.ID-1] = &cp
	s.discrep[file.ID] = discrepancy
	return nil
}

func (s *memoryStore) FailFile(ctx context.Context, fileID int64, status domain.FileStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileID-1].Status = status
	s.files[fileID-1].ErrorMessage = reason
	return nil
}

func chunkKey(fileID int64, number int) string { return fmt.Sprintf("%d/%d", fileID, number) }

func (s *memoryStore) StartChunk(ctx context.Context, chunk *domain.ChunkTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *chunk
	cp.Status = domain.ChunkRunning
	s.chunks[chunkKey(chunk.FileTrackingID, chunk.ChunkNumber)] = &cp
	return nil
}

func (s *memoryStore) FinishChunk(ctx context.Context, chunk *domain.ChunkTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.chunks[chunkKey(chunk.FileTrackingID, chunk.ChunkNumber)]
	row.Status = chunk.Status
	row.RecordsProcessed = chunk.RecordsProcessed
	if chunk.Status == domain.ChunkCompleted {
		s.files[chunk.FileTrackingID-1].ChunksCompleted++
	}
	return nil
}

func (s *memoryStore) RollbackChunks(ctx context.Context, fileID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.FileTrackingID == fileID {
			c.Status = domain.ChunkFailed
			c.RecordsProcessed = 0
			c.ErrorMessage = reason
		}
	}
	s.files[fileID-1].ChunksCompleted = 0
	return nil
}

// chunksOf returns the chunk rows of a file ordered by chunk number.
func (s *memoryStore) chunksOf(fileID int64) []domain.ChunkTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChunkTracking
	for _, c := range s.chunks {
		if c.FileTrackingID == fileID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out
}

func (s *memoryStore) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memoryStore) filesOf(executionID string) []domain.FileTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FileTracking
	for _, f := range s.files {
		if f.ExecutionID == executionID {
			out = append(out, *f)
		}
	}
	return out
}

func (s *memoryStore) fileByTable(executionID, table string) *domain.FileTracking {
	for _, f := range s.filesOf(executionID) {
		if f.TableName == table {
			return &f
		}
	}
	return nil
}

type recordingObserver struct {
	mu        sync.Mutex
	snapshots []domain.Progress
}

func (o *recordingObserver) OnProgress(p domain.Progress) {
	o.mu.Lock()
	o.snapshots = append(o.snapshots, p)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []domain.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Progress(nil), o.snapshots...)
}
