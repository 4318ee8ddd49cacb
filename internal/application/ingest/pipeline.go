package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Re-downloads attempted after an archive is rejected.
	extractRetries = 3
	// Whole-file retries after a transient database failure.
	transientLoadRetries = 1
	maxErrorLength       = 1000
)

type PipelineConfig struct {
	Host       string
	ChunkSize  int
	MaxWorkers int
}

// RunOptions are the per-run toggles. An empty Tables selects every table.
type RunOptions struct {
	Download bool
	Import   bool
	Tables   []string
}

type PipelineDeps struct {
	Remote     domain.ArchiveDiscoverer
	Local      domain.ArchiveDiscoverer
	Downloader domain.ArchiveDownloader
	Extractor  domain.ArchiveExtractor
	Inspector  domain.CSVInspector
	Readers    domain.BatchReaderFactory
	Loader     domain.BulkLoader
	Store      domain.TrackingStore
	Stats      domain.TableStats
	Sanitizer  *Sanitizer
	Tracker    *ProgressTracker
	Logger     *zap.Logger
}

// Pipeline runs one ingestion: discovery, downloads, then every CSV loaded in
// dependency order under a tracked execution.
type Pipeline struct {
	PipelineDeps
	cfg PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50000
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	if deps.Tracker == nil {
		deps.Tracker = NewProgressTracker()
	}
	deps.Logger = deps.Logger.Named("pipeline")
	return &Pipeline{PipelineDeps: deps, cfg: cfg}
}

// run carries the state of one execution.
type run struct {
	exec   *domain.Execution
	opts   RunOptions
	stop   *StopFlag
	events *eventLog

	downloads map[string]*download
	fetches   *downloadSet
	errMu     sync.Mutex
	errs      []string
}

func (r *run) addError(message string) {
	r.errMu.Lock()
	r.errs = append(r.errs, message)
	r.errMu.Unlock()
}

func (r *run) errorDetail() string {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return truncate(strings.Join(r.errs, "; "))
}

// download is the future of one archive fetch.
type download struct {
	done chan struct{}
	path string
	err  error
}

type downloadSet struct {
	group    errgroup.Group
	launched chan struct{}
}

// Wait blocks until every download has been scheduled and has finished.
func (d *downloadSet) Wait() error {
	<-d.launched
	return d.group.Wait()
}

// Run executes the pipeline until completion, failure or a stop request.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions, stop *StopFlag) (*domain.Execution, error) {
	if stop == nil {
		stop = NewStopFlag()
	}
	exec := &domain.Execution{
		Host:       p.cfg.Host,
		ChunkSize:  p.cfg.ChunkSize,
		MaxWorkers: p.cfg.MaxWorkers,
		Status:     domain.ExecutionRunning,
	}
	if err := p.Store.CreateExecution(ctx, exec); err != nil {
		p.Tracker.Begin("")
		p.Tracker.Error(err.Error())
		p.Tracker.Finish(domain.StateFailed)
		return nil, fmt.Errorf("start execution: %w", err)
	}

	r := &run{
		exec:      exec,
		opts:      opts,
		stop:      stop,
		events:    &eventLog{store: p.Store, logger: p.Logger, executionID: exec.ID},
		downloads: map[string]*download{},
	}
	p.Tracker.Begin(exec.ID)
	r.events.info(ctx, nil, "execution started", map[string]any{
		"host":        exec.Host,
		"chunk_size":  exec.ChunkSize,
		"max_workers": exec.MaxWorkers,
		"download":    opts.Download,
		"import":      opts.Import,
		"tables":      opts.Tables,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	status, runErr := p.execute(runCtx, r)
	cancel()
	if r.fetches != nil {
		r.fetches.Wait()
	}
	if runErr != nil {
		r.addError(runErr.Error())
	}

	final, err := p.Store.FinalizeExecution(context.WithoutCancel(ctx), exec.ID, status, r.errorDetail())
	if err != nil {
		p.Logger.Error("failed to finalize execution", zap.String("execution_id", exec.ID), zap.Error(err))
		final = exec
		final.Status = status
	}
	p.refreshCounts(context.WithoutCancel(ctx))
	p.Tracker.Finish(runState(status))

	r.events.info(ctx, nil, "execution finished", map[string]any{
		"status":           string(status),
		"files_completed":  final.FilesCompleted,
		"records_imported": final.TotalRecordsImported,
		"has_errors":       final.HasErrors,
	})
	return final, runErr
}

func runState(status domain.ExecutionStatus) domain.RunState {
	switch status {
	case domain.ExecutionCompleted:
		return domain.StateCompleted
	case domain.ExecutionStopped:
		return domain.StateStopped
	default:
		return domain.StateFailed
	}
}

func (p *Pipeline) execute(ctx context.Context, r *run) (domain.ExecutionStatus, error) {
	archives, err := p.discover(ctx, r)
	if err != nil {
		r.events.fail(ctx, nil, "archive discovery failed", map[string]any{"error": err.Error()})
		return domain.ExecutionFailed, err
	}
	archives = selectArchives(archives, r.opts.Tables)
	if len(archives) == 0 {
		r.events.fail(ctx, nil, "no archives to process", nil)
		return domain.ExecutionFailed, domain.ErrNoArchives
	}

	if err := p.Store.SetExecutionFiles(ctx, r.exec.ID, int64(len(archives))); err != nil {
		return domain.ExecutionFailed, err
	}
	p.Tracker.Plan(archives)
	r.events.info(ctx, nil, "archives discovered", map[string]any{"archives": len(archives)})

	r.fetches = p.startDownloads(ctx, r, archives)

	if !r.opts.Import {
		p.Tracker.Step("downloading archives")
		err := r.fetches.Wait()
		if r.stop.Requested() {
			return domain.ExecutionStopped, nil
		}
		return domain.ExecutionCompleted, err
	}

	for _, stage := range domain.Stages {
		for _, archive := range archives {
			table, _ := domain.TableFor(archive.Classification)
			if table.Stage != stage {
				continue
			}
			if r.stop.Requested() {
				r.events.info(ctx, nil, "stop requested, leaving the run", nil)
				return domain.ExecutionStopped, nil
			}

			err := p.processArchive(ctx, r, archive, table)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrStopRequested):
				return domain.ExecutionStopped, nil
			case errors.Is(err, context.Canceled):
				return domain.ExecutionStopped, err
			case table.IsAuxiliary():
				return domain.ExecutionFailed, fmt.Errorf("%w: %s: %v", domain.ErrAuxTableFailed, table.Name, err)
			case domain.KindOf(err) == domain.KindDatabaseFatal:
				return domain.ExecutionFailed, err
			default:
				r.addError(fmt.Sprintf("%s: %v", archive.Name, err))
				p.Tracker.Error(fmt.Sprintf("%s: %v", archive.Name, err))
			}
		}
	}
	return domain.ExecutionCompleted, nil
}

func (p *Pipeline) discover(ctx context.Context, r *run) ([]domain.Archive, error) {
	p.Tracker.Step("discovering archives")
	source := p.Remote
	if !r.opts.Download {
		source = p.Local
	}
	if source == nil {
		return nil, domain.NewPipelineError(domain.KindConfiguration, "discover archives", errors.New("no archive source configured"))
	}
	archives, err := source.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return archives, nil
}

// selectArchives keeps the archives of the requested tables plus every
// auxiliary table when a dependent table is requested.
func selectArchives(archives []domain.Archive, tables []string) []domain.Archive {
	wanted := make(map[string]bool, len(tables))
	withAux := false
	for _, name := range tables {
		wanted[name] = true
		if t, ok := domain.TableByName(name); ok && !t.IsAuxiliary() {
			withAux = true
		}
	}

	out := make([]domain.Archive, 0, len(archives))
	for _, a := range archives {
		table, ok := domain.TableFor(a.Classification)
		if !ok {
			continue
		}
		if len(tables) == 0 || wanted[table.Name] || (withAux && table.IsAuxiliary()) {
			out = append(out, a)
		}
	}
	return out
}

// startDownloads launches one bounded future per archive, leaves first.
func (p *Pipeline) startDownloads(ctx context.Context, r *run, archives []domain.Archive) *downloadSet {
	set := &downloadSet{launched: make(chan struct{})}
	set.group.SetLimit(p.cfg.MaxWorkers)

	ordered := make([]domain.Archive, 0, len(archives))
	for _, stage := range domain.Stages {
		for _, a := range archives {
			if t, _ := domain.TableFor(a.Classification); t.Stage == stage {
				ordered = append(ordered, a)
			}
		}
	}
	for _, a := range ordered {
		r.downloads[a.Name] = &download{done: make(chan struct{})}
	}

	go func() {
		defer close(set.launched)
		for _, archive := range ordered {
			archive := archive
			fut := r.downloads[archive.Name]
			set.group.Go(func() error {
				defer close(fut.done)
				if r.stop.Requested() {
					fut.err = domain.ErrStopRequested
					return nil
				}
				fut.path, fut.err = p.Downloader.Download(ctx, archive)
				if fut.err != nil {
					r.events.warn(ctx, nil, "archive download failed", map[string]any{"archive": archive.Name, "error": fut.err.Error()})
					if !r.opts.Import {
						r.addError(fmt.Sprintf("%s: %v", archive.Name, fut.err))
						return fut.err
					}
				}
				return nil
			})
		}
	}()
	return set
}

func (p *Pipeline) awaitDownload(ctx context.Context, r *run, archive domain.Archive) (string, error) {
	fut := r.downloads[archive.Name]
	select {
	case <-fut.done:
		return fut.path, fut.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.stop.Done():
		return "", domain.ErrStopRequested
	}
}

// acquireCSV waits for the archive and extracts it, fetching a fresh copy
// each time the archive is rejected.
func (p *Pipeline) acquireCSV(ctx context.Context, r *run, archive domain.Archive) (string, error) {
	archivePath, err := p.awaitDownload(ctx, r, archive)
	if err != nil {
		return "", err
	}

	for attempt := 0; ; attempt++ {
		csvPath, err := p.Extractor.Extract(ctx, archivePath)
		if err == nil {
			return csvPath, nil
		}
		if !errors.Is(err, domain.ErrCorruptArchive) || attempt >= extractRetries || archive.URL == "" {
			return "", err
		}

		r.events.warn(ctx, nil, "archive rejected, fetching a fresh copy", map[string]any{
			"archive": archive.Name,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		if err := p.Extractor.Discard(archivePath); err != nil {
			return "", err
		}
		if err := p.Downloader.Discard(archive); err != nil {
			return "", err
		}
		if archivePath, err = p.Downloader.Download(ctx, archive); err != nil {
			return "", err
		}
	}
}

func (p *Pipeline) processArchive(ctx context.Context, r *run, archive domain.Archive, table domain.Table) error {
	p.Tracker.FileStarted(table.Stage, domain.CurrentFile{Name: archive.Name, Table: table.Name})

	csvPath, err := p.acquireCSV(ctx, r, archive)
	if err != nil {
		if errors.Is(err, domain.ErrStopRequested) || errors.Is(err, context.Canceled) {
			p.Tracker.FileFinished(table.Stage, false)
			return err
		}
		p.recordUnreadable(ctx, r, archive, table, err)
		p.Tracker.FileFinished(table.Stage, false)
		return err
	}

	inspection, err := p.Inspector.Inspect(ctx, csvPath)
	if err != nil {
		p.recordUnreadable(ctx, r, archive, table, err)
		p.Tracker.FileFinished(table.Stage, false)
		return err
	}

	latest, err := p.Store.LatestFile(ctx, inspection.Name, inspection.Hash)
	if err != nil {
		p.Tracker.FileFinished(table.Stage, false)
		return err
	}

	file := &domain.FileTracking{
		ExecutionID:    r.exec.ID,
		FileName:       inspection.Name,
		Classification: archive.Classification,
		TableName:      table.Name,
		Hash:           inspection.Hash,
		SizeBytes:      inspection.Size,
		TotalCSVLines:  inspection.Lines,
	}

	switch domain.DecideFile(latest) {
	case domain.ActionSkip:
		err := p.recordSkip(ctx, r, file, latest)
		p.Tracker.FileFinished(table.Stage, err == nil)
		return err
	case domain.ActionResume:
		file.ID = latest.ID
		file.ChunksTotal = latest.ChunksTotal
		if err := p.Store.ResumeFile(ctx, file); err != nil {
			p.Tracker.FileFinished(table.Stage, false)
			return err
		}
		r.events.info(ctx, &file.ID, "resuming file from the first chunk", map[string]any{
			"file":            file.FileName,
			"previous_status": string(latest.Status),
		})
	default:
		if err := p.Store.CreateFile(ctx, file); err != nil {
			p.Tracker.FileFinished(table.Stage, false)
			return err
		}
	}

	p.Tracker.FileStarted(table.Stage, domain.CurrentFile{
		Name:       file.FileName,
		Table:      table.Name,
		TotalLines: file.TotalCSVLines,
		TrackingID: file.ID,
	})
	err = p.loadWithRetry(ctx, r, file, table, csvPath)
	p.Tracker.FileFinished(table.Stage, err == nil)
	if err == nil {
		p.refreshCounts(ctx)
	}
	return err
}

// recordUnreadable stores a failed tracking row for an archive that never
// produced a readable CSV. The hash is unknown and left empty.
func (p *Pipeline) recordUnreadable(ctx context.Context, r *run, archive domain.Archive, table domain.Table, cause error) {
	file := &domain.FileTracking{
		ExecutionID:    r.exec.ID,
		FileName:       archive.Name,
		Classification: archive.Classification,
		TableName:      table.Name,
		Status:         domain.FileFailed,
		ErrorMessage:   truncate(cause.Error()),
	}
	if err := p.Store.CreateFile(ctx, file); err != nil {
		p.Logger.Error("failed to record unreadable archive", zap.String("archive", archive.Name), zap.Error(err))
		return
	}
	if err := p.Store.FailFile(ctx, file.ID, domain.FileFailed, file.ErrorMessage); err != nil {
		p.Logger.Error("failed to close unreadable archive row", zap.String("archive", archive.Name), zap.Error(err))
	}
	r.events.fail(ctx, &file.ID, "archive could not be read", map[string]any{
		"archive": archive.Name,
		"kind":    string(domain.KindOf(cause)),
		"error":   cause.Error(),
	})
}

// recordSkip writes a completed marker row pointing at the attempt that
// already loaded this content.
func (p *Pipeline) recordSkip(ctx context.Context, r *run, file *domain.FileTracking, latest *domain.FileTracking) error {
	now := time.Now().UTC()
	file.StartedAt = now
	file.Status = domain.FileCompleted
	file.ReusedFrom = &latest.ID
	file.SkippedRecords = file.TotalCSVLines
	file.FinishedAt = &now
	if err := p.Store.CreateFile(ctx, file); err != nil {
		return err
	}
	r.events.info(ctx, &file.ID, "file already imported, skipping", map[string]any{
		"file":        file.FileName,
		"reused_from": latest.ID,
		"csv_lines":   file.TotalCSVLines,
	})
	return nil
}

func (p *Pipeline) loadWithRetry(ctx context.Context, r *run, file *domain.FileTracking, table domain.Table, csvPath string) error {
	for attempt := 0; ; attempt++ {
		result, dropped, err := p.loadFile(ctx, r, file, table, csvPath)
		if err == nil {
			return p.completeFile(ctx, r, file, result, dropped)
		}

		if domain.KindOf(err) == domain.KindDatabaseTransient && attempt < transientLoadRetries {
			r.events.warn(ctx, &file.ID, "transient database failure, retrying file", map[string]any{
				"file":  file.FileName,
				"error": err.Error(),
			})
			if ferr := p.Store.RollbackChunks(ctx, file.ID, rolledBack(err)); ferr != nil {
				return ferr
			}
			continue
		}

		status := domain.FileFailed
		message := "file load failed"
		if errors.Is(err, domain.ErrStopRequested) || errors.Is(err, context.Canceled) {
			status = domain.FilePartial
			message = "file load interrupted"
		}
		bg := context.WithoutCancel(ctx)
		if ferr := p.Store.RollbackChunks(bg, file.ID, rolledBack(err)); ferr != nil {
			p.Logger.Error("failed to roll back chunks", zap.Int64("file_tracking_id", file.ID), zap.Error(ferr))
		}
		if ferr := p.Store.FailFile(bg, file.ID, status, truncate(err.Error())); ferr != nil {
			p.Logger.Error("failed to mark file", zap.Int64("file_tracking_id", file.ID), zap.Error(ferr))
		}
		r.events.fail(ctx, &file.ID, message, map[string]any{
			"file":   file.FileName,
			"status": string(status),
			"kind":   string(domain.KindOf(err)),
			"error":  err.Error(),
		})
		return err
	}
}

func (p *Pipeline) loadFile(ctx context.Context, r *run, file *domain.FileTracking, table domain.Table, csvPath string) (domain.LoadResult, int64, error) {
	if err := p.Sanitizer.Prepare(ctx, table); err != nil {
		return domain.LoadResult{}, 0, prepareError(table, err)
	}

	reader, err := p.Readers.Open(ctx, csvPath, table)
	if err != nil {
		return domain.LoadResult{}, 0, err
	}
	defer reader.Close()

	source := &sanitizingSource{source: reader, sanitizer: p.Sanitizer, table: table}
	hooks := &chunkRecorder{
		store:     p.Store,
		tracker:   p.Tracker,
		stop:      r.stop,
		file:      file,
		chunkSize: p.cfg.ChunkSize,
	}
	result, err := p.Loader.Load(ctx, table, source, hooks)
	if err != nil {
		return result, hooks.dropped, err
	}
	if source.replaced > 0 {
		r.events.info(ctx, &file.ID, "unknown foreign keys blanked", map[string]any{
			"file":     file.FileName,
			"replaced": source.replaced,
		})
	}
	return result, hooks.dropped, nil
}

// prepareError keeps the kind the code source assigned. Untagged failures are
// fatal; cancellation and stop requests pass through.
func prepareError(table domain.Table, err error) error {
	if domain.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrStopRequested) {
		return fmt.Errorf("prepare %s: %w", table.Name, err)
	}
	return domain.NewPipelineError(domain.KindDatabaseFatal, "prepare "+table.Name, err)
}

func (p *Pipeline) completeFile(ctx context.Context, r *run, file *domain.FileTracking, result domain.LoadResult, dropped int64) error {
	file.TotalImportedRecords = result.Inserted
	file.SkippedRecords = result.Skipped()
	file.DroppedRows = dropped
	file.ChunksTotal = result.Chunks
	file.ChunksCompleted = result.Chunks

	discrepancy := domain.ComputeDiscrepancy(file.TotalCSVLines, result.Inserted, result.Skipped(), dropped)
	if err := p.Store.CompleteFile(ctx, file, discrepancy); err != nil {
		return err
	}

	details := map[string]any{
		"file":      file.FileName,
		"table":     file.TableName,
		"csv_lines": file.TotalCSVLines,
		"inserted":  result.Inserted,
		"skipped":   result.Skipped(),
		"dropped":   dropped,
	}
	switch {
	case discrepancy != nil && discrepancy.Residual != 0:
		details["residual"] = discrepancy.Residual
		r.events.warn(ctx, &file.ID, "file completed with unexplained discrepancy", details)
	case discrepancy != nil:
		r.events.info(ctx, &file.ID, "file completed with skipped rows", details)
	default:
		r.events.info(ctx, &file.ID, "file completed", details)
	}

	if table, ok := domain.TableByName(file.TableName); ok && table.IsAuxiliary() {
		p.Sanitizer.Invalidate(table.Name)
	}
	return nil
}

func (p *Pipeline) refreshCounts(ctx context.Context) {
	if p.Stats == nil {
		return
	}
	counts, err := p.Stats.LiveCounts(ctx, domain.TargetTableNames())
	if err != nil {
		p.Logger.Debug("live counts unavailable", zap.Error(err))
		return
	}
	p.Tracker.SetTableCounts(counts)
}

// chunkRecorder tracks every chunk of a file load and enforces the stop flag
// and the row rejection threshold between chunks.
type chunkRecorder struct {
	store     domain.TrackingStore
	tracker   *ProgressTracker
	stop      *StopFlag
	file      *domain.FileTracking
	chunkSize int

	copied  int64
	dropped int64
}

func (c *chunkRecorder) ChunkStarted(ctx context.Context, batch *domain.Batch) error {
	if c.stop.Requested() {
		return domain.NewPipelineError(domain.KindStopped, fmt.Sprintf("chunk %d", batch.Number), domain.ErrStopRequested)
	}

	chunk := &domain.ChunkTracking{
		FileTrackingID: c.file.ID,
		ChunkNumber:    batch.Number,
		ChunkOffset:    batch.Offset,
		ChunkSize:      c.chunkSize,
	}
	if err := c.store.StartChunk(ctx, chunk); err != nil {
		return err
	}

	if batch.RejectionExceeded() {
		return domain.NewPipelineError(domain.KindParse, fmt.Sprintf("chunk %d", batch.Number),
			fmt.Errorf("%w: %d of %d rows dropped", domain.ErrTooManyRejectedRows, batch.Dropped, batch.Lines))
	}
	c.tracker.ChunkProgress(batch.Number, c.copied)
	return nil
}

func (c *chunkRecorder) ChunkCopied(ctx context.Context, batch *domain.Batch) error {
	c.copied += int64(len(batch.Rows))
	c.dropped += int64(batch.Dropped)

	err := c.store.FinishChunk(ctx, &domain.ChunkTracking{
		FileTrackingID:   c.file.ID,
		ChunkNumber:      batch.Number,
		ChunkOffset:      batch.Offset,
		ChunkSize:        c.chunkSize,
		RecordsProcessed: len(batch.Rows),
		Status:           domain.ChunkCompleted,
	})
	if err != nil {
		return err
	}
	c.tracker.ChunkProgress(batch.Number, c.copied)
	return nil
}

func rolledBack(err error) string {
	return truncate("rolled back: " + err.Error())
}

// truncate caps a message at maxErrorLength bytes without splitting a rune.
func truncate(reason string) string {
	reason = strings.ToValidUTF8(strings.TrimSpace(reason), "")
	if len(reason) <= maxErrorLength {
		return reason
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
