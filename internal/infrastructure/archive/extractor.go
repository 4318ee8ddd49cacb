package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

const selfTestBytes = 64 << 10

// Extractor validates downloaded archives and extracts the CSV they enclose
// into the staging directory.
type Extractor struct {
	stagingDir string
	logger     *zap.Logger
}

func NewExtractor(stagingDir string, logger *zap.Logger) *Extractor {
	return &Extractor{stagingDir: stagingDir, logger: logger.Named("extractor")}
}

func rejected(archivePath, reason string, err error) error {
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	return domain.NewPipelineError(domain.KindCorruptArchive, "validate "+filepath.Base(archivePath),
		fmt.Errorf("%w: %s", domain.ErrCorruptArchive, reason))
}

// Validate applies the archive rules in order and returns the entry to extract.
// The caller must close the returned reader.
func (e *Extractor) Validate(archivePath string) (*zip.ReadCloser, *zip.File, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, nil, rejected(archivePath, "archive does not exist", err)
	}
	if info.Size() == 0 {
		return nil, nil, rejected(archivePath, "archive is empty", nil)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, nil, rejected(archivePath, "unrecognised archive format", err)
	}

	var entry *zip.File
	hasData := false
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if entry == nil {
			entry = f
		}
		if f.UncompressedSize64 > 0 {
			hasData = true
			break
		}
	}
	if entry == nil || !hasData {
		reader.Close()
		return nil, nil, rejected(archivePath, "archive has no non-empty file entry", nil)
	}

	if err := selfTest(entry); err != nil {
		e.logger.Warn("archive self-test failed",
			zap.String("archive", filepath.Base(archivePath)),
			zap.String("entry", entry.Name),
			zap.Error(err))
	}
	return reader, entry, nil
}

// selfTest decompresses the head of an entry. Its outcome is advisory.
func selfTest(entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.CopyN(io.Discard, rc, selfTestBytes); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Extract writes the first file entry of the archive into the staging
// directory, reusing an existing extraction of the same name.
func (e *Extractor) Extract(ctx context.Context, archivePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader, entry, err := e.Validate(archivePath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	dest := filepath.Join(e.stagingDir, filepath.Base(entry.Name))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		e.logger.Debug("reusing extracted csv", zap.String("path", dest))
		return dest, nil
	}

	if err := os.MkdirAll(e.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	partial := dest + ".part"
	if err := e.writeEntry(ctx, entry, partial); err != nil {
		os.Remove(partial)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", rejected(archivePath, "extract "+entry.Name, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		return "", fmt.Errorf("rename %s: %w", partial, err)
	}

	e.logger.Info("csv extracted",
		zap.String("archive", filepath.Base(archivePath)),
		zap.String("path", dest),
		zap.Uint64("bytes", entry.UncompressedSize64))
	return dest, nil
}

// Discard removes a previous extraction so a fresh archive is re-extracted.
func (e *Extractor) Discard(archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil
	}
	defer reader.Close()
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest := filepath.Join(e.stagingDir, filepath.Base(f.Name))
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", dest, err)
		}
		return nil
	}
	return nil
}

func (e *Extractor) writeEntry(ctx context.Context, entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &contextReader{ctx: ctx, reader: rc}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
