package file

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

// Inspector hashes an extracted CSV and counts its records in one pass.
type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

// Inspect returns the SHA-256 of the file content, its size and its record
// count. Records are counted the way the batch reader sees them: blank lines
// are ignored, a quoted field spanning lines is one record and an unparsable
// line still counts.
func (i *Inspector) Inspect(ctx context.Context, csvPath string) (domain.CSVInspection, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return domain.CSVInspection{}, fmt.Errorf("open file %s: %w", csvPath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	counter := &byteCounter{}
	tee := io.TeeReader(f, io.MultiWriter(hasher, counter))
	records := newRecordReader(tee)

	var lines int64
	for {
		if lines%inspectCancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return domain.CSVInspection{}, err
			}
		}
		_, err := records.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return domain.CSVInspection{}, fmt.Errorf("read file %s: %w", csvPath, err)
		}
		lines++
	}
	// the decoder may stop short of trailing bytes it never had to read
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return domain.CSVInspection{}, fmt.Errorf("read file %s: %w", csvPath, err)
	}

	return domain.CSVInspection{
		Path:  csvPath,
		Name:  filepath.Base(csvPath),
		Hash:  hex.EncodeToString(hasher.Sum(nil)),
		Size:  counter.n,
		Lines: lines,
	}, nil
}

const inspectCancelEvery = 10000

type byteCounter struct{ n int64 }

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
