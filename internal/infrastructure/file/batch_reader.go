package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const (
	DefaultChunkSize = 50000
	readBufferSize   = 4 << 20
)

// BatchReaderFactory opens headerless, semicolon separated Latin-1 CSVs.
type BatchReaderFactory struct {
	chunkSize int
	logger    *zap.Logger
}

func NewBatchReaderFactory(chunkSize int, logger *zap.Logger) *BatchReaderFactory {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BatchReaderFactory{chunkSize: chunkSize, logger: logger.Named("csv_reader")}
}

func (f *BatchReaderFactory) Open(ctx context.Context, csvPath string, table domain.Table) (domain.BatchReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", csvPath, err)
	}

	return &batchReader{
		file:      fh,
		csv:       newRecordReader(fh),
		table:     table,
		chunkSize: f.chunkSize,
		logger:    f.logger.With(zap.String("file", csvPath), zap.String("table", table.Name)),
	}, nil
}

// newRecordReader applies the source file conventions. The inspector and the
// batch reader share it so both agree on what a record is.
func newRecordReader(r io.Reader) *csv.Reader {
	decoded := charmap.ISO8859_1.NewDecoder().Reader(bufio.NewReaderSize(r, readBufferSize))
	reader := csv.NewReader(decoded)
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

type batchReader struct {
	file      *os.File
	csv       *csv.Reader
	table     domain.Table
	chunkSize int
	logger    *zap.Logger

	number int
	line   int64
	done   bool
}

// Next reads up to chunkSize records. Records that cannot be parsed or carry
// the wrong number of fields are dropped and counted on the batch.
func (r *batchReader) Next(ctx context.Context) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.done {
		return nil, io.EOF
	}

	batch := &domain.Batch{
		Number: r.number,
		Offset: r.line,
		Rows:   make([][]string, 0, r.chunkSize),
	}
	for batch.Lines < r.chunkSize {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		r.line++
		batch.Lines++

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.drop(batch, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", r.line, err)
		}

		row, err := domain.CoerceRow(r.table, record)
		if err != nil {
			r.drop(batch, err)
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	if batch.Lines == 0 {
		return nil, io.EOF
	}
	r.number++
	return batch, nil
}

func (r *batchReader) drop(batch *domain.Batch, err error) {
	batch.Dropped++
	r.logger.Warn("row dropped", zap.Int64("line", r.line), zap.Int("chunk", batch.Number), zap.Error(err))
}

func (r *batchReader) Close() error {
	return r.file.Close()
}
