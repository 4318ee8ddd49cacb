package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

// BulkLoadRepository loads one CSV into its target table inside a single
// transaction: batches are copied into a temporary staging table and merged
// into the target once the source is exhausted.
type BulkLoadRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewBulkLoadRepository(pool *pgxpool.Pool, logger *zap.Logger) *BulkLoadRepository {
	return &BulkLoadRepository{pool: pool, logger: logger.Named("bulk_loader")}
}

func (r *BulkLoadRepository) Load(ctx context.Context, table domain.Table, source domain.BatchSource, hooks domain.ChunkHooks) (domain.LoadResult, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.LoadResult{}, classifyDBError("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return domain.LoadResult{}, classifyDBError("begin tx", err)
	}
	defer tx.Rollback(context.Background())

	target := pgx.Identifier{table.Name}.Sanitize()
	staging := pgx.Identifier{"stg_" + table.Name}.Sanitize()
	columns := table.ColumnNames()
	columnList := quoteColumns(columns)

	// Bulk statements run without the short-query timeout.
	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = 0"); err != nil {
		return domain.LoadResult{}, classifyDBError("disable statement timeout", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS INCLUDING GENERATED) ON COMMIT DROP",
		staging, target,
	)); err != nil {
		return domain.LoadResult{}, classifyDBError("create staging table", err)
	}

	result := domain.LoadResult{}
	for {
		batch, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read batch %d: %w", result.Chunks, err)
		}

		if hooks != nil {
			if err := hooks.ChunkStarted(ctx, batch); err != nil {
				return result, err
			}
		}

		if len(batch.Rows) > 0 {
			rows, err := copyRows(table, batch.Rows)
			if err != nil {
				return result, domain.NewPipelineError(domain.KindParse, fmt.Sprintf("encode chunk %d", batch.Number), err)
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stg_" + table.Name}, columns, pgx.CopyFromRows(rows)); err != nil {
				return result, classifyDBError(fmt.Sprintf("copy chunk %d", batch.Number), err)
			}
		}
		result.Chunks++

		if hooks != nil {
			if err := hooks.ChunkCopied(ctx, batch); err != nil {
				return result, err
			}
		}
	}

	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+staging).Scan(&result.Seen); err != nil {
		return result, classifyDBError("count staging rows", err)
	}

	if table.Policy == domain.PolicyReplace {
		if _, err := tx.Exec(ctx, "DELETE FROM "+target); err != nil {
			return result, classifyDBError("clear "+table.Name, err)
		}
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		target, columnList, columnList, staging, quoteColumns(table.PrimaryKey),
	))
	if err != nil {
		return result, classifyDBError("merge into "+table.Name, err)
	}
	result.Inserted = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return result, classifyDBError("commit "+table.Name, err)
	}

	r.logger.Info("table loaded",
		zap.String("table", table.Name),
		zap.Int("chunks", result.Chunks),
		zap.Int64("seen", result.Seen),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("skipped", result.Skipped()))
	return result, nil
}

func copyRows(table domain.Table, rows [][]string) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		values := make([]any, len(row))
		for i, value := range row {
			if table.Columns[i].Kind != domain.KindDecimal {
				values[i] = value
				continue
			}
			var n pgtype.Numeric
			if err := n.Scan(value); err != nil {
				return nil, fmt.Errorf("column %s value %q: %w", table.Columns[i].Name, value, err)
			}
			values[i] = n
		}
		out = append(out, values)
	}
	return out, nil
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// classifyDBError tags database failures as transient or fatal. Context
// cancellation and stop requests pass through unchanged.
func classifyDBError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrStopRequested) {
		return err
	}
	kind := domain.KindDatabaseFatal
	if IsTransientDBError(err) {
		kind = domain.KindDatabaseTransient
	}
	return domain.NewPipelineError(kind, op, err)
}

// IsTransientDBError reports connection failures, serialization failures and
// deadlocks.
func IsTransientDBError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case pgErr.Code == "57P01", pgErr.Code == "53300":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, io.ErrUnexpectedEOF)
}
