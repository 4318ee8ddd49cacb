package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/db/migrations"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const resetSQL = `
TRUNCATE import_logs, import_chunks, import_files, import_executions;
TRUNCATE cnaes, municipios, motivos, naturezas, paises, qualificacoes, empresas, estabelecimentos, socios, simples;
`

func openTestDB(t *testing.T) (*gorm.DB, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect db: %v", err)
	}
	if err := migrations.Migrate(context.Background(), db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Exec(resetSQL).Error; err != nil {
		t.Fatalf("failed cleanup: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return db, pool
}

func countRows(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()

	var n int64
	if err := db.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}
