package migrations

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Serialises concurrent migrate calls across processes.
const advisoryLockKey = 7_341_902_118

//go:embed schema.sql
var schema string

// Statements returns the schema split into individual statements.
func Statements() []string {
	var statements []string
	for _, part := range strings.Split(schema, ";\n") {
		if stmt := stripComments(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func stripComments(part string) string {
	lines := strings.Split(part, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(strings.Join(kept, "\n")), ";"))
}

// Migrate applies the idempotent schema in one transaction.
func Migrate(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	statements := Statements()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for i, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("apply statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	logger.Info("schema migrated", zap.Int("statements", len(statements)))
	return nil
}
