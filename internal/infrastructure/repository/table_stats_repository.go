package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type TableStatsRepository struct {
	db *gorm.DB
}

func NewTableStatsRepository(db *gorm.DB) *TableStatsRepository {
	return &TableStatsRepository{db: db}
}

type liveCount struct {
	Relname  string
	NLiveTup int64 `gorm:"column:n_live_tup"`
}

// LiveCounts reads the planner's live tuple estimate. Tables the statistics
// collector has not seen yet report zero.
func (r *TableStatsRepository) LiveCounts(ctx context.Context, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		counts[t] = 0
	}
	if len(tables) == 0 {
		return counts, nil
	}

	var rows []liveCount
	err := r.db.WithContext(ctx).
		Raw("SELECT relname, n_live_tup FROM pg_stat_user_tables WHERE schemaname = current_schema() AND relname IN ?", tables).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("live counts: %w", err)
	}
	for _, row := range rows {
		counts[row.Relname] = row.NLiveTup
	}
	return counts, nil
}
