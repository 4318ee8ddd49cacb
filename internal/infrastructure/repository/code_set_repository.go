package repository

import (
	"context"
	"fmt"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"gorm.io/gorm"
)

type CodeSetRepository struct {
	db *gorm.DB
}

func NewCodeSetRepository(db *gorm.DB) *CodeSetRepository {
	return &CodeSetRepository{db: db}
}

// Codes lists the primary keys of an auxiliary table. Database failures are
// tagged transient or fatal.
func (r *CodeSetRepository) Codes(ctx context.Context, auxTable string) ([]string, error) {
	table, ok := domain.TableByName(auxTable)
	if !ok || !table.IsAuxiliary() {
		return nil, fmt.Errorf("codes: %s is not an auxiliary table", auxTable)
	}

	var codes []string
	if err := r.db.WithContext(ctx).Table(table.Name).Pluck(table.PrimaryKey[0], &codes).Error; err != nil {
		return nil, classifyDBError("load codes of "+table.Name, err)
	}
	return codes, nil
}
