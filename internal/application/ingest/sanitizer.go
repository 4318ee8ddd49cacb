package ingest

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

// Sanitizer blanks foreign-key values absent from their auxiliary table. Code
// sets are loaded once per process and dropped when an auxiliary table is
// reloaded.
type Sanitizer struct {
	source domain.CodeSource

	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewSanitizer(source domain.CodeSource) *Sanitizer {
	return &Sanitizer{source: source, sets: make(map[string]map[string]struct{})}
}

// Prepare loads the code sets referenced by a table.
func (s *Sanitizer) Prepare(ctx context.Context, table domain.Table) error {
	for _, aux := range table.ForeignKeys() {
		if _, err := s.codes(ctx, aux); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sanitizer) codes(ctx context.Context, aux string) (map[string]struct{}, error) {
	s.mu.RLock()
	set, ok := s.sets[aux]
	s.mu.RUnlock()
	if ok {
		return set, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[aux]; ok {
		return set, nil
	}
	codes, err := s.source.Codes(ctx, aux)
	if err != nil {
		return nil, fmt.Errorf("load code set %s: %w", aux, err)
	}
	set = make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	s.sets[aux] = set
	return set, nil
}

func (s *Sanitizer) Invalidate(auxTable string) {
	s.mu.Lock()
	delete(s.sets, auxTable)
	s.mu.Unlock()
}

// Sanitize rewrites unknown codes of the batch in place and returns how many
// values were blanked.
func (s *Sanitizer) Sanitize(ctx context.Context, table domain.Table, batch *domain.Batch) (int, error) {
	fks := table.ForeignKeys()
	if len(fks) == 0 {
		return 0, nil
	}

	sets := make(map[int]map[string]struct{}, len(fks))
	for idx, aux := range fks {
		set, err := s.codes(ctx, aux)
		if err != nil {
			return 0, err
		}
		sets[idx] = set
	}

	replaced := 0
	for _, row := range batch.Rows {
		for idx, set := range sets {
			value := row[idx]
			if value == "" {
				continue
			}
			if _, ok := set[value]; !ok {
				row[idx] = ""
				replaced++
			}
		}
	}
	return replaced, nil
}

// sanitizingSource applies the sanitizer to every batch it forwards.
type sanitizingSource struct {
	source    domain.BatchSource
	sanitizer *Sanitizer
	table     domain.Table
	replaced  int64
}

func (s *sanitizingSource) Next(ctx context.Context) (*domain.Batch, error) {
	batch, err := s.source.Next(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.sanitizer.Sanitize(ctx, s.table, batch)
	if err != nil {
		return nil, err
	}
	s.replaced += int64(n)
	return batch, nil
}
