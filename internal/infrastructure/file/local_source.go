package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

// LocalSource lists archives already present in the download directory. It
// stands in for the remote index when downloading is disabled.
type LocalSource struct {
	BaseDir string
}

func NewLocalSource(baseDir string) *LocalSource {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalSource{BaseDir: baseDir}
}

func (s *LocalSource) Discover(ctx context.Context) ([]domain.Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("list archives in %s: %w", s.BaseDir, err)
	}

	archives := make([]domain.Archive, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".zip") {
			continue
		}
		class := domain.Classify(name)
		if class == domain.ClassUnclassified {
			continue
		}
		archives = append(archives, domain.Archive{Name: name, Classification: class})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Name < archives[j].Name })
	return archives, nil
}
