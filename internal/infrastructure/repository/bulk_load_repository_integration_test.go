package repository_test

import (
	"context"
	"errors"
	"io"
	"testing"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/repository"
	"go.uber.org/zap"
)

type sliceSource struct {
	batches []*domain.Batch
	next    int
}

func newSliceSource(t *testing.T, table domain.Table, chunks ...[][]string) *sliceSource {
	t.Helper()

	src := &sliceSource{}
	var offset int64
	for i, records := range chunks {
		batch := &domain.Batch{Number: i, Offset: offset, Lines: len(records)}
		for _, record := range records {
			row, err := domain.CoerceRow(table, append([]string(nil), record...))
			if err != nil {
				t.Fatalf("coerce: %v", err)
			}
			batch.Rows = append(batch.Rows, row)
		}
		offset += int64(len(records))
		src.batches = append(src.batches, batch)
	}
	return src
}

func (s *sliceSource) Next(context.Context) (*domain.Batch, error) {
	if s.next >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}

type recordingHooks struct {
	started  []int
	copied   []int
	failAt   int
	failWith error
}

func (h *recordingHooks) ChunkStarted(_ context.Context, b *domain.Batch) error {
	h.started = append(h.started, b.Number)
	if h.failWith != nil && b.Number == h.failAt {
		return h.failWith
	}
	return nil
}

func (h *recordingHooks) ChunkCopied(_ context.Context, b *domain.Batch) error {
	h.copied = append(h.copied, b.Number)
	return nil
}

func mustTable(t *testing.T, name string) domain.Table {
	t.Helper()
	table, ok := domain.TableByName(name)
	if !ok {
		t.Fatalf("unknown table %s", name)
	}
	return table
}

func TestBulkLoadEntitiesCoercesCapitalIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	repo := repository.NewBulkLoadRepository(pool, zap.NewNop())
	table := mustTable(t, domain.TableEntities)

	src := newSliceSource(t, table, [][]string{
		{"00000000", "BANCO DO BRASIL SA", "2038", "10", "1.500,00", "05", ""},
		{"00000001", "EMPRESA SEM CAPITAL", "2062", "49", "", "01", ""},
	})
	hooks := &recordingHooks{}

	result, err := repo.Load(context.Background(), table, src, hooks)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if result.Seen != 2 || result.Inserted != 2 || result.Chunks != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(hooks.started) != 1 || len(hooks.copied) != 1 {
		t.Fatalf("expected hooks around one chunk, got %v / %v", hooks.started, hooks.copied)
	}

	var capital string
	if err := db.Raw("SELECT capital_social::text FROM empresas WHERE cnpj_basico = ?", "00000000").Scan(&capital).Error; err != nil {
		t.Fatalf("query capital: %v", err)
	}
	if capital != "1500.00" {
		t.Fatalf("expected capital 1500.00, got %s", capital)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM empresas WHERE cnpj_basico = ? AND capital_social = 0", "00000001"); n != 1 {
		t.Fatalf("expected empty capital stored as zero, got %d rows", n)
	}
}

func TestBulkLoadSkipsDuplicatesIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	repo := repository.NewBulkLoadRepository(pool, zap.NewNop())
	table := mustTable(t, domain.TableSimples)

	first := newSliceSource(t, table,
		[][]string{{"11111111", "S", "20070701", "00000000", "N", "", ""}},
		[][]string{{"11111111", "N", "20080101", "", "N", "", ""}, {"22222222", "S", "20090101", "", "S", "20090101", ""}},
	)
	result, err := repo.Load(context.Background(), table, first, nil)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if result.Seen != 3 || result.Inserted != 2 || result.Skipped() != 1 {
		t.Fatalf("unexpected first result: %+v", result)
	}

	var option string
	if err := db.Raw("SELECT opcao_pelo_simples FROM simples WHERE cnpj_basico = ?", "11111111").Scan(&option).Error; err != nil {
		t.Fatalf("query simples: %v", err)
	}
	if option != "S" {
		t.Fatalf("expected first write to win, got %q", option)
	}

	again := newSliceSource(t, table, [][]string{{"22222222", "S", "20090101", "", "S", "20090101", ""}})
	result, err = repo.Load(context.Background(), table, again, nil)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if result.Inserted != 0 || result.Seen != 1 {
		t.Fatalf("expected reload to insert nothing, got %+v", result)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM simples"); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestBulkLoadReplacesAuxiliaryTableIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	repo := repository.NewBulkLoadRepository(pool, zap.NewNop())
	table := mustTable(t, domain.TableCountries)

	if _, err := repo.Load(context.Background(), table, newSliceSource(t, table, [][]string{{"105", "BRASIL"}, {"999", "OBSOLETO"}}), nil); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	result, err := repo.Load(context.Background(), table, newSliceSource(t, table, [][]string{{"105", "BRASIL"}, {"249", "ESTADOS UNIDOS"}}), nil)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if result.Inserted != 2 {
		t.Fatalf("expected 2 inserted after replace, got %d", result.Inserted)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM paises WHERE codigo = ?", "999"); n != 0 {
		t.Fatal("expected stale code to be removed")
	}
}

func TestBulkLoadGeneratesEstablishmentIdentifierIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	repo := repository.NewBulkLoadRepository(pool, zap.NewNop())
	table := mustTable(t, domain.TableEstablishments)

	record := make([]string, len(table.Columns))
	record[0], record[1], record[2] = "12345678", "0001", "95"
	record[6] = "20200230"
	record[10] = "20150315"

	if _, err := repo.Load(context.Background(), table, newSliceSource(t, table, [][]string{record}), nil); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var row struct {
		Cnpj                  string
		DataSituacaoCadastral string
		DataInicioAtividade   string
	}
	if err := db.Raw("SELECT cnpj, data_situacao_cadastral, data_inicio_atividade FROM estabelecimentos").Scan(&row).Error; err != nil {
		t.Fatalf("query establishment: %v", err)
	}
	if row.Cnpj != "12345678000195" {
		t.Fatalf("unexpected cnpj %q", row.Cnpj)
	}
	if row.DataSituacaoCadastral != "" || row.DataInicioAtividade != "2015-03-15" {
		t.Fatalf("unexpected dates: %+v", row)
	}
}

func TestBulkLoadRollsBackOnFailureIntegration(t *testing.T) {
	db, pool := openTestDB(t)
	repo := repository.NewBulkLoadRepository(pool, zap.NewNop())
	table := mustTable(t, domain.TableActivities)

	src := newSliceSource(t, table,
		[][]string{{"0111301", "Cultivo de arroz"}},
		[][]string{{"0111302", "Cultivo de milho"}},
	)
	hooks := &recordingHooks{failAt: 1, failWith: domain.ErrStopRequested}

	_, err := repo.Load(context.Background(), table, src, hooks)
	if !errors.Is(err, domain.ErrStopRequested) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM cnaes"); n != 0 {
		t.Fatalf("expected no rows after rollback, got %d", n)
	}
}
