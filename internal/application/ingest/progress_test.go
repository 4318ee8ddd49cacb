package ingest_test

import (
	"math"
	"testing"

	"github.com/mohammadpnp/cnpj-import/internal/application/ingest"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func TestProgressTrackerWeightsPlannedStages(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	tracker := ingest.NewProgressTracker(observer)
	tracker.SetTableCounts(map[string]int64{"cnaes": 10})

	tracker.Begin("exec-1")
	if got := tracker.Snapshot(); got.State != domain.StateRunning || got.TableCounts["cnaes"] != 10 {
		t.Fatalf("expected running state with kept counts, got %+v", got)
	}

	tracker.Plan([]domain.Archive{
		{Name: "Cnaes.zip", Classification: domain.ClassActivity},
		{Name: "Paises.zip", Classification: domain.ClassCountry},
		{Name: "Empresas0.zip", Classification: domain.ClassEntity},
	})

	// Auxiliary and entity stages weigh 5 and 20, so 25 in total.
	tracker.FileStarted(domain.StageAuxiliary, domain.CurrentFile{Name: "CNAECSV", Table: "cnaes"})
	tracker.FileFinished(domain.StageAuxiliary, true)
	tracker.FileStarted(domain.StageAuxiliary, domain.CurrentFile{Name: "PAISCSV", Table: "paises"})
	tracker.FileFinished(domain.StageAuxiliary, false)
	if got := tracker.Snapshot().Percent; !approx(got, 20) {
		t.Fatalf("expected 20%%, got %.4f", got)
	}

	tracker.FileStarted(domain.StageEntities, domain.CurrentFile{Name: "EMPRECSV", Table: "empresas", TotalLines: 100})
	tracker.ChunkProgress(1, 50)
	snap := tracker.Snapshot()
	if !approx(snap.Percent, 60) {
		t.Fatalf("expected 60%%, got %.4f", snap.Percent)
	}
	if snap.CurrentFile == nil || snap.CurrentFile.Chunk != 1 || snap.CurrentFile.RowsCopied != 50 {
		t.Fatalf("unexpected current file %+v", snap.CurrentFile)
	}
	if snap.CompletedFiles != 1 || snap.TotalFiles != 3 {
		t.Fatalf("expected 1 of 3 files completed, got %d of %d", snap.CompletedFiles, snap.TotalFiles)
	}

	tracker.Error("EMPRECSV: boom")
	tracker.Finish(domain.StateFailed)
	final := tracker.Snapshot()
	if final.State != domain.StateFailed || !approx(final.Percent, 60) || final.FinishedAt == nil {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if len(final.Errors) != 1 || final.CurrentFile != nil {
		t.Fatalf("unexpected final snapshot %+v", final)
	}

	if len(observer.all()) == 0 {
		t.Fatalf("expected observer notifications")
	}
}

func TestProgressTrackerSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	tracker := ingest.NewProgressTracker()
	tracker.Begin("exec-1")
	tracker.FileStarted(domain.StageEntities, domain.CurrentFile{Name: "EMPRECSV", Table: "empresas"})

	snap := tracker.Snapshot()
	snap.CurrentFile.Name = "changed"
	snap.Errors = append(snap.Errors, "changed")

	again := tracker.Snapshot()
	if again.CurrentFile.Name != "EMPRECSV" || len(again.Errors) != 0 {
		t.Fatalf("expected snapshot to be isolated, got %+v", again)
	}
}

func TestProgressTrackerIdleByDefault(t *testing.T) {
	t.Parallel()

	snap := ingest.NewProgressTracker().Snapshot()
	if snap.State != domain.StateIdle || snap.Percent != 0 || snap.Errors == nil {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
}
