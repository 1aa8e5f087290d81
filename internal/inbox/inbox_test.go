package inbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
	"github.com/JonMunkholm/healthingest/internal/storage/memory"
)

const physiciansCSV = "codigo,nome_completo,especialidade,cidade,crm,uf\n" +
	"4f0e5a52-2b1c-4a55-9a3b-0d4c8f3b1a11,Ana Souza,Cardiologia,3550308,123456,SP\n" +
	"9b2d7c31-8e4f-4d1a-b6c2-5a7e9f0d3b22,Bruno Lima,Pediatria,3304557,654321,RJ\n"

func newProcessor(t *testing.T, commit bool) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.New()
	p, err := pipeline.New(pipeline.Config{Schemas: schemas.MustLoad(), Lookup: store})
	if err != nil {
		t.Fatalf("pipeline.New error = %v", err)
	}
	svc := pipeline.NewService(p, store, nil, pipeline.ServiceConfig{})
	return &Processor{Service: svc, Commit: commit}, store
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRun_CommitsAndMoves(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"medicos.csv":   physiciansCSV,
		"pacientes.csv": "id,nome\n4f0e5a52-2b1c-4a55-9a3b-0d4c8f3b1a11,Maria Silva\n",
		"notes.md":      "not ingested",
	})
	p, store := newProcessor(t, true)

	outcomes, err := p.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", outcomes)
	}

	med, pac := outcomes[0], outcomes[1]
	if med.File != "medicos.csv" || med.Committed == nil || med.Committed.Inserted != 2 {
		t.Errorf("medicos outcome = %+v", med)
	}
	if med.MovedTo != filepath.Join(dir, ProcessedDir, "medicos.csv") || !exists(med.MovedTo) {
		t.Errorf("medicos moved to %q", med.MovedTo)
	}
	if !exists(filepath.Join(dir, ProcessedDir, "medicos.csv.report.json")) {
		t.Error("medicos report not written")
	}
	if pac.Status != core.StatusFailed || !exists(filepath.Join(dir, FailedDir, "pacientes.csv")) {
		t.Errorf("pacientes outcome = %+v", pac)
	}
	if !exists(filepath.Join(dir, "notes.md")) {
		t.Error("unsupported file was touched")
	}
	if store.Len() != 2 {
		t.Errorf("store.Len() = %d, want 2", store.Len())
	}
}

func TestRun_DuplicatesStayPending(t *testing.T) {
	p, _ := newProcessor(t, true)
	ctx := context.Background()

	if _, err := p.Run(ctx, writeFiles(t, map[string]string{"medicos.csv": physiciansCSV})); err != nil {
		t.Fatal(err)
	}

	dir := writeFiles(t, map[string]string{"medicos.csv": physiciansCSV})
	outcomes, err := p.Run(ctx, dir)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Committed != nil {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if !strings.Contains(outcomes[0].Error, "BAT002") {
		t.Errorf("Error = %q, want BAT002", outcomes[0].Error)
	}
	if !exists(filepath.Join(dir, "medicos.csv")) {
		t.Error("pending file was moved")
	}
}

func TestRun_NoCommitLeavesFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{"medicos.csv": physiciansCSV})
	p, store := newProcessor(t, false)

	outcomes, err := p.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].BatchID == "" || outcomes[0].MovedTo != "" {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}
}

func TestRun_MissingDir(t *testing.T) {
	p, _ := newProcessor(t, true)
	if _, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Run accepted a missing directory")
	}
}
