package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/inbox"
)

const physiciansCSV = "codigo,nome_completo,especialidade,cidade,crm,uf\n" +
	"4f0e5a52-2b1c-4a55-9a3b-0d4c8f3b1a11,Ana Souza,Cardiologia,3550308,123456,SP\n" +
	"9b2d7c31-8e4f-4d1a-b6c2-5a7e9f0d3b22,Bruno Lima,Pediatria,3304557,654321,RJ\n"

// run executes the CLI against an in-memory store.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")
	t.Setenv("REDIS_URL", "")

	cmd := NewRootCmdForTest()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileCommand_Passed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "medicos.csv", physiciansCSV)

	out, logs, err := run(t, "file", path, "--commit")
	if err != nil {
		t.Fatalf("Execute error = %v\nlogs: %s", err, logs)
	}

	var results []fileResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Batch.Report.Status != core.StatusPassed || r.Committed == nil || r.Committed.Inserted != 2 {
		t.Errorf("result = %+v", r)
	}
	if strings.Contains(out, "level=") {
		t.Error("logs leaked into stdout")
	}
}

func TestFileCommand_FailedExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "medicos.csv", physiciansCSV)
	bad := writeFile(t, dir, "pacientes.csv", "id,nome\n4f0e5a52-2b1c-4a55-9a3b-0d4c8f3b1a11,Maria Silva\n")

	out, _, err := run(t, "file", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("Execute error = %v, want 1 of 2 failed", err)
	}
	if !strings.Contains(out, "VAL001") {
		t.Errorf("output missing VAL001:\n%s", out)
	}
}

func TestFileCommand_Flags(t *testing.T) {
	path := writeFile(t, t.TempDir(), "medicos.csv", physiciansCSV)

	if _, _, err := run(t, "file", path, "--domain", "dentist"); err == nil || !strings.Contains(err.Error(), "unknown domain") {
		t.Errorf("unknown domain error = %v", err)
	}
	if _, _, err := run(t, "file", filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("missing file accepted")
	}
	if _, _, err := run(t, "file"); err == nil {
		t.Error("no args accepted")
	}

	out, _, err := run(t, "file", path, "--domain", "medico", "--strict")
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if !strings.Contains(out, `"source": "declared"`) {
		t.Errorf("declared domain not used:\n%s", out)
	}
}

func TestDirCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "medicos.csv", physiciansCSV)

	out, logs, err := run(t, "dir", dir, "--commit")
	if err != nil {
		t.Fatalf("Execute error = %v\nlogs: %s", err, logs)
	}
	var outcomes []inbox.Outcome
	if err := json.Unmarshal([]byte(out), &outcomes); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if len(outcomes) != 1 || outcomes[0].Committed == nil {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if _, err := os.Stat(filepath.Join(dir, inbox.ProcessedDir, "medicos.csv")); err != nil {
		t.Errorf("file not moved: %v", err)
	}
}

func TestSchemasCommand(t *testing.T) {
	out, _, err := run(t, "schemas")
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	var list []core.ValidationSchema
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if len(list) == 0 {
		t.Error("no schemas printed")
	}
}

func TestConfigErrorSurfaces(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	if _, _, err := run(t, "schemas"); err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("Execute error = %v, want SERVER_PORT", err)
	}
}
