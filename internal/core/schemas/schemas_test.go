package schemas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
)

func TestLoad_EmbeddedTable(t *testing.T) {
	set, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if set.Len() != len(core.DomainTypes) {
		t.Errorf("Len() = %d, want %d", set.Len(), len(core.DomainTypes))
	}

	tests := []struct {
		domain   core.DomainType
		required []string
	}{
		{core.DomainPhysician, []string{"codigo", "nome_completo", "especialidade", "cidade"}},
		{core.DomainPatient, []string{"id", "nome", "cpf"}},
		{core.DomainState, []string{"codigo_uf", "uf", "nome"}},
	}
	for _, tt := range tests {
		s, err := set.Get(tt.domain)
		if err != nil {
			t.Errorf("Get(%s) error = %v", tt.domain, err)
			continue
		}
		if len(s.Required) != len(tt.required) {
			t.Errorf("%s required = %v, want %v", tt.domain, s.Required, tt.required)
			continue
		}
		for i := range tt.required {
			if s.Required[i] != tt.required[i] {
				t.Errorf("%s required[%d] = %q, want %q", tt.domain, i, s.Required[i], tt.required[i])
			}
		}
	}
}

func TestLoad_PatternValidators(t *testing.T) {
	set := MustLoad()
	diag, _ := set.Get(core.DomainDiagnosisCode)

	var code core.FieldValidator
	for _, v := range diag.Validators {
		if v.Field == "codigo" {
			code = v
		}
	}
	for _, ok := range []string{"I10", "J45.0", "A009", "C34.90"} {
		if !code.Check(ok) {
			t.Errorf("CID-10 validator rejected %q", ok)
		}
	}
	for _, bad := range []string{"10", "i10", "I1", "XX10"} {
		if code.Check(bad) {
			t.Errorf("CID-10 validator accepted %q", bad)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemas.yaml")
	doc := "schemas:\n  - type: state\n    required: [uf]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("Len() = %d, want 1", set.Len())
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) error = nil, want error")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "invalid yaml", doc: "schemas: [unterminated"},
		{name: "empty document", doc: "schemas: []"},
		{name: "unknown domain", doc: "schemas:\n  - type: farm\n    required: [a]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

func TestNormalizeUF(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SP", "SP"},
		{"sp", "SP"},
		{"São Paulo", "SP"},
		{"PARÁ", "PA"},
		{"Mato Grosso do Sul", "MS"},
		{"Atlantis", "Atlantis"},
		{"  rj ", "RJ"},
	}
	for _, tt := range tests {
		if got := NormalizeUF(tt.input); got != tt.want {
			t.Errorf("NormalizeUF(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
