package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
	"github.com/JonMunkholm/healthingest/internal/detect"
)

func testSet() *Set {
	return NewSet(detect.NewDetector(schemas.MustLoad()))
}

func parse(t *testing.T, format core.DetectedFormat, text string, hint core.DomainType) Result {
	t.Helper()
	p, ok := testSet().For(format)
	if !ok {
		t.Fatalf("no parser for %q", format)
	}
	return p.Parse(context.Background(), text, hint)
}

func TestSet_ForEveryFormat(t *testing.T) {
	s := testSet()
	for _, f := range []core.DetectedFormat{core.FormatTabular, core.FormatXML, core.FormatJSON, core.FormatHL7, core.FormatFHIR} {
		if _, ok := s.For(f); !ok {
			t.Errorf("For(%q) missing", f)
		}
	}
	if _, ok := s.For(core.FormatUnknown); ok {
		t.Error("For(unknown) should not return a parser")
	}
}

func TestCollector_DropsUnusable(t *testing.T) {
	var c collector
	c.add(core.NewRecord(core.DomainPatient, "row 2"))
	c.add(core.NewRecord(core.DomainUnknown, "row 3"))

	if len(c.res.Records) != 0 {
		t.Errorf("Records = %d, want 0", len(c.res.Records))
	}
	if len(c.res.Errors) != 2 {
		t.Fatalf("Errors = %v, want 2", c.res.Errors)
	}
	if !strings.Contains(c.res.Errors[0], "row 2") {
		t.Errorf("error %q should name the source", c.res.Errors[0])
	}
}

func TestCollector_CancelledStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := []string{"id,nome,cpf"}
	for i := 0; i < 500; i++ {
		rows = append(rows, "x,Maria,52998224725")
	}
	p := &Tabular{}
	res := p.Parse(ctx, strings.Join(rows, "\n"), core.DomainPatient)
	if len(res.Records) != 0 {
		t.Errorf("Records = %d, want 0 after cancellation", len(res.Records))
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[len(res.Errors)-1], "parsing stopped") {
		t.Errorf("Errors = %v, want a stop message", res.Errors)
	}
}

func TestCleanValue(t *testing.T) {
	tests := []struct {
		field string
		in    string
		want  any
	}{
		{"uf", "são paulo", "SP"},
		{"uf", "rj", "RJ"},
		{"data_nascimento", "15/01/1980", "1980-01-15"},
		{"sexo", "Feminino", "F"},
		{"sexo", "male", "M"},
		{"especialidades", "Cardiologia, Pediatria", "Cardiologia;Pediatria"},
		{"especialidades", "A;B;", "A;B"},
		{"nome", `="Maria"`, "Maria"},
	}
	for _, tt := range tests {
		if got := cleanValue(tt.field, tt.in); got != tt.want {
			t.Errorf("cleanValue(%q, %q) = %v, want %v", tt.field, tt.in, got, tt.want)
		}
	}
}

func TestSetField_FirstValueWins(t *testing.T) {
	r := core.NewRecord(core.DomainPatient, "")
	setField(r, "nome_completo", "Maria")
	setField(r, "nome", "Joana")
	if got := r.Get("nome"); got != "Maria" {
		t.Errorf("nome = %q, want Maria", got)
	}
}
