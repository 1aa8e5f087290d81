package validate

import (
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
)

func record(t core.DomainType, fields map[string]any) *core.Record {
	r := core.NewRecord(t, "test")
	for k, v := range fields {
		r.Set(k, v)
	}
	return r
}

func TestValidateRecord(t *testing.T) {
	v := New(schemas.MustLoad())

	tests := []struct {
		name        string
		rec         *core.Record
		wantValid   bool
		wantMissing []string
		wantWarn    []string
	}{
		{
			name: "complete physician",
			rec: record(core.DomainPhysician, map[string]any{
				"codigo": "a1b2c3d4-0000-0000-0000-000000000000", "nome_completo": "Maria Silva",
				"especialidade": "Cardiologia", "cidade": "3550308",
			}),
			wantValid: true,
		},
		{
			name:        "patient missing id and cpf",
			rec:         record(core.DomainPatient, map[string]any{"nome": "Maria", "email": "maria@example.com"}),
			wantMissing: []string{"id", "cpf"},
		},
		{
			name: "format warning keeps record valid",
			rec: record(core.DomainPatient, map[string]any{
				"id": "not-a-uuid", "nome": "Maria", "cpf": "123",
			}),
			wantValid: true,
			wantWarn:  []string{"cpf", "id"},
		},
		{
			name: "uppercase uuid and punctuated cpf",
			rec: record(core.DomainPatient, map[string]any{
				"id": "A1B2C3D4-0000-0000-0000-00000000000F", "nome": "Maria", "cpf": "529.982.247-25",
			}),
			wantValid: true,
		},
		{
			name: "hospital list and coordinates",
			rec: record(core.DomainHospital, map[string]any{
				"codigo": "a1b2c3d4-0000-0000-0000-000000000000", "nome": "HC", "cidade": "3550308",
				"bairro": "Centro", "latitude": "-23.5", "longitude": "abc",
				"especialidades": "Cardiologia;;Pediatria", "leitos_totais": "12.5",
			}),
			wantValid: true,
			wantWarn:  []string{"especialidades", "leitos_totais", "longitude"},
		},
		{
			name: "whitespace is blank",
			rec: record(core.DomainState, map[string]any{
				"codigo_uf": "35", "uf": "SP", "nome": "   ",
			}),
			wantMissing: []string{"nome"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.ValidateRecord(tt.rec, core.DomainUnknown)
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (missing %v)", got.Valid, tt.wantValid, got.Missing)
			}
			if !equal(got.Missing, tt.wantMissing) {
				t.Errorf("Missing = %v, want %v", got.Missing, tt.wantMissing)
			}
			var warned []string
			for _, w := range got.FormatWarnings {
				warned = append(warned, w.Field)
			}
			if !equal(warned, tt.wantWarn) {
				t.Errorf("FormatWarnings = %v, want %v", warned, tt.wantWarn)
			}
		})
	}
}

func TestValidateRecords_Score(t *testing.T) {
	v := New(schemas.MustLoad())

	valid := record(core.DomainDiagnosisCode, map[string]any{"codigo": "I21.9", "descricao": "Infarto"})
	invalid := record(core.DomainDiagnosisCode, map[string]any{"codigo": "E11"})

	tests := []struct {
		name    string
		records []*core.Record
		want    float64
	}{
		{"empty", nil, 0},
		{"all valid", []*core.Record{valid, valid}, 100},
		{"none valid", []*core.Record{invalid}, 0},
		{"two of three", []*core.Record{valid, invalid, valid}, 66.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateRecords(tt.records, core.DomainUnknown)
			if res.Stats.QualityScore != tt.want {
				t.Errorf("QualityScore = %v, want %v", res.Stats.QualityScore, tt.want)
			}
			if res.Stats.QualityScore < 0 || res.Stats.QualityScore > 100 {
				t.Errorf("QualityScore %v out of bounds", res.Stats.QualityScore)
			}
		})
	}
}

func TestValidateRecords_Histogram(t *testing.T) {
	v := New(schemas.MustLoad())
	recs := []*core.Record{
		record(core.DomainPatient, map[string]any{"nome": "A"}),
		record(core.DomainPatient, map[string]any{"nome": "B", "id": "x"}),
	}
	res := v.ValidateRecords(recs, core.DomainUnknown)
	if res.Stats.MissingFields["cpf"] != 2 || res.Stats.MissingFields["id"] != 1 {
		t.Errorf("MissingFields = %v", res.Stats.MissingFields)
	}
	if res.Stats.Invalid != 2 || res.Stats.Valid != 0 {
		t.Errorf("Valid/Invalid = %d/%d", res.Stats.Valid, res.Stats.Invalid)
	}
	if got := res.ValidRecords(recs); len(got) != 0 {
		t.Errorf("ValidRecords = %d, want 0", len(got))
	}
}

func TestValidateRecord_Fallback(t *testing.T) {
	v := New(schemas.MustLoad())
	r := record(core.DomainUnknown, map[string]any{"codigo_uf": "35", "uf": "SP", "nome": "Sao Paulo"})

	if got := v.ValidateRecord(r, core.DomainState); !got.Valid || got.Type != core.DomainState {
		t.Errorf("with fallback: %+v", got)
	}
	if got := v.ValidateRecord(r, core.DomainUnknown); got.Valid || got.Error == "" {
		t.Errorf("without schema: %+v", got)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
