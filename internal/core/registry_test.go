package core

import (
	"errors"
	"testing"
)

func TestFieldValidator_Check(t *testing.T) {
	tests := []struct {
		name  string
		v     FieldValidator
		value string
		want  bool
	}{
		{name: "uuid lowercase", v: FieldValidator{Kind: KindUUID}, value: "a1b2c3d4-0000-0000-0000-000000000000", want: true},
		{name: "uuid uppercase", v: FieldValidator{Kind: KindUUID}, value: "A1B2C3D4-ABCD-0000-0000-00000000000F", want: true},
		{name: "uuid without hyphens", v: FieldValidator{Kind: KindUUID}, value: "a1b2c3d4000000000000000000000000", want: false},
		{name: "cpf punctuated", v: FieldValidator{Kind: KindCPF}, value: "123.456.789-09", want: true},
		{name: "cpf digits", v: FieldValidator{Kind: KindCPF}, value: "12345678909", want: true},
		{name: "cpf ten digits", v: FieldValidator{Kind: KindCPF}, value: "1234567890", want: false},
		{name: "cpf partial punctuation", v: FieldValidator{Kind: KindCPF}, value: "123456789-09", want: false},
		{name: "coordinate negative", v: FieldValidator{Kind: KindCoordinate}, value: "-23.5505", want: true},
		{name: "coordinate plus sign", v: FieldValidator{Kind: KindCoordinate}, value: "+46.6333", want: true},
		{name: "coordinate comma decimal", v: FieldValidator{Kind: KindCoordinate}, value: "-23,5505", want: false},
		{name: "coordinate text", v: FieldValidator{Kind: KindCoordinate}, value: "north", want: false},
		{name: "numeric digits", v: FieldValidator{Kind: KindNumeric}, value: "3550308", want: true},
		{name: "numeric signed", v: FieldValidator{Kind: KindNumeric}, value: "-12", want: false},
		{name: "numeric decimal", v: FieldValidator{Kind: KindNumeric}, value: "12.5", want: false},
		{name: "list ok", v: FieldValidator{Kind: KindList}, value: "Cardiologia;Pediatria", want: true},
		{name: "list trailing semicolon", v: FieldValidator{Kind: KindList}, value: "Cardiologia;", want: true},
		{name: "list empty segment", v: FieldValidator{Kind: KindList}, value: "Cardiologia;;Pediatria", want: false},
		{name: "list leading empty", v: FieldValidator{Kind: KindList}, value: ";Cardiologia", want: false},
		{name: "blank always passes", v: FieldValidator{Kind: KindNumeric}, value: "  ", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Check(tt.value); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestNewSchemaSet(t *testing.T) {
	set, err := NewSchemaSet([]ValidationSchema{
		{Type: DomainPatient, Required: []string{"id", "nome", "cpf"}, Validators: []FieldValidator{
			{Field: "email", Kind: KindPattern, Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`},
		}},
		{Type: DomainPhysician, Required: []string{"codigo"}},
	})
	if err != nil {
		t.Fatalf("NewSchemaSet() error = %v", err)
	}

	all := set.All()
	if len(all) != 2 || all[0].Type != DomainPhysician || all[1].Type != DomainPatient {
		t.Errorf("All() not in declaration order: %v", all)
	}

	patient, err := set.Get(DomainPatient)
	if err != nil {
		t.Fatalf("Get(patient) error = %v", err)
	}
	if !patient.Validators[0].Check("maria@example.com") {
		t.Error("compiled pattern rejected a valid email")
	}
	if patient.Validators[0].Check("maria") {
		t.Error("compiled pattern accepted an invalid email")
	}

	if _, err := set.Get(DomainState); !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("Get(state) error = %v, want ErrSchemaNotFound", err)
	}
}

func TestNewSchemaSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		schemas []ValidationSchema
	}{
		{name: "unknown type", schemas: []ValidationSchema{{Type: "farm", Required: []string{"a"}}}},
		{name: "duplicate type", schemas: []ValidationSchema{
			{Type: DomainState, Required: []string{"uf"}},
			{Type: DomainState, Required: []string{"uf"}},
		}},
		{name: "no required fields", schemas: []ValidationSchema{{Type: DomainState}}},
		{name: "bad pattern", schemas: []ValidationSchema{{Type: DomainState, Required: []string{"uf"},
			Validators: []FieldValidator{{Field: "uf", Kind: KindPattern, Pattern: "("}}}}},
		{name: "unknown kind", schemas: []ValidationSchema{{Type: DomainState, Required: []string{"uf"},
			Validators: []FieldValidator{{Field: "uf", Kind: "magic"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSchemaSet(tt.schemas); err == nil {
				t.Error("NewSchemaSet() error = nil, want error")
			}
		})
	}
}

func TestParseDomainType(t *testing.T) {
	tests := []struct {
		input  string
		want   DomainType
		wantOK bool
	}{
		{"", DomainUnknown, true},
		{"auto-detect", DomainUnknown, true},
		{"Physician", DomainPhysician, true},
		{"pacientes", DomainPatient, true},
		{"cid10", DomainDiagnosisCode, true},
		{"farm", DomainUnknown, false},
	}
	for _, tt := range tests {
		got, ok := ParseDomainType(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDomainType(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}
