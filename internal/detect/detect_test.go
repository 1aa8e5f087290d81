package detect

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     core.DetectedFormat
	}{
		{name: "hl7 first line", filename: "x.txt", content: "MSH|^~\\&|A|B\nPID|1", want: core.FormatHL7},
		{name: "hl7 later line", filename: "x.csv", content: "\nMSH|^~\\&|A", want: core.FormatHL7},
		{name: "fhir json", filename: "p.json", content: `{"resourceType":"Patient"}`, want: core.FormatFHIR},
		{name: "plain json object", filename: "p.txt", content: ` {"medicos":[]}`, want: core.FormatJSON},
		{name: "plain json array", filename: "", content: `[{"nome":"a"}]`, want: core.FormatJSON},
		{name: "fhir xml", filename: "p.xml", content: `<Patient xmlns="http://hl7.org/fhir"/>`, want: core.FormatFHIR},
		{name: "plain xml", filename: "h.dat", content: `<?xml version="1.0"?><hospitais/>`, want: core.FormatXML},
		{name: "content beats extension", filename: "dados.csv", content: `{"a":1}`, want: core.FormatJSON},
		{name: "csv by extension", filename: "dados.csv", content: "codigo nome", want: core.FormatTabular},
		{name: "json extension with junk", filename: "dados.json", content: "junk", want: core.FormatJSON},
		{name: "semicolon sniff", filename: "dados", content: "codigo;nome\n1;a", want: core.FormatTabular},
		{name: "tab sniff", filename: "dados", content: "codigo\tnome\n1\ta", want: core.FormatTabular},
		{name: "unknown", filename: "dados", content: "hello world", want: core.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.filename, tt.content); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestFormat_Deterministic(t *testing.T) {
	inputs := []struct{ filename, content string }{
		{"medicos.csv", "codigo,nome_completo\n1,a"},
		{"b.json", `{"resourceType":"Bundle","entry":[]}`},
		{"c.hl7", "MSH|^~\\&|\nPID|1||123"},
	}
	d := NewDetector(schemas.MustLoad())
	for _, in := range inputs {
		f1 := Format(in.filename, in.content)
		d1 := d.Domain(in.filename, in.content, f1)
		for i := 0; i < 20; i++ {
			if f := Format(in.filename, in.content); f != f1 {
				t.Fatalf("Format(%q) changed from %q to %q", in.filename, f1, f)
			}
			if got := d.Domain(in.filename, in.content, f1); got.Type != d1.Type || got.Source != d1.Source {
				t.Fatalf("Domain(%q) changed from %v to %v", in.filename, d1, got)
			}
		}
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   rune
		wantOK bool
	}{
		{"a,b,c", ',', true},
		{"a;b;c", ';', true},
		{"a;b,c;d", ';', true},
		{"a\tb\tc", '\t', true},
		{"a|b|c,d", '|', true},
		{"a,b;c", ',', true},
		{"abc", ',', false},
	}
	for _, tt := range tests {
		got, ok := SniffDelimiter(tt.header)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SniffDelimiter(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsSpreadsheet(t *testing.T) {
	zip := []byte("PK\x03\x04rest")
	if !IsSpreadsheet("medicos.xlsx", zip) {
		t.Error("IsSpreadsheet(xlsx zip) = false, want true")
	}
	if IsSpreadsheet("medicos.zip", zip) {
		t.Error("IsSpreadsheet(.zip) = true, want false")
	}
	if IsSpreadsheet("medicos.xlsx", []byte("codigo,nome")) {
		t.Error("IsSpreadsheet(text named xlsx) = true, want false")
	}
}

func TestDomainFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   core.DomainType
		wantOK bool
	}{
		{"medicos", core.DomainPhysician, true},
		{"listaMedicos_2024", core.DomainPhysician, true},
		{"hospitais", core.DomainHospital, true},
		{"Estabelecimentos CNES", core.DomainHospital, true},
		{"municípios", core.DomainMunicipality, true},
		{"cidades", core.DomainMunicipality, true},
		{"estados", core.DomainState, true},
		{"uf", core.DomainState, true},
		{"pacientes", core.DomainPatient, true},
		{"Patient", core.DomainPatient, true},
		{"cid10", core.DomainDiagnosisCode, true},
		{"tabela_cid", core.DomainDiagnosisCode, true},
		{"medicos_por_hospital", core.DomainPhysician, true},
		{"hospital_medicos", core.DomainHospital, true},
		{"pacientes_por_cidade", core.DomainPatient, true},
		{"statement", core.DomainUnknown, false},
		{"dados", core.DomainUnknown, false},
	}
	for _, tt := range tests {
		got, ok := DomainFromName(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DomainFromName(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		content    string
		wantType   core.DomainType
		wantSource string
		wantWarn   bool
	}{
		{
			name:       "physician fingerprint",
			filename:   "export.csv",
			content:    "codigo,nome_completo,especialidade,cidade\na1b2c3d4-0000-0000-0000-000000000000,Maria Silva,Cardiologia,3550308\n",
			wantType:   core.DomainPhysician,
			wantSource: SourceContent,
		},
		{
			name:       "filename wins for patients",
			filename:   "pacientes.csv",
			content:    "nome,email\nMaria,maria@example.com\n",
			wantType:   core.DomainPatient,
			wantSource: SourceFilename,
		},
		{
			name:       "filename wins over disagreeing fields",
			filename:   "hospitais.csv",
			content:    "codigo,nome_completo,especialidade,cidade\n1,Maria,Cardiologia,3550308\n",
			wantType:   core.DomainHospital,
			wantSource: SourceFilename,
			wantWarn:   true,
		},
		{
			name:       "header only is unknown",
			filename:   "medicos.csv",
			content:    "codigo,nome_completo\n",
			wantType:   core.DomainUnknown,
			wantSource: SourceNone,
			wantWarn:   true,
		},
		{
			name:       "empty json array is unknown",
			filename:   "medicos.json",
			content:    "[]",
			wantType:   core.DomainUnknown,
			wantSource: SourceNone,
			wantWarn:   true,
		},
		{
			name:       "fingerprint tie goes to declaration order",
			filename:   "export.csv",
			content:    "latitude,longitude\n-23.5,-46.6\n",
			wantType:   core.DomainHospital,
			wantSource: SourceContent,
		},
		{
			name:       "state fingerprint",
			filename:   "export.csv",
			content:    "codigo_uf;uf;nome\n35;SP;São Paulo\n",
			wantType:   core.DomainState,
			wantSource: SourceContent,
		},
		{
			name:       "json envelope",
			filename:   "export.json",
			content:    `{"pacientes":[{"nome":"a"}]}`,
			wantType:   core.DomainPatient,
			wantSource: SourceStructure,
		},
		{
			name:       "nested json envelope",
			filename:   "export.json",
			content:    `{"dados":{"hospitais":[{"nome":"a"}],"medicos":[{"nome":"b"}]}}`,
			wantType:   core.DomainPhysician,
			wantSource: SourceStructure,
		},
		{
			name:       "xml root",
			filename:   "export.xml",
			content:    `<estabelecimentos><estabelecimento nome="x"/></estabelecimentos>`,
			wantType:   core.DomainHospital,
			wantSource: SourceStructure,
		},
		{
			name:       "hl7 is patient data",
			filename:   "feed.hl7",
			content:    "MSH|^~\\&|A\nPID|1||123\n",
			wantType:   core.DomainPatient,
			wantSource: SourceStructure,
		},
		{
			name:       "fhir bundle",
			filename:   "bundle.json",
			content:    `{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"Practitioner"}}]}`,
			wantType:   core.DomainPhysician,
			wantSource: SourceStructure,
		},
		{
			name:       "fhir xml organization",
			filename:   "org.xml",
			content:    `<Organization xmlns="http://hl7.org/fhir"><name value="x"/></Organization>`,
			wantType:   core.DomainHospital,
			wantSource: SourceStructure,
		},
		{
			name:       "no match",
			filename:   "export.csv",
			content:    "foo,bar\n1,2\n",
			wantType:   core.DomainUnknown,
			wantSource: SourceNone,
			wantWarn:   true,
		},
	}

	d := NewDetector(schemas.MustLoad())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := Format(tt.filename, tt.content)
			got := d.Domain(tt.filename, tt.content, format)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", got.Source, tt.wantSource)
			}
			if (len(got.Warnings) > 0) != tt.wantWarn {
				t.Errorf("Warnings = %v, want warning: %v", got.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestDomain_DisagreementWarningNamesBoth(t *testing.T) {
	d := NewDetector(schemas.MustLoad())
	content := "codigo,nome_completo,especialidade,cidade\n1,Maria,Cardiologia,3550308\n"
	got := d.Domain("hospitais.csv", content, core.FormatTabular)
	if len(got.Warnings) != 1 || !strings.Contains(got.Warnings[0], "physician") {
		t.Errorf("Warnings = %v, want one mentioning physician", got.Warnings)
	}
}
