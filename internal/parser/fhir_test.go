package parser

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
)

const bundleJSON = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {"resource": {
      "resourceType": "Patient",
      "id": "7d3f2c1e-9b8a-4e6f-8a1b-2c3d4e5f6a7b",
      "identifier": [
        {"system": "urn:hc:mrn", "value": "778899"},
        {"system": "http://rnds.saude.gov.br/fhir/r4/NamingSystem/cpf", "value": "529.982.247-25"}
      ],
      "name": [{"family": "Silva", "given": ["Maria", "Aparecida"]}],
      "gender": "female",
      "birthDate": "1980-01-15",
      "telecom": [{"system": "phone", "value": "11999990000"}, {"system": "email", "value": "maria@example.com"}],
      "address": [{"line": ["Rua A, 100"], "city": "3550308", "state": "SP", "postalCode": "01310-100"}]
    }},
    {"resource": {
      "resourceType": "Organization",
      "id": "hc-sp",
      "identifier": [{"type": {"text": "CNES"}, "value": "2077485"}],
      "name": "Hospital das Clinicas",
      "address": [{"city": "Sao Paulo", "district": "Cerqueira Cesar"}]
    }},
    {"resource": {
      "resourceType": "Practitioner",
      "id": "pr-1",
      "identifier": [{"system": "https://portal.cfm.org.br/crm/SP", "value": "123456"}],
      "name": [{"text": "Ana Lima"}],
      "qualification": [{"code": {"coding": [{"display": "Cardiologia"}]}}]
    }},
    {"resource": {"resourceType": "Observation", "id": "obs-1"}},
    {"fullUrl": "urn:uuid:missing"}
  ]
}`

func TestFHIR_Bundle(t *testing.T) {
	res := parse(t, core.FormatFHIR, bundleJSON, core.DomainUnknown)
	if len(res.Records) != 3 {
		t.Fatalf("Records = %d, want 3 (errors %v)", len(res.Records), res.Errors)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "Observation") {
		t.Errorf("Warnings = %v, want the Observation skipped", res.Warnings)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "entry[4]") {
		t.Errorf("Errors = %v, want the resource-less entry", res.Errors)
	}

	p := res.Records[0]
	want := map[string]string{
		"id":              "7d3f2c1e-9b8a-4e6f-8a1b-2c3d4e5f6a7b",
		"nome":            "Maria Aparecida Silva",
		"cpf":             "529.982.247-25",
		"sexo":            "F",
		"data_nascimento": "1980-01-15",
		"telefone":        "11999990000",
		"email":           "maria@example.com",
		"cidade":          "3550308",
		"cep":             "01310-100",
	}
	for k, v := range want {
		if got := p.Get(k); got != v {
			t.Errorf("patient %s = %q, want %q", k, got, v)
		}
	}

	org := res.Records[1]
	if org.Type != core.DomainHospital || org.Get("cnes") != "2077485" || org.Get("bairro") != "Cerqueira Cesar" {
		t.Errorf("organization = %v", org.Fields)
	}
	if org.Get("codigo") == "hc-sp" || org.Get("codigo") == "" {
		t.Errorf("codigo = %q, want a derived UUID", org.Get("codigo"))
	}

	doc := res.Records[2]
	if doc.Get("crm") != "123456" || doc.Get("uf") != "SP" || doc.Get("especialidade") != "Cardiologia" {
		t.Errorf("practitioner = %v", doc.Fields)
	}
}

func TestFHIR_CPFFallback(t *testing.T) {
	text := `{"resourceType": "Patient", "identifier": [{"value": "ABC"}, {"value": "52998224725"}], "name": [{"text": "Joao"}]}`
	res := parse(t, core.FormatFHIR, text, core.DomainUnknown)
	if len(res.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(res.Records))
	}
	if got := res.Records[0].Get("cpf"); got != "52998224725" {
		t.Errorf("cpf = %q, want the 11-digit identifier", got)
	}
}

func TestFHIR_XML(t *testing.T) {
	text := `<Bundle xmlns="http://hl7.org/fhir">
  <type value="collection"/>
  <entry>
    <resource>
      <Patient>
        <id value="p1"/>
        <identifier><system value="urn:cpf"/><value value="11144477735"/></identifier>
        <name><family value="Costa"/><given value="Bruno"/></name>
        <gender value="male"/>
        <birthDate value="1985-05-05"/>
      </Patient>
    </resource>
  </entry>
  <entry>
    <resource>
      <Organization>
        <name value="Santa Casa"/>
        <identifier><system value="urn:cnes"/><value value="2688689"/></identifier>
      </Organization>
    </resource>
  </entry>
</Bundle>`
	res := parse(t, core.FormatFHIR, text, core.DomainUnknown)
	if len(res.Records) != 2 {
		t.Fatalf("Records = %d, want 2 (errors %v)", len(res.Records), res.Errors)
	}
	p := res.Records[0]
	if p.Get("nome") != "Bruno Costa" || p.Get("cpf") != "11144477735" || p.Get("sexo") != "M" {
		t.Errorf("patient = %v", p.Fields)
	}
	if got := res.Records[1].Get("cnes"); got != "2688689" {
		t.Errorf("cnes = %q", got)
	}
}

func TestFHIR_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"garbage", "not fhir", "invalid FHIR content"},
		{"no resourceType", `{"id": "x"}`, "no resourceType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parse(t, core.FormatFHIR, tt.text, core.DomainUnknown)
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], tt.want) {
				t.Errorf("Errors = %v, want %q", res.Errors, tt.want)
			}
		})
	}
}

func TestFHIR_BundleDepthLimit(t *testing.T) {
	inner := `{"resourceType": "Patient", "name": [{"text": "Deep"}]}`
	for i := 0; i < maxBundleDepth+1; i++ {
		inner = `{"resourceType": "Bundle", "entry": [{"resource": ` + inner + `}]}`
	}
	res := parse(t, core.FormatFHIR, inner, core.DomainUnknown)
	if len(res.Records) != 0 {
		t.Errorf("Records = %d, want 0 past the depth limit", len(res.Records))
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "nesting") {
		t.Errorf("Errors = %v", res.Errors)
	}
}
