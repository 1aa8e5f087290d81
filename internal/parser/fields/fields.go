// Package fields maps the many field names used by source exports onto the
// canonical names the validation schemas expect.
package fields

import (
	"strings"
	"unicode"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
)

// synonyms lists, per domain, canonical field -> accepted source names.
// Source names are compared after Key normalization.
var synonyms = map[core.DomainType]map[string][]string{
	core.DomainPhysician: {
		"codigo":        {"id", "uuid", "code", "codigo_medico", "id_medico"},
		"nome_completo": {"nome", "name", "full_name", "nome_medico", "nomecompleto"},
		"especialidade": {"specialty", "speciality", "especialidade_principal", "especialidades"},
		"cidade":        {"municipio", "codigo_municipio", "cidade_id", "city", "codigo_ibge", "cod_municipio"},
		"crm":           {"numero_crm", "crm_numero", "registro", "license"},
		"uf":            {"estado", "uf_crm", "state", "sigla_uf"},
		"email":         {"e_mail", "mail"},
		"telefone":      {"fone", "phone", "celular", "tel"},
	},
	core.DomainHospital: {
		"codigo":         {"id", "uuid", "code", "codigo_hospital", "id_hospital"},
		"nome":           {"razao_social", "nome_fantasia", "name", "nome_hospital", "nome_estabelecimento"},
		"cidade":         {"municipio", "codigo_municipio", "city", "codigo_ibge", "cidade_id", "cod_municipio"},
		"bairro":         {"district", "neighborhood", "distrito"},
		"latitude":       {"lat"},
		"longitude":      {"lon", "lng", "long"},
		"leitos_totais":  {"leitos", "beds", "numero_leitos", "total_leitos", "qtd_leitos"},
		"especialidades": {"specialties", "especialidade", "servicos"},
		"cnes":           {"codigo_cnes", "cnes_id", "cod_cnes"},
		"telefone":       {"fone", "phone", "tel"},
		"endereco":       {"address", "logradouro"},
	},
	core.DomainMunicipality: {
		"codigo_ibge": {"codigo", "ibge", "id", "code", "cod_ibge", "codigo_municipio"},
		"nome":        {"municipio", "name", "nome_municipio", "cidade"},
		"latitude":    {"lat"},
		"longitude":   {"lon", "lng", "long"},
		"codigo_uf":   {"uf_codigo", "cod_uf", "estado_codigo", "codigo_estado"},
		"populacao":   {"population", "habitantes"},
	},
	core.DomainState: {
		"codigo_uf": {"codigo", "id", "code", "cod_uf", "codigo_ibge"},
		"uf":        {"sigla", "abbreviation", "sigla_uf"},
		"nome":      {"estado", "name", "nome_estado"},
		"regiao":    {"region"},
		"latitude":  {"lat"},
		"longitude": {"lon", "lng", "long"},
	},
	core.DomainPatient: {
		"id":              {"codigo", "uuid", "patient_id", "id_paciente", "codigo_paciente"},
		"nome":            {"nome_completo", "name", "nome_paciente", "full_name"},
		"cpf":             {"documento", "numero_cpf", "cpf_paciente", "nr_cpf"},
		"data_nascimento": {"nascimento", "birthdate", "birth_date", "dt_nascimento", "data_nasc", "data_de_nascimento"},
		"sexo":            {"genero", "gender", "sex"},
		"email":           {"e_mail", "mail"},
		"telefone":        {"fone", "phone", "celular", "tel"},
		"cep":             {"zip", "zipcode", "postal_code", "codigo_postal"},
		"endereco":        {"address", "logradouro"},
		"cidade":          {"municipio", "city", "codigo_municipio", "cod_municipio"},
		"cid":             {"cid10", "cid_10", "diagnostico", "diagnosticos", "diagnosis"},
	},
	core.DomainDiagnosisCode: {
		"codigo":    {"cid", "cid10", "cid_10", "code", "icd", "icd10", "codigo_cid"},
		"descricao": {"description", "nome", "name", "diagnostico", "desc"},
		"categoria": {"category", "capitulo", "chapter"},
	},
}

// index is synonyms inverted: domain -> source key -> canonical field.
var index = buildIndex()

func buildIndex() map[core.DomainType]map[string]string {
	idx := make(map[core.DomainType]map[string]string, len(synonyms))
	for domain, fields := range synonyms {
		m := make(map[string]string)
		for canonical, names := range fields {
			for _, n := range names {
				m[Key(n)] = canonical
			}
		}
		// A canonical name always maps to itself.
		for canonical := range fields {
			m[canonical] = canonical
		}
		idx[domain] = m
	}
	return idx
}

// Key normalizes a source field name: accents folded, lowercased, and runs
// of spaces, hyphens, dots or underscores collapsed to one underscore.
// "Data de Nascimento" becomes "data_de_nascimento".
func Key(name string) string {
	name = strings.ToLower(schemas.Fold(strings.TrimSpace(name)))
	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// Canonical returns the schema field name for a source field name in the
// given domain. Names without a known synonym are returned normalized.
func Canonical(t core.DomainType, name string) string {
	key := Key(name)
	if m, ok := index[t]; ok {
		if canonical, ok := m[key]; ok {
			return canonical
		}
	}
	return key
}

// CanonicalAll canonicalizes a header row for the given domain.
func CanonicalAll(t core.DomainType, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Canonical(t, n)
	}
	return out
}
