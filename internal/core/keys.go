package core

import (
	"strings"

	"github.com/google/uuid"
)

// SurrogatePrefix marks a storage key that is not a natural key.
const SurrogatePrefix = "id:"

// NaturalKey returns the domain-meaningful unique key of a record and
// whether the record carries one.
//
//	patient        CPF digits
//	hospital       CNES digits
//	physician      CRM digits + "/" + UF
//	diagnosis_code ICD-10 code, uppercased, dots removed
//	municipality   IBGE code
//	state          UF
func NaturalKey(r *Record) (string, bool) {
	if r == nil {
		return "", false
	}
	var key string
	switch r.Type {
	case DomainPatient:
		key = digitsOnly(r.Get("cpf"))
		if len(key) != 11 {
			key = ""
		}
	case DomainHospital:
		key = digitsOnly(r.Get("cnes"))
	case DomainPhysician:
		crm := digitsOnly(r.Get("crm"))
		uf := strings.ToUpper(r.Get("uf"))
		if crm != "" && uf != "" {
			key = crm + "/" + uf
		}
	case DomainDiagnosisCode:
		key = strings.ToUpper(strings.ReplaceAll(r.Get("codigo"), ".", ""))
	case DomainMunicipality:
		key = digitsOnly(r.Get("codigo_ibge"))
	case DomainState:
		key = strings.ToUpper(r.Get("uf"))
	}
	return key, key != ""
}

// StorageKey returns the key a record is stored under. That is its natural
// key when it has one, otherwise a surrogate built from its codigo or id
// field. Records with neither get a fresh UUID and are always inserted.
func StorageKey(r *Record) string {
	if key, ok := NaturalKey(r); ok {
		return key
	}
	for _, name := range []string{"codigo", "id"} {
		if v := strings.TrimSpace(r.Get(name)); v != "" {
			return SurrogatePrefix + v
		}
	}
	return SurrogatePrefix + uuid.NewString()
}

// KeyFields returns the field names that make up the natural key of t.
// Duplicate confidence compares every field except these.
func KeyFields(t DomainType) []string {
	switch t {
	case DomainPatient:
		return []string{"cpf"}
	case DomainHospital:
		return []string{"cnes"}
	case DomainPhysician:
		return []string{"crm", "uf"}
	case DomainDiagnosisCode:
		return []string{"codigo"}
	case DomainMunicipality:
		return []string{"codigo_ibge"}
	case DomainState:
		return []string{"uf"}
	default:
		return nil
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
