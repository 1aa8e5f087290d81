package detect

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
	"github.com/JonMunkholm/healthingest/internal/parser/fields"
)

// Detection sources.
const (
	SourceDeclared  = "declared"
	SourceFilename  = "filename"
	SourceStructure = "structure"
	SourceContent   = "content"
	SourceNone      = "none"
)

// Detection is the outcome of domain type detection.
type Detection struct {
	Type     core.DomainType `json:"type"`
	Source   string          `json:"source"`
	Warnings []string        `json:"warnings,omitempty"`
}

type keyword struct {
	domain core.DomainType
	stem   string
	// token requires the stem to be a whole token, for short stems that
	// would otherwise match inside unrelated words ("cid" in "cidade").
	token bool
}

var keywords = []keyword{
	{core.DomainPhysician, "medico", false},
	{core.DomainPhysician, "physician", false},
	{core.DomainPhysician, "doctor", false},
	{core.DomainPhysician, "profissiona", false},
	{core.DomainPhysician, "practitioner", false},
	{core.DomainPhysician, "crm", true},
	{core.DomainHospital, "hospita", false},
	{core.DomainHospital, "estabelecimento", false},
	{core.DomainHospital, "clinica", false},
	{core.DomainHospital, "organization", false},
	{core.DomainHospital, "cnes", true},
	{core.DomainMunicipality, "municipi", false},
	{core.DomainMunicipality, "cidade", false},
	{core.DomainMunicipality, "cities", false},
	{core.DomainMunicipality, "city", true},
	{core.DomainState, "estado", false},
	{core.DomainState, "state", true},
	{core.DomainState, "states", true},
	{core.DomainState, "uf", true},
	{core.DomainState, "ufs", true},
	{core.DomainPatient, "paciente", false},
	{core.DomainPatient, "patient", false},
	{core.DomainPatient, "usuario", false},
	{core.DomainDiagnosisCode, "diagnos", false},
	{core.DomainDiagnosisCode, "icd", false},
	{core.DomainDiagnosisCode, "cid", true},
	{core.DomainDiagnosisCode, "cids", true},
	{core.DomainDiagnosisCode, "cid10", true},
}

// DomainFromName matches a filename, collection key or element name
// against the domain keywords. When several domains match, the keyword
// that appears first in the name wins, then declaration order.
func DomainFromName(name string) (core.DomainType, bool) {
	s := strings.ToLower(schemas.Fold(name))
	tokens := tokenize(s)

	best, bestPos := core.DomainUnknown, -1
	consider := func(d core.DomainType, pos int) {
		if pos < 0 {
			return
		}
		if bestPos < 0 || pos < bestPos || (pos == bestPos && d.Rank() < best.Rank()) {
			best, bestPos = d, pos
		}
	}

	for _, kw := range keywords {
		if !kw.token {
			consider(kw.domain, strings.Index(s, kw.stem))
			continue
		}
		for _, tok := range tokens {
			if tok.text == kw.stem {
				consider(kw.domain, tok.pos)
				break
			}
		}
	}
	return best, bestPos >= 0
}

type token struct {
	text string
	pos  int
}

func tokenize(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		alnum := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case alnum && start < 0:
			start = i
		case !alnum && start >= 0:
			out = append(out, token{s[start:i], start})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{s[start:], start})
	}
	return out
}

// Detector classifies the domain type of file content.
type Detector struct {
	schemas *core.SchemaSet
}

// NewDetector returns a Detector fingerprinting against set.
func NewDetector(set *core.SchemaSet) *Detector {
	return &Detector{schemas: set}
}

// Domain detects the domain type of a file. Layers, in priority order:
//
//  1. zero data rows: Unknown with a warning
//  2. filename keywords
//  3. structural markers (FHIR resourceType, HL7, collection or root names)
//  4. field-name fingerprint against each schema's required fields; the
//     schema with most hits wins and ties go to declaration order
func (d *Detector) Domain(filename, content string, format core.DetectedFormat) Detection {
	sh := inspect(content, format)

	if sh.rows == 0 {
		return Detection{
			Type:     core.DomainUnknown,
			Source:   SourceNone,
			Warnings: []string{"file contains no data rows"},
		}
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if t, ok := DomainFromName(base); ok {
		det := Detection{Type: t, Source: SourceFilename}
		if fp, _ := d.Fingerprint(sh.fields, t); fp != core.DomainUnknown && fp != t {
			det.Warnings = append(det.Warnings,
				"filename suggests "+string(t)+" but fields match "+string(fp)+"; using filename")
		}
		return det
	}

	if sh.structural.Known() {
		return Detection{Type: sh.structural, Source: SourceStructure}
	}

	if t, _ := d.Fingerprint(sh.fields, core.DomainUnknown); t != core.DomainUnknown {
		return Detection{Type: t, Source: SourceContent}
	}

	return Detection{
		Type:     core.DomainUnknown,
		Source:   SourceNone,
		Warnings: []string{"could not determine data type from filename or fields"},
	}
}

// Fingerprint scores field names against every schema's required fields.
// It returns the best match and its hit count. prefer, when known, wins
// ties so a confirming fingerprint is not reported as a disagreement.
func (d *Detector) Fingerprint(names []string, prefer core.DomainType) (core.DomainType, int) {
	best, bestHits := core.DomainUnknown, 0
	for _, schema := range d.schemas.All() {
		present := make(map[string]bool, len(names))
		for _, n := range fields.CanonicalAll(schema.Type, names) {
			present[n] = true
		}
		hits := 0
		for _, req := range schema.Required {
			if present[req] {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && schema.Type == prefer) {
			best, bestHits = schema.Type, hits
		}
	}
	return best, bestHits
}
