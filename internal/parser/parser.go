// Package parser converts normalized file content into canonical records.
//
// There is one parser per wire format. All of them share the same
// partial-failure contract: a malformed record is dropped, counted in
// Errors, and parsing continues with the next one. Cancellation is checked
// between records, never inside one.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
	"github.com/JonMunkholm/healthingest/internal/parser/fields"
)

// ContextCheckInterval is how often (in records) long loops check ctx.
const ContextCheckInterval = 100

// Result is the output of one Parse call.
type Result struct {
	Records  []*core.Record
	Errors   []string
	Warnings []string
}

// Parser converts content of one format into records. hint is the
// detected domain type, or DomainUnknown when detection was inconclusive.
type Parser interface {
	Parse(ctx context.Context, text string, hint core.DomainType) Result
}

// Classifier infers a domain type from field names.
type Classifier interface {
	Fingerprint(names []string, prefer core.DomainType) (core.DomainType, int)
}

// Set holds one parser per supported format.
type Set struct {
	parsers map[core.DetectedFormat]Parser
}

// NewSet builds the parser set. classify is used when a file's domain type
// must be inferred from field names.
func NewSet(classify Classifier) *Set {
	return &Set{parsers: map[core.DetectedFormat]Parser{
		core.FormatTabular: &Tabular{classify: classify},
		core.FormatXML:     &XML{classify: classify},
		core.FormatJSON:    &JSON{classify: classify},
		core.FormatHL7:     &HL7{},
		core.FormatFHIR:    &FHIR{},
	}}
}

// For returns the parser for format.
func (s *Set) For(format core.DetectedFormat) (Parser, bool) {
	p, ok := s.parsers[format]
	return p, ok
}

// collector accumulates a Result, enforcing the usable-record invariant.
type collector struct {
	res Result
	n   int
}

func (c *collector) add(r *core.Record) {
	if !r.Usable() {
		reason := "no populated fields"
		if !r.Type.Known() {
			reason = "unknown data type"
		}
		c.errorf("%s: record dropped (%s)", sourceOf(r), reason)
		return
	}
	c.res.Records = append(c.res.Records, r)
}

func (c *collector) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Debug("parse error", "error", msg)
	c.res.Errors = append(c.res.Errors, msg)
}

func (c *collector) warnf(format string, args ...any) {
	c.res.Warnings = append(c.res.Warnings, fmt.Sprintf(format, args...))
}

// cancelled reports whether ctx is done. It checks on the first call and
// every ContextCheckInterval calls after that, and records an error when
// it stops the loop.
func (c *collector) cancelled(ctx context.Context) bool {
	c.n++
	if (c.n-1)%ContextCheckInterval != 0 {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.errorf("parsing stopped after %d records: %v", len(c.res.Records), err)
		return true
	}
	return false
}

func sourceOf(r *core.Record) string {
	if r == nil || r.Source == "" {
		return "record"
	}
	return r.Source
}

// setField canonicalizes name for the record's domain and stores a cleaned
// value. A name already set keeps its first value.
func setField(r *core.Record, name string, value any) {
	key := fields.Canonical(r.Type, name)
	if key == "" || r.Has(key) {
		return
	}
	r.Set(key, cleanValue(key, value))
}

// cleanValue applies per-field canonical formatting to string values.
func cleanValue(field string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = core.CleanCell(s)
	switch field {
	case "uf":
		return schemas.NormalizeUF(s)
	case "data_nascimento":
		return core.NormalizeDate(s)
	case "sexo":
		return normalizeSex(s)
	case "especialidades", "cid":
		return strings.Join(splitList(s), ";")
	}
	return s
}

func normalizeSex(s string) string {
	switch strings.ToLower(s) {
	case "m", "masculino", "male", "masc":
		return "M"
	case "f", "feminino", "female", "fem":
		return "F"
	case "o", "outro", "other":
		return "O"
	case "u", "unknown", "desconhecido":
		return "U"
	}
	return s
}

// splitList splits on ";" or "," and trims entries. Empty interior entries
// are kept so the validator can flag them.
func splitList(s string) []string {
	sep := ";"
	if !strings.Contains(s, ";") && strings.Contains(s, ",") {
		sep = ","
	}
	parts := strings.Split(strings.TrimSuffix(s, sep), sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
