// Package validate checks parsed records against their domain schema.
//
// Validation happens at two levels:
//  1. Required fields: every schema-required field must be present and
//     non-blank, otherwise the record is invalid.
//  2. Formats: every field with a registered validator is checked when
//     present. A format failure is a warning; the record stays valid.
//
// The quality score is the percentage of valid records.
package validate

import (
	"fmt"
	"math"
	"sort"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// QualityThreshold is the score below which a report is downgraded to
// Warning.
const QualityThreshold = 80.0

// FieldIssue is a single problem with one field.
type FieldIssue struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e FieldIssue) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// RecordResult is the outcome for one record.
type RecordResult struct {
	Index          int             `json:"index"`
	Source         string          `json:"source,omitempty"`
	Type           core.DomainType `json:"type"`
	Valid          bool            `json:"valid"`
	Missing        []string        `json:"missing,omitempty"`
	FormatWarnings []FieldIssue    `json:"format_warnings,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Stats aggregates a batch.
type Stats struct {
	Total          int                     `json:"total"`
	Valid          int                     `json:"valid"`
	Invalid        int                     `json:"invalid"`
	WithWarnings   int                     `json:"with_warnings"`
	MissingFields  map[string]int          `json:"missing_fields,omitempty"`
	FormatFailures map[string]int          `json:"format_failures,omitempty"`
	ByType         map[core.DomainType]int `json:"by_type,omitempty"`
	QualityScore   float64                 `json:"quality_score"`
}

// Result is the outcome of ValidateRecords.
type Result struct {
	Records []RecordResult `json:"records"`
	Stats   Stats          `json:"stats"`
}

// ValidRecords returns the records whose result is valid, in order.
func (r Result) ValidRecords(records []*core.Record) []*core.Record {
	out := make([]*core.Record, 0, r.Stats.Valid)
	for i, rr := range r.Records {
		if rr.Valid && i < len(records) {
			out = append(out, records[i])
		}
	}
	return out
}

// Validator validates records against an immutable schema set.
type Validator struct {
	schemas *core.SchemaSet
}

// New returns a Validator for set.
func New(set *core.SchemaSet) *Validator {
	return &Validator{schemas: set}
}

// ValidateRecords validates every record. Each record is checked against
// the schema of its own type; fallback is used for records whose type is
// unknown. A batch with no records scores 0.
func (v *Validator) ValidateRecords(records []*core.Record, fallback core.DomainType) Result {
	res := Result{
		Records: make([]RecordResult, len(records)),
		Stats: Stats{
			Total:          len(records),
			MissingFields:  make(map[string]int),
			FormatFailures: make(map[string]int),
			ByType:         make(map[core.DomainType]int),
		},
	}

	for i, r := range records {
		rr := v.ValidateRecord(r, fallback)
		rr.Index = i
		res.Records[i] = rr

		res.Stats.ByType[rr.Type]++
		if rr.Valid {
			res.Stats.Valid++
		} else {
			res.Stats.Invalid++
		}
		if len(rr.FormatWarnings) > 0 {
			res.Stats.WithWarnings++
		}
		for _, m := range rr.Missing {
			res.Stats.MissingFields[m]++
		}
		for _, w := range rr.FormatWarnings {
			res.Stats.FormatFailures[w.Field]++
		}
	}

	res.Stats.QualityScore = Score(res.Stats.Valid, res.Stats.Total)
	return res
}

// ValidateRecord validates one record.
func (v *Validator) ValidateRecord(r *core.Record, fallback core.DomainType) RecordResult {
	if r == nil {
		return RecordResult{Type: core.DomainUnknown, Error: "nil record"}
	}
	t := r.Type
	if !t.Known() {
		t = fallback
	}
	rr := RecordResult{Source: r.Source, Type: t}

	schema, err := v.schemas.Get(t)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}

	for _, req := range schema.Required {
		if core.IsBlank(r.Fields[req]) {
			rr.Missing = append(rr.Missing, req)
		}
	}
	rr.Valid = len(rr.Missing) == 0

	for _, fv := range schema.Validators {
		if !r.Has(fv.Field) {
			continue
		}
		value := r.Get(fv.Field)
		if !fv.Check(value) {
			rr.FormatWarnings = append(rr.FormatWarnings, FieldIssue{
				Field:   fv.Field,
				Value:   value,
				Message: fv.Describe(),
			})
		}
	}
	sort.Slice(rr.FormatWarnings, func(i, j int) bool { return rr.FormatWarnings[i].Field < rr.FormatWarnings[j].Field })
	return rr
}

// Score returns valid/total as a percentage rounded to two decimals, or 0
// when total is 0.
func Score(valid, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(valid)/float64(total)*10000) / 100
}
