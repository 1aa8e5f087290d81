package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is a canonical domain record produced by a parser.
//
// Fields is deliberately loose: sources disagree on names and shapes, so
// parsers only canonicalize field names and leave strict shape checks to
// the validator. Values are string, json.Number, float64, int, bool,
// time.Time, or []string.
type Record struct {
	Type   DomainType     `json:"type"`
	Fields map[string]any `json:"fields"`
	// Source locates the record in its file, e.g. "row 4" or "message 2".
	Source string `json:"source,omitempty"`
	// Overwrite makes the store replace a matching record's fields instead
	// of merging non-blank values into them.
	Overwrite bool `json:"overwrite,omitempty"`
}

// NewRecord returns an empty record of the given type.
func NewRecord(t DomainType, source string) *Record {
	return &Record{Type: t, Fields: make(map[string]any), Source: source}
}

// Set stores a value, ignoring blank strings and empty lists so that a
// missing source value never shows up as a populated field.
func (r *Record) Set(field string, value any) {
	if IsBlank(value) {
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = value
}

// Get returns the string form of a field, or "" if absent.
func (r *Record) Get(field string) string {
	if r == nil {
		return ""
	}
	v, ok := r.Fields[field]
	if !ok {
		return ""
	}
	return ValueString(v)
}

// Has reports whether field is present and non-blank.
func (r *Record) Has(field string) bool {
	if r == nil {
		return false
	}
	v, ok := r.Fields[field]
	return ok && !IsBlank(v)
}

// Usable reports whether the record carries a known type and at least one
// populated field. Parsers drop records that are not usable.
func (r *Record) Usable() bool {
	if r == nil || !r.Type.Known() {
		return false
	}
	for _, v := range r.Fields {
		if !IsBlank(v) {
			return true
		}
	}
	return false
}

// FieldNames returns the populated field names in sorted order.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k, v := range r.Fields {
		if !IsBlank(v) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of the record. List values are copied.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Type: r.Type, Source: r.Source, Overwrite: r.Overwrite, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out.Fields[k] = v
	}
	return out
}

// IsBlank reports whether a field value counts as empty.
func IsBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case json.Number:
		return strings.TrimSpace(string(x)) == ""
	case []string:
		for _, s := range x {
			if strings.TrimSpace(s) != "" {
				return false
			}
		}
		return true
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
}

// ValueString renders a field value as text.
// Lists are joined with ";" to match the tabular list convention.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02")
	case []string:
		return strings.Join(x, ";")
	default:
		return fmt.Sprint(x)
	}
}

// MergeFields overlays incoming onto existing. Only non-blank incoming
// values overwrite; blank incoming values never erase existing data.
// Neither input is modified.
func MergeFields(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if IsBlank(v) {
			continue
		}
		out[k] = v
	}
	return out
}
