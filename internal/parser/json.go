package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/detect"
)

// maxEnvelopeDepth bounds how deep integrated envelopes are searched.
const maxEnvelopeDepth = 2

// JSON parses the four supported shapes:
//
//   - an object whose keys name typed arrays ({"medicos": [...]}), which
//     also covers integrated envelopes holding several of them
//   - a top-level array of objects, typed from the first element's keys
//   - a single bare object, typed from its keys
//   - an envelope nesting any of the above one or two levels down
type JSON struct {
	classify Classifier
}

// Parse implements Parser.
func (p *JSON) Parse(ctx context.Context, text string, hint core.DomainType) Result {
	var c collector

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		c.errorf("invalid JSON: %v", err)
		return c.res
	}

	if !p.dispatch(ctx, &c, v, hint, 0) {
		c.errorf("unrecognized JSON shape: expected an object, an array of objects, or an object of typed arrays")
	}
	return c.res
}

// dispatch reports whether v had a recognized shape.
func (p *JSON) dispatch(ctx context.Context, c *collector, v any, hint core.DomainType, depth int) bool {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return true
		}
		first, ok := x[0].(map[string]any)
		if !ok {
			return false
		}
		domain := p.infer(first, hint)
		if !domain.Known() {
			c.errorf("array: cannot determine data type from keys %s", strings.Join(sortedKeys(first), ", "))
			return true
		}
		p.emitArray(ctx, c, x, domain, "item")
		return true

	case map[string]any:
		typed := false
		for _, k := range sortedKeys(x) {
			arr, ok := x[k].([]any)
			if !ok {
				continue
			}
			if t, ok := detect.DomainFromName(k); ok {
				typed = true
				p.emitArray(ctx, c, arr, t, k)
			}
		}
		if typed {
			return true
		}

		if depth < maxEnvelopeDepth {
			for _, k := range sortedKeys(x) {
				inner, ok := x[k].(map[string]any)
				if ok && hasTypedArray(inner, depth+1) {
					return p.dispatch(ctx, c, inner, hint, depth+1)
				}
			}
		}

		// A lone array of objects under an untyped key ({"data": [...]}).
		var arrays []string
		for _, k := range sortedKeys(x) {
			if arr, ok := x[k].([]any); ok && len(arr) > 0 {
				if _, isObj := arr[0].(map[string]any); isObj {
					arrays = append(arrays, k)
				}
			}
		}
		if len(arrays) == 1 && onlyMetadataBesides(x, arrays[0]) {
			return p.dispatch(ctx, c, x[arrays[0]], hint, depth+1)
		}

		domain := p.infer(x, hint)
		if !domain.Known() {
			c.errorf("object: cannot determine data type from keys %s", strings.Join(sortedKeys(x), ", "))
			return true
		}
		rec := core.NewRecord(domain, "object")
		flattenInto(rec, x, "")
		c.add(rec)
		return true

	default:
		return false
	}
}

func (p *JSON) emitArray(ctx context.Context, c *collector, arr []any, t core.DomainType, key string) {
	for i, item := range arr {
		if c.cancelled(ctx) {
			return
		}
		obj, ok := item.(map[string]any)
		if !ok {
			c.errorf("%s[%d]: expected object, got %s", key, i, jsonKind(item))
			continue
		}
		rec := core.NewRecord(t, fmt.Sprintf("%s[%d]", key, i))
		flattenInto(rec, obj, "")
		c.add(rec)
	}
}

func (p *JSON) infer(obj map[string]any, hint core.DomainType) core.DomainType {
	if hint.Known() {
		return hint
	}
	if p.classify == nil {
		return core.DomainUnknown
	}
	t, _ := p.classify.Fingerprint(sortedKeys(obj), core.DomainUnknown)
	return t
}

// flattenInto copies obj into rec. Scalar arrays become lists; nested
// objects are flattened, taking their own key when free and "parent_key"
// otherwise.
func flattenInto(rec *core.Record, obj map[string]any, prefix string) {
	for _, k := range sortedKeys(obj) {
		name := k
		if prefix != "" && rec.Has(k) {
			name = prefix + "_" + k
		}
		switch v := obj[k].(type) {
		case nil:
		case map[string]any:
			flattenInto(rec, v, k)
		case []any:
			var list []string
			for _, item := range v {
				switch iv := item.(type) {
				case string:
					list = append(list, strings.TrimSpace(iv))
				case json.Number:
					list = append(list, iv.String())
				case bool:
					list = append(list, fmt.Sprint(iv))
				}
			}
			if len(list) > 0 {
				setField(rec, name, list)
			}
		case bool:
			setField(rec, name, fmt.Sprint(v))
		default:
			setField(rec, name, v)
		}
	}
}

func hasTypedArray(m map[string]any, depth int) bool {
	for k, v := range m {
		if _, ok := v.([]any); ok {
			if _, typed := detect.DomainFromName(k); typed {
				return true
			}
		}
		if inner, ok := v.(map[string]any); ok && depth < maxEnvelopeDepth && hasTypedArray(inner, depth+1) {
			return true
		}
	}
	return false
}

// onlyMetadataBesides reports whether every key other than key holds a
// scalar, as in {"total": 2, "data": [...]}.
func onlyMetadataBesides(m map[string]any, key string) bool {
	for k, v := range m {
		if k == key {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return "value"
	}
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
