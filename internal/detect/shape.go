package detect

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// shape is what domain detection needs to know about content.
type shape struct {
	fields     []string
	rows       int // -1 when unknown
	structural core.DomainType
}

var fhirResourceDomains = map[string]core.DomainType{
	"Patient":          core.DomainPatient,
	"Organization":     core.DomainHospital,
	"Practitioner":     core.DomainPhysician,
	"PractitionerRole": core.DomainPhysician,
	"Location":         core.DomainHospital,
}

func inspect(content string, format core.DetectedFormat) shape {
	switch format {
	case core.FormatTabular:
		return inspectTabular(content)
	case core.FormatJSON:
		return inspectJSON(content)
	case core.FormatXML:
		return inspectXML(content)
	case core.FormatHL7:
		return inspectHL7(content)
	case core.FormatFHIR:
		if strings.HasPrefix(strings.TrimSpace(content), "<") {
			return inspectFHIRXML(content)
		}
		return inspectFHIRJSON(content)
	default:
		return shape{rows: -1, structural: core.DomainUnknown}
	}
}

func inspectTabular(content string) shape {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return shape{rows: 0}
	}
	delim, _ := SniffDelimiter(lines[0])
	header := strings.Split(lines[0], string(delim))
	for i, h := range header {
		header[i] = core.CleanCell(h)
	}
	return shape{fields: header, rows: len(lines) - 1}
}

func inspectJSON(content string) shape {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return shape{rows: -1}
	}
	return jsonShape(v, 0)
}

func jsonShape(v any, depth int) shape {
	switch x := v.(type) {
	case []any:
		sh := shape{rows: len(x)}
		if len(x) > 0 {
			if obj, ok := x[0].(map[string]any); ok {
				sh.fields = sortedKeys(obj)
			}
		}
		return sh
	case map[string]any:
		// Envelope keyed by collection names, possibly nested one level.
		rows, found := 0, core.DomainUnknown
		for _, k := range sortedKeys(x) {
			arr, ok := x[k].([]any)
			if !ok {
				continue
			}
			if t, ok := DomainFromName(k); ok {
				rows += len(arr)
				if !found.Known() || t.Rank() < found.Rank() {
					found = t
				}
			}
		}
		if found.Known() {
			return shape{rows: rows, structural: found}
		}
		if depth < 2 {
			for _, k := range sortedKeys(x) {
				if inner, ok := x[k].(map[string]any); ok {
					if sh := jsonShape(inner, depth+1); sh.structural.Known() {
						return sh
					}
				}
			}
		}
		// A lone array of objects under any key.
		for _, k := range sortedKeys(x) {
			if arr, ok := x[k].([]any); ok && len(arr) > 0 {
				if _, isObj := arr[0].(map[string]any); isObj {
					return jsonShape(arr, depth+1)
				}
			}
		}
		return shape{fields: sortedKeys(x), rows: 1}
	default:
		return shape{rows: 0}
	}
}

func inspectXML(content string) shape {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var (
		depth      int
		root       string
		children   int
		childNames []string
		firstChild []string
		firstDone  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if root == "" {
				return shape{rows: -1}
			}
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				root = el.Name.Local
			case 2:
				children++
				childNames = append(childNames, el.Name.Local)
				for _, a := range el.Attr {
					if !firstDone {
						firstChild = append(firstChild, a.Name.Local)
					}
				}
			case 3:
				if !firstDone {
					firstChild = append(firstChild, el.Name.Local)
				}
			}
		case xml.EndElement:
			if depth == 2 && children == 1 {
				firstDone = true
			}
			depth--
		}
	}

	if root == "" {
		return shape{rows: -1}
	}
	sh := shape{rows: children, fields: firstChild}
	if t, ok := DomainFromName(root); ok {
		sh.structural = t
		if isRecordElement(root) {
			// Single record document: its children are the fields.
			sh.fields = childNames
		}
		return sh
	}
	best := core.DomainUnknown
	for _, n := range childNames {
		if t, ok := DomainFromName(n); ok && (!best.Known() || t.Rank() < best.Rank()) {
			best = t
		}
	}
	sh.structural = best
	return sh
}

// isRecordElement reports whether an element name looks singular, naming
// one record rather than a collection.
func isRecordElement(name string) bool {
	n := strings.ToLower(name)
	return !strings.HasSuffix(n, "s") && !strings.HasSuffix(n, "list") && !strings.HasSuffix(n, "lista")
}

func inspectHL7(content string) shape {
	messages, pids := 0, 0
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "MSH|"):
			messages++
		case strings.HasPrefix(line, "PID|"):
			pids++
		}
	}
	sh := shape{rows: messages}
	if pids > 0 {
		sh.structural = core.DomainPatient
	}
	return sh
}

func inspectFHIRJSON(content string) shape {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return shape{rows: -1}
	}
	return fhirShape(v, 0)
}

func fhirShape(v any, depth int) shape {
	switch x := v.(type) {
	case []any:
		sh := shape{rows: len(x)}
		if len(x) > 0 {
			sh.structural = fhirShape(x[0], depth+1).structural
		}
		return sh
	case map[string]any:
		rt, _ := x["resourceType"].(string)
		if rt != "Bundle" {
			return shape{rows: 1, structural: fhirResourceDomains[rt], fields: sortedKeys(x)}
		}
		entries, _ := x["entry"].([]any)
		sh := shape{rows: len(entries)}
		if depth < 4 {
			for _, e := range entries {
				entry, ok := e.(map[string]any)
				if !ok {
					continue
				}
				if inner := fhirShape(entry["resource"], depth+1); inner.structural.Known() {
					sh.structural = inner.structural
					break
				}
			}
		}
		return sh
	default:
		return shape{rows: 0}
	}
}

func inspectFHIRXML(content string) shape {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var root string
	entries := 0
	afterResource := false
	structural := core.DomainUnknown
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := el.Name.Local
		switch {
		case root == "":
			root = name
		case name == "entry":
			entries++
		case name == "resource":
			afterResource = true
		case afterResource:
			if t := fhirResourceDomains[name]; t.Known() && !structural.Known() {
				structural = t
			}
			afterResource = false
		}
	}

	if root == "" {
		return shape{rows: -1}
	}
	if root != "Bundle" {
		return shape{rows: 1, structural: fhirResourceDomains[root]}
	}
	return shape{rows: entries, structural: structural}
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
