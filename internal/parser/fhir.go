package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// maxBundleDepth bounds Bundle-in-Bundle recursion.
const maxBundleDepth = 4

var fhirNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:healthingest:fhir"))

// fhirResource is the closed set of resource kinds the parser extracts.
type fhirResource interface {
	fhirResource()
}

type (
	fhirPatient      struct{ m map[string]any }
	fhirOrganization struct{ m map[string]any }
	fhirPractitioner struct{ m map[string]any }
	fhirBundle       struct{ m map[string]any }
)

func (fhirPatient) fhirResource()      {}
func (fhirOrganization) fhirResource() {}
func (fhirPractitioner) fhirResource() {}
func (fhirBundle) fhirResource()       {}

func resourceOf(m map[string]any) (fhirResource, string) {
	rt := str(m["resourceType"])
	switch rt {
	case "Patient":
		return fhirPatient{m}, rt
	case "Organization":
		return fhirOrganization{m}, rt
	case "Practitioner":
		return fhirPractitioner{m}, rt
	case "Bundle":
		return fhirBundle{m}, rt
	}
	return nil, rt
}

// FHIR parses FHIR resources in JSON or XML form. Bundles are unpacked
// entry by entry through the same dispatch.
type FHIR struct{}

// Parse implements Parser.
func (p *FHIR) Parse(ctx context.Context, text string, _ core.DomainType) Result {
	var c collector

	root, err := decodeFHIR(text)
	if err != nil {
		c.errorf("invalid FHIR content: %v", err)
		return c.res
	}
	if str(root["resourceType"]) == "" {
		c.errorf("FHIR content has no resourceType")
		return c.res
	}
	p.dispatch(ctx, &c, root, "", 0)
	return c.res
}

// decodeFHIR tries JSON first, then XML.
func decodeFHIR(text string) (map[string]any, error) {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	jsonErr := dec.Decode(&m)
	if jsonErr == nil {
		return m, nil
	}
	root, err := parseXMLTree(text)
	if err != nil && root == nil {
		return nil, fmt.Errorf("not JSON (%v) and not XML (%v)", jsonErr, err)
	}
	return fhirXMLResource(root), nil
}

func (p *FHIR) dispatch(ctx context.Context, c *collector, m map[string]any, path string, depth int) {
	res, rt := resourceOf(m)
	src := rt
	if path != "" {
		src = path + " " + rt
	}
	if id := str(m["id"]); id != "" {
		src += "/" + id
	}

	switch r := res.(type) {
	case fhirPatient:
		c.add(fhirPatientRecord(r.m, src))
	case fhirOrganization:
		c.add(fhirOrganizationRecord(r.m, src))
	case fhirPractitioner:
		c.add(fhirPractitionerRecord(r.m, src))
	case fhirBundle:
		if depth >= maxBundleDepth {
			c.errorf("%s: bundle nesting deeper than %d", src, maxBundleDepth)
			return
		}
		for i, e := range list(r.m["entry"]) {
			if c.cancelled(ctx) {
				return
			}
			entryPath := fmt.Sprintf("entry[%d]", i)
			if path != "" {
				entryPath = path + "." + entryPath
			}
			entry, _ := e.(map[string]any)
			inner, ok := entry["resource"].(map[string]any)
			if !ok {
				c.errorf("%s: entry has no resource", entryPath)
				continue
			}
			p.dispatch(ctx, c, inner, entryPath, depth+1)
		}
	default:
		if rt == "" {
			c.errorf("%s: resource has no resourceType", src)
			return
		}
		c.warnf("%s: unsupported resource type skipped", src)
	}
}

func fhirPatientRecord(m map[string]any, src string) *core.Record {
	r := core.NewRecord(core.DomainPatient, src)
	r.Set("id", fhirUUID(str(m["id"]), m))
	setField(r, "nome", humanName(m["name"]))
	setField(r, "cpf", findIdentifier(m, "cpf", 11))
	setField(r, "data_nascimento", str(m["birthDate"]))
	setField(r, "sexo", str(m["gender"]))
	setTelecom(r, m)
	setAddress(r, m, true)
	return r
}

func fhirOrganizationRecord(m map[string]any, src string) *core.Record {
	r := core.NewRecord(core.DomainHospital, src)
	r.Set("codigo", fhirUUID(str(m["id"]), m))
	setField(r, "nome", str(m["name"]))
	setField(r, "cnes", findIdentifier(m, "cnes", 0))
	setTelecom(r, m)
	setAddress(r, m, false)
	return r
}

var crmState = regexp.MustCompile(`(?i)(?:crm[\s/-]*|/)([a-z]{2})$`)

func fhirPractitionerRecord(m map[string]any, src string) *core.Record {
	r := core.NewRecord(core.DomainPhysician, src)
	r.Set("codigo", fhirUUID(str(m["id"]), m))
	setField(r, "nome_completo", humanName(m["name"]))

	if id := identifierMatching(m, "crm"); id != nil {
		value := strings.TrimSpace(str(id["value"]))
		setField(r, "crm", digits(value))
		for _, s := range []string{value, str(id["system"])} {
			if sm := crmState.FindStringSubmatch(strings.TrimSpace(s)); sm != nil {
				setField(r, "uf", sm[1])
				break
			}
		}
	}
	for _, q := range list(m["qualification"]) {
		qm, _ := q.(map[string]any)
		if text := conceptText(qm["code"]); text != "" {
			setField(r, "especialidade", text)
			break
		}
	}
	setTelecom(r, m)
	setAddress(r, m, false)
	return r
}

// findIdentifier returns the identifier value whose system or type
// mentions label. When none does and fallbackDigits is set, the first
// value with exactly that many digits is used.
func findIdentifier(m map[string]any, label string, fallbackDigits int) string {
	if id := identifierMatching(m, label); id != nil {
		return strings.TrimSpace(str(id["value"]))
	}
	if fallbackDigits == 0 {
		return ""
	}
	for _, v := range list(m["identifier"]) {
		im, _ := v.(map[string]any)
		value := strings.TrimSpace(str(im["value"]))
		if len(digits(value)) == fallbackDigits && len(value) <= fallbackDigits+3 {
			return value
		}
	}
	return ""
}

func identifierMatching(m map[string]any, label string) map[string]any {
	for _, v := range list(m["identifier"]) {
		im, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(str(im["system"])), label) ||
			strings.Contains(strings.ToLower(conceptText(im["type"])), label) ||
			conceptHasCode(im["type"], label) {
			return im
		}
	}
	return nil
}

// fhirUUID keeps a resource id that is already a UUID and derives a
// stable one otherwise.
func fhirUUID(id string, m map[string]any) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	seed := id
	if seed == "" {
		seed = str(m["resourceType"]) + ":" + humanName(m["name"]) + ":" + findIdentifier(m, "", 0)
	}
	return uuid.NewSHA1(fhirNamespace, []byte(seed)).String()
}

// humanName renders the first HumanName (or a plain string name).
func humanName(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	for _, n := range list(v) {
		nm, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(str(nm["text"])); text != "" {
			return text
		}
		var parts []string
		for _, g := range list(nm["given"]) {
			if s := strings.TrimSpace(str(g)); s != "" {
				parts = append(parts, s)
			}
		}
		if fam := strings.TrimSpace(str(nm["family"])); fam != "" {
			parts = append(parts, fam)
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

func setTelecom(r *core.Record, m map[string]any) {
	for _, t := range list(m["telecom"]) {
		tm, _ := t.(map[string]any)
		value := strings.TrimSpace(str(tm["value"]))
		switch str(tm["system"]) {
		case "phone", "sms":
			setField(r, "telefone", value)
		case "email":
			setField(r, "email", value)
		}
	}
}

// setAddress copies the first address. City goes to cidade when it is an
// IBGE code and to cidade_nome otherwise.
func setAddress(r *core.Record, m map[string]any, patient bool) {
	addrs := list(m["address"])
	if len(addrs) == 0 {
		return
	}
	a, _ := addrs[0].(map[string]any)
	var lines []string
	for _, l := range list(a["line"]) {
		if s := strings.TrimSpace(str(l)); s != "" {
			lines = append(lines, s)
		}
	}
	setField(r, "endereco", strings.Join(lines, ", "))
	if city := strings.TrimSpace(str(a["city"])); isDigits(city) {
		setField(r, "cidade", city)
	} else {
		setField(r, "cidade_nome", city)
	}
	setField(r, "uf", str(a["state"]))
	if patient {
		setField(r, "cep", str(a["postalCode"]))
	} else {
		setField(r, "bairro", str(a["district"]))
	}
}

func conceptText(v any) string {
	cm, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if text := str(cm["text"]); text != "" {
		return text
	}
	for _, c := range list(cm["coding"]) {
		coding, _ := c.(map[string]any)
		if d := str(coding["display"]); d != "" {
			return d
		}
	}
	return ""
}

func conceptHasCode(v any, code string) bool {
	cm, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, c := range list(cm["coding"]) {
		coding, _ := c.(map[string]any)
		if strings.EqualFold(str(coding["code"]), code) {
			return true
		}
	}
	return false
}

// list returns v as a slice; a single value becomes a one-element slice,
// which is how repeated XML elements look when they occur once.
func list(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return fmt.Sprint(x)
	}
	return ""
}

// fhirXMLResource converts a FHIR XML element into the JSON object shape.
// Primitive values live in value attributes; repeated elements become
// arrays; a resource wrapper element (<resource><Patient/></resource>)
// yields the inner resource with its resourceType set.
func fhirXMLResource(n *node) map[string]any {
	m := fhirXMLObject(n)
	m["resourceType"] = n.name
	return m
}

func fhirXMLObject(n *node) map[string]any {
	m := make(map[string]any)
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Local == "value" {
			continue
		}
		m[a.Name.Local] = a.Value
	}
	for _, ch := range n.children {
		var v any
		switch {
		case ch.name == "resource" || ch.name == "contained":
			if len(ch.children) == 0 {
				continue
			}
			v = fhirXMLResource(ch.children[0])
		case ch.leaf():
			v = attrValue(ch)
			if v == "" {
				v = strings.TrimSpace(ch.text)
			}
		default:
			v = fhirXMLObject(ch)
		}
		switch prev := m[ch.name].(type) {
		case nil:
			m[ch.name] = v
		case []any:
			m[ch.name] = append(prev, v)
		default:
			m[ch.name] = []any{prev, v}
		}
	}
	return m
}
