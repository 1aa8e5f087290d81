package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// hl7Namespace seeds deterministic patient ids derived from MRNs.
var hl7Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:healthingest:hl7v2"))

// hl7Segment is one pipe-delimited segment. Fields[0] is field 1 of the
// segment, so PID-3 is Fields[2]. For MSH, Fields[0] is the separator
// itself and MSH-9 is Fields[8].
type hl7Segment struct {
	Name   string
	Fields []hl7Field
}

// hl7Field is a field split into repetitions (~) and components (^).
type hl7Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

type hl7Message struct {
	Index    int
	Segments []hl7Segment
}

func parseHL7Segment(line string) hl7Segment {
	if strings.HasPrefix(line, "MSH") && len(line) > 3 {
		sep := string(line[3])
		seg := hl7Segment{Name: "MSH"}
		seg.Fields = append(seg.Fields, hl7Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseHL7Field(part))
		}
		return seg
	}
	parts := strings.SplitN(line, "|", 2)
	seg := hl7Segment{Name: parts[0]}
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseHL7Field(f))
		}
	}
	return seg
}

func parseHL7Field(raw string) hl7Field {
	f := hl7Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// Segment returns the first segment named name.
func (m *hl7Message) Segment(name string) *hl7Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// SegmentsNamed returns every segment named name.
func (m *hl7Message) SegmentsNamed(name string) []*hl7Segment {
	var out []*hl7Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// Field returns field n (1-based) of the segment, or the zero Field.
func (s *hl7Segment) Field(n int) hl7Field {
	if s == nil || n < 1 || n > len(s.Fields) {
		return hl7Field{}
	}
	return s.Fields[n-1]
}

// Component returns component n (1-based) of the first repetition.
func (f hl7Field) Component(n int) string {
	if n < 1 || n > len(f.Components) {
		return ""
	}
	return strings.TrimSpace(f.Components[n-1])
}

// splitHL7Messages groups segment lines into messages; each MSH line
// starts a new one. Lines before the first MSH are discarded.
func splitHL7Messages(text string) []*hl7Message {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		out []*hl7Message
		cur *hl7Message
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 3 {
			continue
		}
		if strings.HasPrefix(line, "MSH") {
			cur = &hl7Message{Index: len(out) + 1}
			out = append(out, cur)
		}
		if cur == nil {
			continue
		}
		cur.Segments = append(cur.Segments, parseHL7Segment(line))
	}
	return out
}

// hl7Event is the closed set of supported message kinds.
type hl7Event interface {
	hl7Event()
}

// adtEvent is an admission, discharge or transfer message.
type adtEvent struct{ msg *hl7Message }

// ormEvent is an order message.
type ormEvent struct{ msg *hl7Message }

func (adtEvent) hl7Event() {}
func (ormEvent) hl7Event() {}

// eventOf classifies a message by MSH-9.1.
func eventOf(m *hl7Message) (hl7Event, string, error) {
	msh := m.Segment("MSH")
	kind := msh.Field(9).Value
	switch msh.Field(9).Component(1) {
	case "ADT":
		return adtEvent{m}, kind, nil
	case "ORM", "OMG":
		return ormEvent{m}, kind, nil
	case "":
		return nil, kind, fmt.Errorf("MSH-9 message type missing")
	default:
		return nil, kind, fmt.Errorf("unsupported message type %q", kind)
	}
}

// HL7 parses HL7 v2 streams holding one or more messages. ADT messages
// yield a patient, plus the visit's facility and any DG1 diagnoses; ORM
// messages yield a patient and the ordering provider. A message that
// fails is reported by number and the rest of the stream still parses.
type HL7 struct{}

// hl7Seen deduplicates facility, provider and diagnosis records that
// repeat across messages in one stream.
type hl7Seen map[string]bool

func (s hl7Seen) first(key string) bool {
	if key == "" || s[key] {
		return false
	}
	s[key] = true
	return true
}

// Parse implements Parser.
func (p *HL7) Parse(ctx context.Context, text string, _ core.DomainType) Result {
	var c collector

	msgs := splitHL7Messages(text)
	if len(msgs) == 0 {
		c.errorf("no MSH segment found")
		return c.res
	}

	seen := hl7Seen{}
	for _, m := range msgs {
		if c.cancelled(ctx) {
			break
		}
		recs, err := p.extract(m, seen)
		if err != nil {
			c.errorf("message %d: %v", m.Index, err)
			continue
		}
		for _, r := range recs {
			c.add(r)
		}
	}
	return c.res
}

func (p *HL7) extract(m *hl7Message, seen hl7Seen) (recs []*core.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, fmt.Errorf("malformed message: %v", r)
		}
	}()

	ev, kind, err := eventOf(m)
	if err != nil {
		return nil, err
	}
	src := fmt.Sprintf("message %d (%s)", m.Index, kind)

	patient, err := hl7Patient(m, src)
	if err != nil {
		return nil, err
	}
	recs = append(recs, patient)

	switch e := ev.(type) {
	case adtEvent:
		if h := hl7Facility(e.msg, src); h != nil && seen.first("h:"+h.Get("cnes")+h.Get("nome")) {
			recs = append(recs, h)
		}
		var codes []string
		for _, dg := range e.msg.SegmentsNamed("DG1") {
			code := strings.ToUpper(dg.Field(3).Component(1))
			if code == "" {
				continue
			}
			codes = append(codes, code)
			if seen.first("d:" + code) {
				d := core.NewRecord(core.DomainDiagnosisCode, src)
				setField(d, "codigo", code)
				setField(d, "descricao", dg.Field(3).Component(2))
				if d.Get("descricao") == "" {
					setField(d, "descricao", dg.Field(4).Value)
				}
				recs = append(recs, d)
			}
		}
		if len(codes) > 0 {
			setField(patient, "cid", strings.Join(codes, ";"))
		}
	case ormEvent:
		for _, xcn := range []hl7Field{e.msg.Segment("ORC").Field(12), e.msg.Segment("OBR").Field(16)} {
			if doc := hl7Provider(xcn, src); doc != nil {
				if seen.first("p:" + doc.Get("crm") + "/" + doc.Get("uf") + doc.Get("nome_completo")) {
					recs = append(recs, doc)
				}
				break
			}
		}
	}
	return recs, nil
}

// hl7Patient builds a patient from PID. A PID with fewer than five
// fields, or without an identifier or name, is treated as truncated.
func hl7Patient(m *hl7Message, src string) (*core.Record, error) {
	pid := m.Segment("PID")
	if pid == nil {
		return nil, fmt.Errorf("PID segment missing")
	}
	if len(pid.Fields) < 5 {
		return nil, fmt.Errorf("PID segment truncated (%d fields)", len(pid.Fields))
	}

	mrn, cpf := pidIdentifiers(pid.Field(3))
	if mrn == "" && cpf == "" {
		return nil, fmt.Errorf("PID-3 patient identifier missing")
	}
	name := xpnName(pid.Field(5))
	if name == "" {
		return nil, fmt.Errorf("PID-5 patient name missing")
	}

	r := core.NewRecord(core.DomainPatient, src)
	seed := mrn
	if seed == "" {
		seed = "cpf:" + cpf
	}
	r.Set("id", uuid.NewSHA1(hl7Namespace, []byte(seed)).String())
	setField(r, "nome", name)
	setField(r, "cpf", cpf)
	if mrn != "" {
		r.Set("mrn", mrn)
	}

	if dob := pid.Field(7).Component(1); len(dob) >= 8 {
		setField(r, "data_nascimento", dob[:8])
	}
	setField(r, "sexo", pid.Field(8).Component(1))

	addr := pid.Field(11)
	setField(r, "endereco", strings.TrimSpace(addr.Component(1)+" "+addr.Component(2)))
	if city := addr.Component(3); isDigits(city) {
		setField(r, "cidade", city)
	} else {
		setField(r, "cidade_nome", city)
	}
	setField(r, "uf", addr.Component(4))
	setField(r, "cep", addr.Component(5))

	phone := pid.Field(13)
	tel := phone.Component(1)
	if tel == "" {
		tel = strings.TrimSpace(phone.Component(6) + phone.Component(7))
	}
	setField(r, "telefone", tel)
	if email := phone.Component(4); strings.Contains(email, "@") {
		setField(r, "email", email)
	}
	return r, nil
}

// pidIdentifiers scans PID-3 repetitions. CPF is the repetition whose
// identifier type (CX.5) or assigning authority (CX.4) says CPF, or else
// the first 11-digit value. The MRN is the MR-typed repetition, or the
// first non-CPF one.
func pidIdentifiers(f hl7Field) (mrn, cpf string) {
	var fallback string
	typedMRN := false
	for _, rep := range f.Repeats {
		id := strings.TrimSpace(component(rep, 1))
		if id == "" {
			continue
		}
		authority := strings.ToUpper(strings.SplitN(component(rep, 4), "&", 2)[0])
		idType := strings.ToUpper(component(rep, 5))
		switch {
		case idType == "CPF" || authority == "CPF":
			if cpf == "" {
				cpf = id
			}
		case idType == "MR":
			if !typedMRN {
				mrn, typedMRN = id, true
			}
		case fallback == "" && len(digits(id)) == 11:
			fallback = id
		case mrn == "":
			mrn = id
		}
	}
	if cpf == "" {
		cpf = fallback
	}
	return mrn, cpf
}

// xpnName formats family^given^middle as "given middle family".
func xpnName(f hl7Field) string {
	parts := []string{f.Component(2), f.Component(3), f.Component(1)}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

var cnesPattern = regexp.MustCompile(`^\d{7}$`)

// hl7Facility reads the facility from PV1-3.4, falling back to PV1-39.
func hl7Facility(m *hl7Message, src string) *core.Record {
	pv1 := m.Segment("PV1")
	if pv1 == nil {
		return nil
	}
	fac := pv1.Field(3).Component(4)
	if fac == "" {
		fac = pv1.Field(39).Value
	}
	if fac == "" {
		return nil
	}
	h := core.NewRecord(core.DomainHospital, src)
	for _, sub := range strings.Split(fac, "&") {
		sub = strings.TrimSpace(sub)
		switch {
		case sub == "":
		case cnesPattern.MatchString(sub):
			setField(h, "cnes", sub)
		case !h.Has("nome") && !isDigits(sub):
			setField(h, "nome", sub)
		}
	}
	if !h.Usable() {
		return nil
	}
	return h
}

var crmAuthority = regexp.MustCompile(`(?i)^CRM[\s/-]*([A-Z]{2})$`)

// hl7Provider builds a physician from an XCN field (id^family^given^...).
// The assigning authority (XCN.9) may carry the council and state, as in
// "CRM-SP".
func hl7Provider(f hl7Field, src string) *core.Record {
	id := f.Component(1)
	name := strings.TrimSpace(strings.Join(nonEmpty(f.Component(3), f.Component(4), f.Component(2)), " "))
	if id == "" && name == "" {
		return nil
	}
	doc := core.NewRecord(core.DomainPhysician, src)
	if d := digits(id); d != "" {
		setField(doc, "crm", d)
	}
	setField(doc, "nome_completo", name)
	authority := strings.SplitN(f.Component(9), "&", 2)[0]
	if m := crmAuthority.FindStringSubmatch(strings.TrimSpace(authority)); m != nil {
		setField(doc, "uf", m[1])
	}
	return doc
}

func component(rep []string, n int) string {
	if n < 1 || n > len(rep) {
		return ""
	}
	return rep[n-1]
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
