package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/detect"
)

// node is a generic XML element.
type node struct {
	name     string
	attrs    []xml.Attr
	children []*node
	text     string
}

func (n *node) leaf() bool { return len(n.children) == 0 }

// parseXMLTree reads a whole document into a node tree.
func parseXMLTree(text string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false

	var (
		root  *node
		stack []*node
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return root, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			n := &node{name: el.Name.Local, attrs: el.Attr}
			if len(stack) == 0 {
				if root != nil {
					return root, fmt.Errorf("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(el)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	return root, nil
}

// XML parses element-per-record documents. Dispatch is on the root name:
// a collection root ("hospitais", "medicos", "pacientes"), a single record
// root, or an integrated root holding several typed collections.
type XML struct {
	classify Classifier
}

// Parse implements Parser.
func (p *XML) Parse(ctx context.Context, text string, hint core.DomainType) Result {
	var c collector

	root, err := parseXMLTree(text)
	if err != nil && root == nil {
		c.errorf("invalid XML: %v", err)
		return c.res
	}
	if err != nil {
		c.warnf("XML ends early (%v); using elements read so far", err)
	}

	if t, ok := detect.DomainFromName(root.name); ok {
		if isCollection(root) {
			p.emit(ctx, &c, t, root.children)
		} else {
			p.emit(ctx, &c, t, []*node{root})
		}
		return c.res
	}

	// Integrated document: typed collections or typed records under the root.
	integrated := false
	for _, child := range root.children {
		t, ok := detect.DomainFromName(child.name)
		if !ok {
			continue
		}
		integrated = true
		if isCollection(child) {
			p.emit(ctx, &c, t, child.children)
		} else {
			p.emit(ctx, &c, t, []*node{child})
		}
	}
	if integrated {
		return c.res
	}

	domain := hint
	if !domain.Known() && p.classify != nil && len(root.children) > 0 {
		domain, _ = p.classify.Fingerprint(elementFields(root.children[0]), core.DomainUnknown)
	}
	if !domain.Known() {
		c.errorf("unrecognized XML root <%s>: cannot determine data type", root.name)
		return c.res
	}
	p.emit(ctx, &c, domain, root.children)
	return c.res
}

func (p *XML) emit(ctx context.Context, c *collector, t core.DomainType, elems []*node) {
	for i, el := range elems {
		if c.cancelled(ctx) {
			return
		}
		rec := core.NewRecord(t, fmt.Sprintf("<%s> %d", el.name, i+1))
		if el.leaf() && len(el.attrs) == 0 {
			c.errorf("<%s> %d: element has no fields", el.name, i+1)
			continue
		}
		extractElement(rec, el, "")
		c.add(rec)
	}
}

// extractElement copies attributes and child elements into rec. Repeated
// leaf children become lists; nested elements are flattened, taking their
// own name when free and "parent_child" otherwise.
func extractElement(rec *core.Record, el *node, prefix string) {
	for _, a := range el.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		setNested(rec, prefix, a.Name.Local, a.Value)
	}

	counts := make(map[string]int, len(el.children))
	for _, ch := range el.children {
		counts[ch.name]++
	}

	done := make(map[string]bool)
	for _, ch := range el.children {
		switch {
		case counts[ch.name] > 1 && ch.leaf():
			if done[ch.name] {
				continue
			}
			done[ch.name] = true
			var list []string
			for _, sib := range el.children {
				if sib.name == ch.name && sib.leaf() {
					list = append(list, strings.TrimSpace(sib.text))
				}
			}
			setNested(rec, prefix, ch.name, strings.Join(list, ";"))
		case ch.leaf():
			v := strings.TrimSpace(ch.text)
			if v == "" {
				v = attrValue(ch)
			}
			setNested(rec, prefix, ch.name, v)
		case isListElement(ch):
			var list []string
			for _, item := range ch.children {
				list = append(list, strings.TrimSpace(item.text))
			}
			setNested(rec, prefix, ch.name, strings.Join(list, ";"))
		default:
			extractElement(rec, ch, ch.name)
		}
	}
}

func setNested(rec *core.Record, prefix, name, value string) {
	if prefix != "" {
		if !rec.Has(name) {
			setField(rec, name, value)
			return
		}
		name = prefix + "_" + name
	}
	setField(rec, name, value)
}

// attrValue returns a "value" attribute, the FHIR-style way to carry text.
func attrValue(n *node) string {
	for _, a := range n.attrs {
		if a.Name.Local == "value" {
			return a.Value
		}
	}
	return ""
}

// isListElement reports whether every child is a leaf with the same name.
func isListElement(n *node) bool {
	if len(n.children) == 0 {
		return false
	}
	first := n.children[0].name
	for _, ch := range n.children {
		if ch.name != first || !ch.leaf() {
			return false
		}
	}
	return len(n.children) > 1 || strings.HasPrefix(n.name, first)
}

// isCollection reports whether n holds records rather than being one.
// Plural names ("medicos", "lista") are collections; a singular name is a
// collection only when all its children share one domain-named element,
// as in <cadastro_medico><medico/>...</cadastro_medico>.
func isCollection(n *node) bool {
	name := strings.ToLower(n.name)
	if strings.HasSuffix(name, "s") || strings.HasSuffix(name, "list") || strings.HasSuffix(name, "lista") {
		return true
	}
	if len(n.children) == 0 {
		return false
	}
	first := n.children[0].name
	for _, ch := range n.children {
		if ch.name != first {
			return false
		}
	}
	_, ok := detect.DomainFromName(first)
	return ok
}

func elementFields(n *node) []string {
	var out []string
	for _, a := range n.attrs {
		out = append(out, a.Name.Local)
	}
	for _, ch := range n.children {
		out = append(out, ch.name)
	}
	return out
}
