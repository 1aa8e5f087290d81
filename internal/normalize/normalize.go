// Package normalize repairs encoding and corruption problems in submitted
// files before any parser sees them.
//
// Normalization never fails. The worst case is text decoded as UTF-8 with
// replacement characters plus a corruption indicator for the report.
package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encoding names accepted in the configured order and as hints.
const (
	UTF8        = "utf-8"
	ISO88591    = "iso-8859-1"
	Windows1252 = "windows-1252"
)

// DefaultOrder is the retry order tuned for Portuguese source data.
var DefaultOrder = []string{UTF8, ISO88591, Windows1252}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// truncationRegex matches markers left by exporters that cut a file short.
var truncationRegex = regexp.MustCompile(`(?i)\[(truncated|truncado|cortado)\]|<truncated>`)

// Result is the outcome of normalizing one file.
type Result struct {
	Text        string   `json:"-"`
	Encoding    string   `json:"encoding"`
	Corrections []string `json:"corrections,omitempty"`
	// Indicators lists corruption that survived normalization.
	Indicators []string `json:"indicators,omitempty"`
	// Repaired is set when corruption was found and corrected: a fallback
	// decoding, mis-decoded sequences, invisible or control characters.
	Repaired bool `json:"repaired"`
}

// Corrupted reports whether corruption indicators remain.
func (r Result) Corrupted() bool { return len(r.Indicators) > 0 }

// Changed reports whether any correction was applied.
func (r Result) Changed() bool { return len(r.Corrections) > 0 }

// Normalizer decodes bytes using a configured encoding retry order.
// A Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	order []string
}

// New returns a Normalizer trying encodings in the given order.
// An empty order uses DefaultOrder.
func New(order []string) (*Normalizer, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	names := make([]string, 0, len(order))
	for _, name := range order {
		canon, ok := canonicalName(name)
		if !ok {
			return nil, fmt.Errorf("unsupported encoding %q", name)
		}
		names = appendUnique(names, canon)
	}
	return &Normalizer{order: names}, nil
}

// Default returns a Normalizer using DefaultOrder.
func Default() *Normalizer {
	return &Normalizer{order: append([]string(nil), DefaultOrder...)}
}

// Order returns the configured encoding order.
func (n *Normalizer) Order() []string {
	return append([]string(nil), n.order...)
}

// Normalize decodes raw and repairs it. hint, when it names a supported
// encoding, is tried before the configured order.
func (n *Normalizer) Normalize(raw []byte, hint string) Result {
	var res Result

	if bytes.HasPrefix(raw, utf8BOM) {
		raw = raw[len(utf8BOM):]
		res.Corrections = append(res.Corrections, "removed UTF-8 byte order mark")
	}

	candidates := make([]string, 0, len(n.order)+1)
	if canon, ok := canonicalName(hint); ok {
		candidates = append(candidates, canon)
	}
	for _, name := range n.order {
		candidates = appendUnique(candidates, name)
	}

	text, used, ok := "", "", false
	for _, name := range candidates {
		text, ok = decode(raw, name)
		if ok {
			used = name
			break
		}
	}
	if !ok {
		used = UTF8
		text = strings.ToValidUTF8(string(raw), "\uFFFD")
		res.Indicators = append(res.Indicators,
			fmt.Sprintf("no clean decoding among %s; invalid bytes replaced", strings.Join(candidates, ", ")))
	} else if used != UTF8 {
		res.Corrections = append(res.Corrections, fmt.Sprintf("decoded as %s (not valid UTF-8)", used))
		res.Repaired = true
	}
	res.Encoding = used

	text, fixes, repaired := clean(text)
	res.Corrections = append(res.Corrections, fixes...)
	res.Repaired = res.Repaired || repaired
	res.Text = text

	if c := strings.Count(text, "\uFFFD"); c > 0 {
		res.Indicators = append(res.Indicators, fmt.Sprintf("replacement character present (%d)", c))
	}
	if truncationRegex.MatchString(text) {
		res.Indicators = append(res.Indicators, "truncation marker found")
	}
	return res
}

// decode converts raw from the named encoding and reports whether the
// result shows no corruption.
func decode(raw []byte, name string) (string, bool) {
	if name == UTF8 {
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}

	var enc encoding.Encoding
	switch name {
	case ISO88591:
		enc = charmap.ISO8859_1
	case Windows1252:
		enc = charmap.Windows1252
	default:
		return "", false
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return "", false
	}
	text := string(out)
	for _, r := range text {
		if r == utf8.RuneError || (r >= 0x80 && r <= 0x9F) {
			return "", false
		}
	}
	return text, true
}

func canonicalName(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "_", "-"))) {
	case "utf-8", "utf8":
		return UTF8, true
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1", "l1":
		return ISO88591, true
	case "windows-1252", "cp1252", "win1252":
		return Windows1252, true
	default:
		return "", false
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
