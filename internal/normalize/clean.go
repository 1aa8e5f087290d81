package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// maxCleanPasses bounds the repair loop. Every pass that changes the text
// shortens it, so the loop reaches a fixpoint well before this in practice.
const maxCleanPasses = 8

// repairedRunes are the characters whose UTF-8 bytes, read as Latin-1 or
// Windows-1252, produce the mojibake seen in Portuguese exports.
const repairedRunes = "áàâãäçéèêëíìîïóòôõöúùûüñÁÀÂÃÄÇÉÈÊËÍÌÎÏÓÒÔÕÖÚÙÛÜÑºª°"

var (
	mojibakeReplacer *strings.Replacer
	mojibakeKeys     []string
)

func init() {
	seen := make(map[string]bool)
	var pairs []string
	for _, r := range repairedRunes {
		utf := []byte(string(r))
		for _, cm := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
			bad, err := cm.NewDecoder().Bytes(utf)
			if err != nil || !utf8.Valid(bad) || strings.ContainsRune(string(bad), utf8.RuneError) {
				continue
			}
			key := string(bad)
			if seen[key] || key == string(r) {
				continue
			}
			seen[key] = true
			pairs = append(pairs, key, string(r))
			mojibakeKeys = append(mojibakeKeys, key)
		}
	}
	mojibakeReplacer = strings.NewReplacer(pairs...)
}

// invisible runes removed outright.
var invisible = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u200E': true, // left-to-right mark
	'\u200F': true, // right-to-left mark
	'\u2060': true, // word joiner
	'\uFEFF': true, // zero width no-break space
	'\u00AD': true, // soft hyphen
	'\u180E': true, // mongolian vowel separator
}

type cleanCounts struct {
	mojibake   int
	invisible  int
	nulls      int
	controls   int
	lineEnding int
}

// clean repeats the repair passes until the text stops changing and
// returns it with one correction entry per kind of repair. repaired is
// true when anything other than line endings was fixed.
func clean(text string) (out string, fixes []string, repaired bool) {
	var total cleanCounts
	for i := 0; i < maxCleanPasses; i++ {
		next, c := cleanPass(text)
		total.mojibake += c.mojibake
		total.invisible += c.invisible
		total.nulls += c.nulls
		total.controls += c.controls
		total.lineEnding += c.lineEnding
		if next == text {
			break
		}
		text = next
	}

	repaired = total.mojibake+total.invisible+total.nulls+total.controls > 0
	if total.mojibake > 0 {
		fixes = append(fixes, fmt.Sprintf("repaired %d mis-decoded character sequences", total.mojibake))
	}
	if total.invisible > 0 {
		fixes = append(fixes, fmt.Sprintf("removed %d invisible characters", total.invisible))
	}
	if total.nulls > 0 {
		fixes = append(fixes, fmt.Sprintf("removed %d null bytes", total.nulls))
	}
	if total.controls > 0 {
		fixes = append(fixes, fmt.Sprintf("removed %d control characters", total.controls))
	}
	if total.lineEnding > 0 {
		fixes = append(fixes, fmt.Sprintf("normalized %d line endings to LF", total.lineEnding))
	}
	return text, fixes, repaired
}

func cleanPass(text string) (string, cleanCounts) {
	var c cleanCounts

	// Mojibake first: some sequences end in a soft hyphen or C1 control
	// that the later passes would strip.
	for _, key := range mojibakeKeys {
		c.mojibake += strings.Count(text, key)
	}
	if c.mojibake > 0 {
		text = mojibakeReplacer.Replace(text)
	}

	c.lineEnding = strings.Count(text, "\r")
	if c.lineEnding > 0 {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}

	needsStrip := false
	for _, r := range text {
		if invisible[r] || isControl(r) {
			needsStrip = true
			break
		}
	}
	if !needsStrip {
		return text, c
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0:
			c.nulls++
		case invisible[r]:
			c.invisible++
		case isControl(r):
			c.controls++
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), c
}

// isControl reports C0/C1 control characters other than tab and newline.
func isControl(r rune) bool {
	if r == '\t' || r == '\n' {
		return false
	}
	return r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}
