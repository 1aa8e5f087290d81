// Package detect classifies submitted files: the wire format from content
// sniffing, and the domain type from filename hints and field names.
//
// Every function here is pure: the same inputs always give the same result.
package detect

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// Delimiters are the tabular delimiters considered, in tie-break order.
var Delimiters = []rune{',', ';', '\t', '|'}

// fhirNamespace marks FHIR XML documents.
const fhirNamespace = "http://hl7.org/fhir"

// sniffWindow bounds how much content the JSON/XML checks look at.
const sniffWindow = 64 * 1024

// Format classifies content. Content sniffing runs before the file
// extension is consulted:
//
//  1. a line starting with "MSH|" is HL7
//  2. an opening '{' or '[' is JSON, or FHIR when a resourceType key is present
//  3. an opening '<' is XML, or FHIR when the FHIR namespace is declared
//  4. the file extension
//  5. a delimiter in the first line means tabular
func Format(filename, content string) core.DetectedFormat {
	if HasHL7Header(content) {
		return core.FormatHL7
	}

	trimmed := strings.TrimLeft(content, " \t\n")
	head := trimmed
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if strings.Contains(head, `"resourceType"`) {
			return core.FormatFHIR
		}
		return core.FormatJSON
	}
	if strings.HasPrefix(trimmed, "<") {
		if strings.Contains(head, fhirNamespace) {
			return core.FormatFHIR
		}
		return core.FormatXML
	}

	if f := formatByExtension(filename); f != core.FormatUnknown {
		return f
	}

	if _, ok := SniffDelimiter(FirstLine(trimmed)); ok {
		return core.FormatTabular
	}
	return core.FormatUnknown
}

// HasHL7Header reports whether any line starts with an MSH segment.
func HasHL7Header(content string) bool {
	return strings.HasPrefix(content, "MSH|") || strings.Contains(content, "\nMSH|")
}

func formatByExtension(filename string) core.DetectedFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt", ".xlsx":
		return core.FormatTabular
	case ".json":
		return core.FormatJSON
	case ".xml":
		return core.FormatXML
	case ".hl7":
		return core.FormatHL7
	default:
		return core.FormatUnknown
	}
}

// SniffDelimiter picks the delimiter occurring most often in a header line.
// Ties go to the earlier entry in Delimiters.
func SniffDelimiter(header string) (rune, bool) {
	best, bestCount := ',', 0
	for _, d := range Delimiters {
		if c := strings.Count(header, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best, bestCount > 0
}

// FirstLine returns the first non-blank line of content.
func FirstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

var zipMagic = []byte("PK\x03\x04")

// IsSpreadsheet reports whether raw is an .xlsx workbook: zip magic plus a
// spreadsheet extension.
func IsSpreadsheet(filename string, raw []byte) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return (ext == ".xlsx" || ext == ".xlsm") && bytes.HasPrefix(raw, zipMagic)
}
