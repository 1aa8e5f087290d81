// Package security screens uploaded files before and after parsing.
//
// Prescan looks only at metadata (name, declared type, size) and runs
// before any bytes are decoded. Postscan matches the normalized text
// against script, SQL and path-traversal pattern families. DeepScan is
// opt-in and sniffs the raw bytes and character distribution.
package security

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// MaxFileSize is the hard upload ceiling (100MB).
const MaxFileSize int64 = 100 * 1024 * 1024

// allowedMIME is the declared-type whitelist. Browsers are inconsistent
// about CSV and HL7, so off-list types only warn.
var allowedMIME = []string{
	"text/csv",
	"text/plain",
	"text/tab-separated-values",
	"application/csv",
	"application/json",
	"application/xml",
	"text/xml",
	"application/fhir+json",
	"application/fhir+xml",
	"application/hl7-v2",
	"x-application/hl7-v2+er7",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/octet-stream",
}

// blockedExtensions are executable or script types never accepted.
var blockedExtensions = map[string]bool{
	".exe": true, ".dll": true, ".com": true, ".bat": true, ".cmd": true,
	".msi": true, ".scr": true, ".pif": true, ".cpl": true, ".sys": true,
	".sh": true, ".bash": true, ".ps1": true, ".psm1": true, ".vbs": true,
	".vbe": true, ".js": true, ".jse": true, ".wsf": true, ".hta": true,
	".jar": true, ".php": true, ".phtml": true, ".asp": true, ".aspx": true,
	".jsp": true, ".py": true, ".pl": true, ".rb": true, ".so": true,
	".dylib": true, ".bin": true, ".app": true, ".html": true, ".htm": true,
	".svg": true, ".lnk": true,
}

// SupportedExtensions are the extensions the parsers understand.
var SupportedExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".txt": true, ".xlsx": true, ".xlsm": true,
	".json": true, ".xml": true, ".hl7": true, ".dat": true,
}

// Options configure a Scanner.
type Options struct {
	MaxFileSize int64
	// ExtraMIMETypes extends the declared-type whitelist.
	ExtraMIMETypes []string
}

// Scanner holds the immutable whitelist and limits. It is safe for
// concurrent use.
type Scanner struct {
	maxSize int64
	allowed map[string]bool
}

// New returns a Scanner. A zero MaxFileSize means MaxFileSize.
func New(opts Options) *Scanner {
	s := &Scanner{maxSize: opts.MaxFileSize, allowed: make(map[string]bool)}
	if s.maxSize <= 0 || s.maxSize > MaxFileSize {
		s.maxSize = MaxFileSize
	}
	for _, m := range allowedMIME {
		s.allowed[m] = true
	}
	for _, m := range opts.ExtraMIMETypes {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			s.allowed[m] = true
		}
	}
	return s
}

// MaxSize returns the effective size ceiling.
func (s *Scanner) MaxSize() int64 { return s.maxSize }

// Prescan checks file metadata. Size, name and extension problems are
// errors and fail the scan; an off-whitelist MIME type or unrecognized
// extension is a warning, which fails the scan only in strict mode.
func (s *Scanner) Prescan(filename, declaredType string, size int64, strict bool) core.ScanResult {
	var res core.ScanResult
	fail := func(cat core.FindingCategory, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Errors = append(res.Errors, msg)
		res.Findings = append(res.Findings, core.SecurityFinding{Category: cat, Severity: core.SeverityHigh, MatchCount: 1, Detail: msg})
	}
	warn := func(cat core.FindingCategory, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		res.Findings = append(res.Findings, core.SecurityFinding{Category: cat, Severity: core.SeverityLow, MatchCount: 1, Detail: msg})
	}

	switch {
	case size <= 0:
		fail(core.CategoryFileSize, "file is empty")
	case size > s.maxSize:
		fail(core.CategoryFileSize, "file size %d bytes exceeds the %dMB limit", size, s.maxSize/(1024*1024))
	}

	if reason := unsafeName(filename); reason != "" {
		fail(core.CategoryFileName, "file name %q rejected: %s", filename, reason)
	} else {
		ext := strings.ToLower(filepath.Ext(filename))
		switch {
		case blockedExtensions[ext]:
			fail(core.CategoryFileType, "file extension %q is not allowed", ext)
		case hiddenBlockedExtension(filename):
			fail(core.CategoryFileType, "file name %q hides an executable extension", filename)
		case ext != "" && !SupportedExtensions[ext]:
			warn(core.CategoryFileType, "file extension %q is not a recognized data format", ext)
		}
	}

	if declaredType != "" {
		mt, _, err := mime.ParseMediaType(declaredType)
		if err != nil {
			warn(core.CategoryFileType, "declared type %q is malformed", declaredType)
		} else if !s.allowed[strings.ToLower(mt)] {
			warn(core.CategoryFileType, "declared type %q is not on the allowed list", mt)
		}
	}

	res.Passed = len(res.Errors) == 0 && !(strict && len(res.Warnings) > 0)
	return res
}

// unsafeName returns why a filename is unsafe, or "".
func unsafeName(name string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "name is empty"
	case len(name) > 255:
		return "name is longer than 255 bytes"
	case strings.Contains(name, ".."):
		return "name contains '..'"
	case strings.ContainsAny(name, `/\`):
		return "name contains a path separator"
	case strings.HasPrefix(name, "."):
		return "hidden file"
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return "name contains control characters"
		}
		if r == '\u202e' {
			return "name contains a right-to-left override"
		}
	}
	return ""
}

// hiddenBlockedExtension catches "report.exe.csv" style names.
func hiddenBlockedExtension(name string) bool {
	parts := strings.Split(strings.ToLower(name), ".")
	if len(parts) < 3 {
		return false
	}
	for _, p := range parts[1 : len(parts)-1] {
		if blockedExtensions["."+p] {
			return true
		}
	}
	return false
}

// Risk combines scan results into an overall level: High when any High
// finding exists or a strict prescan failed, Medium when only Medium
// findings or warnings exist, Low otherwise. The first result is the
// prescan.
func Risk(strict bool, results ...core.ScanResult) core.Severity {
	risk := core.SeverityLow
	for i, r := range results {
		if i == 0 && strict && !r.Passed {
			return core.SeverityHigh
		}
		switch sev := r.MaxSeverity(); {
		case sev == core.SeverityHigh:
			return core.SeverityHigh
		case sev == core.SeverityMedium || len(r.Warnings) > 0:
			risk = core.SeverityMedium
		}
	}
	return risk
}

// ShouldQuarantine reports whether a file at risk level r must be held
// for human review instead of being processed automatically.
func ShouldQuarantine(r core.Severity) bool {
	return r >= core.SeverityHigh
}
