package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// Deep scan thresholds.
const (
	// MaxAnomalyRatio is the share of replacement and control runes above
	// which text is considered binary or badly corrupted.
	MaxAnomalyRatio = 0.05
	// MaxRepeatedRun is the longest run of one repeated rune allowed.
	MaxRepeatedRun = 1024
	// MaxLineLength is the longest line allowed before it is flagged.
	MaxLineLength = 64 * 1024
)

// executableTypes are sniffed types that never belong in a data upload.
var executableTypes = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
	"application/x-executable",
	"application/x-elf",
	"application/x-sharedlib",
	"application/x-mach-binary",
	"application/x-object",
	"application/java-archive",
	"application/x-java-applet",
	"text/x-shellscript",
	"text/x-php",
	"text/html",
	"image/svg+xml",
}

// archiveTypes may smuggle content past the scanners. A spreadsheet is a
// zip too, so zip only counts when the file is not an Office workbook.
var archiveTypes = []string{
	"application/zip",
	"application/x-7z-compressed",
	"application/x-rar-compressed",
	"application/vnd.rar",
	"application/gzip",
	"application/x-tar",
	"application/x-bzip2",
	"application/x-xz",
}

// DeepScan sniffs the raw bytes for executable or archive content and
// analyses the decoded text for character-distribution anomalies.
func (s *Scanner) DeepScan(raw []byte, text string) core.ScanResult {
	res := core.ScanResult{Passed: true}
	add := func(f core.SecurityFinding) {
		res.Findings = append(res.Findings, f)
		res.Warnings = append(res.Warnings, f.Detail)
		res.Passed = false
	}

	if len(raw) > 0 {
		mt := mimetype.Detect(raw)
		switch {
		case isAny(mt, executableTypes):
			add(core.SecurityFinding{
				Category:   core.CategoryExecutable,
				Severity:   core.SeverityHigh,
				MatchCount: 1,
				Detail:     fmt.Sprintf("content sniffed as %s", mt.String()),
			})
		case isAny(mt, archiveTypes) && !isWorkbook(mt):
			add(core.SecurityFinding{
				Category:   core.CategoryExecutable,
				Severity:   core.SeverityMedium,
				MatchCount: 1,
				Detail:     fmt.Sprintf("content sniffed as archive %s", mt.String()),
			})
		}
		if isWorkbook(mt) {
			// Workbook text is extracted separately; the zip bytes say
			// nothing about character distribution.
			return res
		}
	}

	if text == "" {
		return res
	}

	total, anomalous := 0, 0
	run, maxRun := 0, 0
	var prev rune = -1
	line, maxLine := 0, 0
	for _, r := range text {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r') {
			anomalous++
		}
		if r == prev && !unicode.IsSpace(r) {
			run++
		} else {
			run = 1
		}
		if run > maxRun {
			maxRun = run
		}
		prev = r
		if r == '\n' {
			line = 0
		} else {
			line++
			if line > maxLine {
				maxLine = line
			}
		}
	}

	if ratio := float64(anomalous) / float64(total); ratio > MaxAnomalyRatio {
		add(core.SecurityFinding{
			Category:   core.CategoryAnomaly,
			Severity:   core.SeverityMedium,
			MatchCount: anomalous,
			Detail:     fmt.Sprintf("%.1f%% of characters are replacement or control characters", ratio*100),
		})
	}
	if maxRun > MaxRepeatedRun {
		add(core.SecurityFinding{
			Category:   core.CategoryAnomaly,
			Severity:   core.SeverityMedium,
			MatchCount: maxRun,
			Detail:     fmt.Sprintf("a single character repeats %d times in a row", maxRun),
		})
	}
	if maxLine > MaxLineLength {
		add(core.SecurityFinding{
			Category:   core.CategoryAnomaly,
			Severity:   core.SeverityLow,
			MatchCount: 1,
			Detail:     fmt.Sprintf("longest line has %d characters", maxLine),
		})
	}
	return res
}

func isAny(mt *mimetype.MIME, types []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, t := range types {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

func isWorkbook(mt *mimetype.MIME) bool {
	return strings.Contains(mt.String(), "spreadsheetml") || strings.Contains(mt.String(), "ms-excel")
}
