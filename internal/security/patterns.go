package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// family is one category of content patterns.
type family struct {
	category core.FindingCategory
	severity core.Severity
	patterns []*regexp.Regexp
}

// families is compiled once and only read afterwards.
var families = []family{
	{
		category: core.CategoryMaliciousScript,
		severity: core.SeverityHigh,
		patterns: compile(
			`(?i)<\s*script\b`,
			`(?i)<\s*/\s*script\s*>`,
			`(?i)\bjavascript\s*:`,
			`(?i)\bvbscript\s*:`,
			`(?i)\bon(load|error|click|mouseover|mouseout|focus|blur|submit|change|keyup|keydown)\s*=`,
			`(?i)<\s*(iframe|object|embed|applet)\b`,
			`(?i)\beval\s*\(`,
			`(?i)document\s*\.\s*(cookie|write|location)`,
			`(?i)data\s*:\s*text/html`,
		),
	},
	{
		category: core.CategorySQLInjection,
		severity: core.SeverityHigh,
		patterns: compile(
			`(?i)'\s*;\s*drop\s+(table|database)\b`,
			`(?i)\bunion\s+(all\s+)?select\b`,
			`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`,
			`(?i)'\s*or\s+'[^']*'\s*=\s*'`,
			`(?i);\s*(delete\s+from|insert\s+into|truncate\s+table|alter\s+table)\b`,
			`(?i);\s*update\s+\w+\s+set\b`,
			`'\s*(--|#|/\*)`,
			`(?i)\bexec(\s+|\s*\()\s*(xp_|sp_)\w+`,
			`(?i)\bwaitfor\s+delay\b`,
			`(?i)\b(sleep|benchmark|pg_sleep)\s*\(\s*\d+`,
		),
	},
	{
		category: core.CategoryPathTraversal,
		severity: core.SeverityMedium,
		patterns: compile(
			`\.\./`,
			`\.\.\\`,
			`(?i)%2e%2e(%2f|%5c|/|\\)`,
			`(?i)%252e%252e`,
			`(?i)/etc/(passwd|shadow|hosts)\b`,
			`(?i)\bc:\\windows\\`,
			`(?i)\b(file|php|expect|zip)://`,
			`%00`,
		),
	},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// maxSample bounds the matched text quoted in a finding.
const maxSample = 40

// Postscan matches normalized content against every pattern family and
// returns one finding per family with at least one match.
func (s *Scanner) Postscan(text string) core.ScanResult {
	res := core.ScanResult{Passed: true}
	for _, fam := range families {
		count := 0
		sample := ""
		for _, re := range fam.patterns {
			locs := re.FindAllStringIndex(text, -1)
			if len(locs) == 0 {
				continue
			}
			if sample == "" {
				sample = text[locs[0][0]:locs[0][1]]
			}
			count += len(locs)
		}
		if count == 0 {
			continue
		}
		res.Findings = append(res.Findings, core.SecurityFinding{
			Category:   fam.category,
			Severity:   fam.severity,
			MatchCount: count,
			Detail:     fmt.Sprintf("e.g. %q", truncate(sample, maxSample)),
		})
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s patterns matched %d times", strings.ReplaceAll(string(fam.category), "_", " "), count))
		res.Passed = false
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
