// Package report assembles the outcome of every ingestion stage into one
// serializable ValidationReport with an overall status and next steps.
//
// A Report is built once by a Builder and not modified afterwards. It is
// the only object the pipeline hands to callers, storage and transport.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/detect"
	"github.com/JonMunkholm/healthingest/internal/normalize"
	"github.com/JonMunkholm/healthingest/internal/parser"
	"github.com/JonMunkholm/healthingest/internal/security"
	"github.com/JonMunkholm/healthingest/internal/validate"
)

// maxListed caps the per-record lists copied into a report.
const maxListed = 100

// Stage names used on issues.
const (
	StageFile       = "file"
	StageNormalize  = "normalize"
	StageDetect     = "detect"
	StageParse      = "parse"
	StageValidate   = "validate"
	StageSecurity   = "security"
	StageDuplicates = "duplicates"
	StageIngest     = "ingest"
)

// Issue is one problem found while ingesting a file.
type Issue struct {
	Code     string        `json:"code"`
	Stage    string        `json:"stage"`
	Severity core.Severity `json:"severity"`
	Message  string        `json:"message"`
	Action   string        `json:"action,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// FileInfo describes the submitted file and its normalized form.
type FileInfo struct {
	Filename       string `json:"filename"`
	DeclaredMIME   string `json:"declared_mime,omitempty"`
	Size           int64  `json:"size"`
	NormalizedSize int    `json:"normalized_size"`
	Sheet          string `json:"sheet,omitempty"`
}

// DomainInfo is the domain detection outcome.
type DomainInfo struct {
	Type     core.DomainType `json:"type"`
	Source   string          `json:"source"`
	Warnings []string        `json:"warnings,omitempty"`
}

// SecurityInfo holds the scan results and the overall risk.
type SecurityInfo struct {
	Prescan  core.ScanResult  `json:"prescan"`
	Postscan *core.ScanResult `json:"postscan,omitempty"`
	Deep     *core.ScanResult `json:"deep_scan,omitempty"`
	Risk     core.Severity    `json:"risk"`
	// QuarantineRecommended is set when the risk is high enough that the
	// file should not be processed without review.
	QuarantineRecommended bool `json:"quarantine_recommended"`
}

// ParseInfo summarizes the parser output.
type ParseInfo struct {
	RecordsFound int      `json:"records_found"`
	ErrorCount   int      `json:"error_count"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Report is the ValidationReport for one ingested file.
type Report struct {
	ID            string                    `json:"id"`
	Status        core.Status               `json:"status"`
	Quarantined   bool                      `json:"quarantined"`
	CreatedAt     time.Time                 `json:"created_at"`
	DurationMS    int64                     `json:"duration_ms"`
	File          FileInfo                  `json:"file"`
	Format        core.DetectedFormat       `json:"format"`
	Domain        DomainInfo                `json:"domain"`
	Normalization normalize.Result          `json:"normalization"`
	Security      SecurityInfo              `json:"security"`
	Parsing       ParseInfo                 `json:"parsing"`
	Validation    validate.Stats            `json:"validation"`
	Records       []validate.RecordResult   `json:"record_issues,omitempty"`
	Duplicates    []core.DuplicateCandidate `json:"duplicates,omitempty"`
	Issues        []Issue                   `json:"issues,omitempty"`
	NextSteps     []string                  `json:"next_steps,omitempty"`
	Submitter     *core.Submitter           `json:"submitter,omitempty"`
}

// HasIssue reports whether the report carries an issue with code.
func (r *Report) HasIssue(code string) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Policy is the part of the ingest options that affects the status.
type Policy struct {
	Strict          bool
	AllowQuarantine bool
}

// Builder collects stage results. Stages that did not run are left unset;
// Build derives the status from whatever was recorded.
type Builder struct {
	policy  Policy
	started time.Time
	rep     Report

	parsed    bool
	validated bool
	fatal     error
}

// NewBuilder starts a report for file.
func NewBuilder(file core.RawFile, policy Policy) *Builder {
	now := time.Now()
	return &Builder{
		policy:  policy,
		started: now,
		rep: Report{
			ID:        uuid.NewString(),
			CreatedAt: now.UTC(),
			Format:    core.FormatUnknown,
			Domain:    DomainInfo{Type: core.DomainUnknown, Source: detect.SourceNone},
			File: FileInfo{
				Filename:     file.Filename,
				DeclaredMIME: file.DeclaredMIME,
				Size:         file.Size,
			},
		},
	}
}

// ID returns the report id.
func (b *Builder) ID() string { return b.rep.ID }

// Submitter records who submitted the file.
func (b *Builder) Submitter(s core.Submitter) {
	if s == (core.Submitter{}) {
		return
	}
	b.rep.Submitter = &s
}

// Prescan records the file-level scan.
func (b *Builder) Prescan(res core.ScanResult) {
	b.rep.Security.Prescan = res
	for _, e := range res.Errors {
		b.issue(StageFile, core.SeverityHigh, classify(e, "FILE005", "FILE"), e)
	}
	for _, w := range res.Warnings {
		sev := core.SeverityLow
		if b.policy.Strict {
			sev = core.SeverityHigh
		}
		b.issue(StageFile, sev, classify(w, "FILE005", "FILE"), w)
	}
}

// Normalized records the normalizer output.
func (b *Builder) Normalized(res normalize.Result) {
	b.rep.Normalization = res
	b.rep.File.NormalizedSize = len(res.Text)
	if res.Repaired {
		b.issue(StageNormalize, core.SeverityLow, "ENC001", strings.Join(res.Corrections, "; "))
	}
	for _, ind := range res.Indicators {
		b.issue(StageNormalize, core.SeverityMedium, classify(ind, "ENC002", "ENC"), ind)
	}
}

// Sheet records the worksheet a spreadsheet was read from.
func (b *Builder) Sheet(name string) { b.rep.File.Sheet = name }

// Detected records format and domain detection.
func (b *Builder) Detected(format core.DetectedFormat, det detect.Detection) {
	b.rep.Format = format
	b.rep.Domain = DomainInfo{Type: det.Type, Source: det.Source, Warnings: det.Warnings}
	for _, w := range det.Warnings {
		b.issue(StageDetect, core.SeverityLow, "VAL004", w)
	}
}

// Parsed records the parser output.
func (b *Builder) Parsed(res parser.Result) {
	b.parsed = true
	b.rep.Parsing = ParseInfo{
		RecordsFound: len(res.Records),
		ErrorCount:   len(res.Errors),
		Errors:       capList(res.Errors),
		Warnings:     capList(res.Warnings),
	}
	for i, e := range res.Errors {
		if i == maxListed {
			b.issue(StageParse, core.SeverityMedium, "PRS003", fmt.Sprintf("%d more records dropped", len(res.Errors)-maxListed))
			break
		}
		b.issue(StageParse, core.SeverityMedium, classify(e, "PRS003", "PRS001", "PRS002", "PRS003"), e)
	}
	for i, w := range res.Warnings {
		if i == maxListed {
			break
		}
		b.issue(StageParse, core.SeverityLow, "PRS004", w)
	}

	if b.rep.Domain.Type == core.DomainUnknown {
		if t := dominantType(res.Records); t != core.DomainUnknown {
			b.rep.Domain.Type = t
			b.rep.Domain.Source = detect.SourceContent
		}
	}
}

// Validated records the validation outcome.
func (b *Builder) Validated(res validate.Result) {
	b.validated = true
	b.rep.Validation = res.Stats

	for _, rr := range res.Records {
		if rr.Valid && len(rr.FormatWarnings) == 0 {
			continue
		}
		if len(b.rep.Records) == maxListed {
			break
		}
		b.rep.Records = append(b.rep.Records, rr)
	}

	if len(res.Stats.MissingFields) > 0 {
		b.issue(StageValidate, core.SeverityMedium, "VAL001",
			fmt.Sprintf("%d records missing required fields: %s", res.Stats.Invalid, histogram(res.Stats.MissingFields)))
	}
	if len(res.Stats.FormatFailures) > 0 {
		b.issue(StageValidate, core.SeverityLow, "VAL002",
			fmt.Sprintf("%d records with format warnings: %s", res.Stats.WithWarnings, histogram(res.Stats.FormatFailures)))
	}
	if res.Stats.Total > 0 && res.Stats.QualityScore < validate.QualityThreshold {
		b.issue(StageValidate, core.SeverityMedium, "VAL003",
			fmt.Sprintf("quality score %.2f is below %.0f", res.Stats.QualityScore, validate.QualityThreshold))
	}
}

// Scanned records the content scans. deep may be nil.
func (b *Builder) Scanned(post core.ScanResult, deep *core.ScanResult) {
	b.rep.Security.Postscan = &post
	b.rep.Security.Deep = deep

	findings := post.Findings
	if deep != nil {
		findings = append(append([]core.SecurityFinding(nil), findings...), deep.Findings...)
	}
	for _, f := range findings {
		detail := fmt.Sprintf("%s: %d matches", f.Category, f.MatchCount)
		if f.Detail != "" {
			detail += " (" + f.Detail + ")"
		}
		b.issue(StageSecurity, f.Severity, securityCode(f.Category), detail)
	}
}

// Duplicates records the duplicate candidates.
func (b *Builder) Duplicates(cands []core.DuplicateCandidate) {
	b.rep.Duplicates = cands
	if len(cands) > 0 {
		b.issue(StageDuplicates, core.SeverityLow, "DUP001",
			fmt.Sprintf("%d duplicate candidates need a resolution", len(cands)))
	}
}

// Fatal records an unexpected failure. The report is Failed.
func (b *Builder) Fatal(err error) {
	if err == nil {
		return
	}
	b.fatal = err
	code := "ING000"
	if m := MapError(err); m.Code == "ING002" {
		code = m.Code
	}
	b.issue(StageIngest, core.SeverityHigh, code, err.Error())
}

// Build derives risk, quarantine, status and next steps and returns the
// finished report.
func (b *Builder) Build() Report {
	rep := b.rep
	rep.DurationMS = time.Since(b.started).Milliseconds()

	results := []core.ScanResult{rep.Security.Prescan}
	if rep.Security.Postscan != nil {
		results = append(results, *rep.Security.Postscan)
	}
	if rep.Security.Deep != nil {
		results = append(results, *rep.Security.Deep)
	}
	rep.Security.Risk = security.Risk(b.policy.Strict, results...)
	rep.Security.QuarantineRecommended = security.ShouldQuarantine(rep.Security.Risk)

	if rep.Security.QuarantineRecommended && rep.Security.Prescan.Passed {
		if b.policy.AllowQuarantine {
			rep.Quarantined = true
			rep.Issues = append(rep.Issues, newIssue(StageSecurity, core.SeverityHigh, "SEC005", "risk is high; batch held in quarantine"))
		} else {
			rep.Issues = append(rep.Issues, newIssue(StageSecurity, core.SeverityHigh, "SEC005", "risk is high; quarantine recommended"))
		}
	}

	rep.Status = b.status()
	rep.NextSteps = nextSteps(&rep)
	return rep
}

// status applies, in order:
//
//	Failed:  fatal error, failed prescan, zero usable records with
//	         errors, or records present but none valid
//	Warning: zero records, quality below threshold, Medium or High
//	         findings, repaired or remaining corruption, dropped records,
//	         or a quarantined batch
//	Passed:  otherwise
func (b *Builder) status() core.Status {
	rep := &b.rep
	records := rep.Parsing.RecordsFound

	switch {
	case b.fatal != nil,
		!rep.Security.Prescan.Passed,
		!b.parsed,
		records == 0 && rep.Parsing.ErrorCount > 0,
		b.validated && rep.Validation.Total > 0 && rep.Validation.Valid == 0:
		return core.StatusFailed
	}

	if records == 0 ||
		(b.validated && rep.Validation.QualityScore < validate.QualityThreshold) ||
		maxFinding(rep.Security) >= core.SeverityMedium ||
		rep.Normalization.Repaired ||
		rep.Normalization.Corrupted() ||
		rep.Parsing.ErrorCount > 0 ||
		rep.Quarantined {
		return core.StatusWarning
	}
	return core.StatusPassed
}

func maxFinding(s SecurityInfo) core.Severity {
	max := core.SeverityLow
	for _, r := range []*core.ScanResult{s.Postscan, s.Deep} {
		if r != nil && r.MaxSeverity() > max {
			max = r.MaxSeverity()
		}
	}
	return max
}

func nextSteps(rep *Report) []string {
	var steps []string
	switch {
	case !rep.Security.Prescan.Passed:
		return []string{"Fix the file problems listed under issues and submit the file again"}
	case rep.HasIssue("ING000"), rep.HasIssue("ING002"):
		return []string{"Submit the file again; if the problem persists, contact support with the report id"}
	}

	if rep.Quarantined {
		steps = append(steps, "Review the security findings; release the batch with the force action only with a justification")
	} else if rep.HasIssue("SEC005") {
		steps = append(steps, "Review the flagged content before committing, or resubmit with quarantine allowed to hold the batch")
	}
	if rep.HasIssue("PRS001") {
		steps = append(steps, "Submit the data as CSV, Excel, JSON, XML, HL7 v2 or FHIR")
	}
	if rep.Parsing.ErrorCount > 0 {
		steps = append(steps, fmt.Sprintf("Fix the %d records that could not be parsed", rep.Parsing.ErrorCount))
	}
	if rep.Parsing.RecordsFound == 0 && rep.Parsing.ErrorCount == 0 {
		steps = append(steps, "The file contained no records; check that the export is complete")
	}
	if len(rep.Validation.MissingFields) > 0 {
		steps = append(steps, fmt.Sprintf("Add the missing required fields (%s) to %d records",
			histogram(rep.Validation.MissingFields), rep.Validation.Invalid))
	} else if rep.Validation.Invalid > 0 {
		steps = append(steps, fmt.Sprintf("Fix the %d invalid records listed under record_issues", rep.Validation.Invalid))
	}
	if !rep.Quarantined && !rep.HasIssue("SEC005") && maxFinding(rep.Security) >= core.SeverityMedium {
		steps = append(steps, "Review the security findings before committing")
	}
	if rep.Domain.Type == core.DomainUnknown {
		steps = append(steps, "Name the file after its content or choose the data type explicitly")
	}
	if n := len(rep.Duplicates); n > 0 {
		steps = append(steps, fmt.Sprintf("Resolve %d duplicate candidates before committing", n))
	}
	if rep.Status != core.StatusFailed && rep.Validation.Valid > 0 {
		steps = append(steps, fmt.Sprintf("Commit the batch to store %d valid records", rep.Validation.Valid))
	}
	return steps
}

func (b *Builder) issue(stage string, sev core.Severity, code, detail string) {
	b.rep.Issues = append(b.rep.Issues, newIssue(stage, sev, code, detail))
}

func newIssue(stage string, sev core.Severity, code, detail string) Issue {
	msg, ok := Lookup(code)
	if !ok {
		msg = defaultMessage
	}
	return Issue{
		Code:     msg.Code,
		Stage:    stage,
		Severity: sev,
		Message:  msg.Message,
		Action:   msg.Action,
		Detail:   detail,
	}
}

// classify maps text to a code. A mapped code is used only when it starts
// with one of the accepted prefixes; otherwise fallback applies.
func classify(text, fallback string, accept ...string) string {
	code := MapText(text).Code
	for _, p := range accept {
		if strings.HasPrefix(code, p) {
			return code
		}
	}
	return fallback
}

func securityCode(c core.FindingCategory) string {
	switch c {
	case core.CategoryMaliciousScript:
		return "SEC001"
	case core.CategorySQLInjection:
		return "SEC002"
	case core.CategoryPathTraversal:
		return "SEC003"
	default:
		return "SEC004"
	}
}

// dominantType returns the most frequent record type, ties to
// declaration order.
func dominantType(records []*core.Record) core.DomainType {
	counts := make(map[core.DomainType]int)
	for _, r := range records {
		counts[r.Type]++
	}
	best, n := core.DomainUnknown, 0
	for _, t := range core.DomainTypes {
		if counts[t] > n {
			best, n = t, counts[t]
		}
	}
	return best
}

// histogram renders "cpf (3), id (2)", most frequent first.
func histogram(m map[string]int) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] > m[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s (%d)", n, m[n])
	}
	return strings.Join(parts, ", ")
}

func capList(list []string) []string {
	if len(list) <= maxListed {
		return list
	}
	out := append([]string(nil), list[:maxListed]...)
	return append(out, fmt.Sprintf("... and %d more", len(list)-maxListed))
}
