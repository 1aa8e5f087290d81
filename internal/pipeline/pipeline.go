// Package pipeline runs one submitted file through every ingestion stage
// and keeps the resulting batches until they are committed.
//
// Ingest is total: it always returns a report, whatever goes wrong. The
// stages of one file run strictly in order; files run in parallel only
// across Ingest calls, bounded by the Limiter.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/dedupe"
	"github.com/JonMunkholm/healthingest/internal/detect"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/normalize"
	"github.com/JonMunkholm/healthingest/internal/parser"
	"github.com/JonMunkholm/healthingest/internal/report"
	"github.com/JonMunkholm/healthingest/internal/security"
	"github.com/JonMunkholm/healthingest/internal/validate"
)

// Options control one ingestion.
type Options struct {
	// Strict makes pre-scan warnings fail the file.
	Strict bool
	// AllowQuarantine holds high-risk files for review instead of
	// rejecting them.
	AllowQuarantine bool
	// ExpectedDomain skips domain detection when known. DomainUnknown
	// means auto-detect.
	ExpectedDomain core.DomainType
	// DeepScan enables content anomaly and binary sniffing checks.
	DeepScan bool
	// EncodingHint is tried before the configured encoding order.
	EncodingHint string
}

// Result is the outcome of Ingest.
type Result struct {
	Report report.Report
	// Records are the valid records in file order. Duplicate candidate
	// indexes refer to this slice.
	Records []*core.Record
}

// Observer receives stage timings and finished reports.
type Observer interface {
	StageDone(stage string, d time.Duration)
	ReportBuilt(rep *report.Report)
	Committed(res core.PersistResult)
}

type nopObserver struct{}

func (nopObserver) StageDone(string, time.Duration) {}
func (nopObserver) ReportBuilt(*report.Report)      {}
func (nopObserver) Committed(core.PersistResult)    {}

// Config wires the pipeline's shared, read-only components.
type Config struct {
	Schemas   *core.SchemaSet
	Encodings []string
	Security  security.Options
	// Lookup finds stored records for duplicate detection. Nil checks
	// duplicates within each file only.
	Lookup   dedupe.Lookup
	Observer Observer
}

// Pipeline holds the stage components. It is safe for concurrent use.
type Pipeline struct {
	normalizer *normalize.Normalizer
	detector   *detect.Detector
	parsers    *parser.Set
	validator  *validate.Validator
	scanner    *security.Scanner
	lookup     dedupe.Lookup
	observer   Observer
}

// New builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Schemas == nil || cfg.Schemas.Len() == 0 {
		return nil, fmt.Errorf("pipeline: no validation schemas")
	}
	n, err := normalize.New(cfg.Encodings)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	det := detect.NewDetector(cfg.Schemas)
	return &Pipeline{
		normalizer: n,
		detector:   det,
		parsers:    parser.NewSet(det),
		validator:  validate.New(cfg.Schemas),
		scanner:    security.New(cfg.Security),
		lookup:     cfg.Lookup,
		observer:   obs,
	}, nil
}

// MaxFileSize returns the effective size ceiling.
func (p *Pipeline) MaxFileSize() int64 { return p.scanner.MaxSize() }

// Ingest runs file through pre-scan, normalization, detection, parsing,
// validation, content scans and duplicate detection, and builds the
// report. It never panics and never returns without a report.
func (p *Pipeline) Ingest(ctx context.Context, file core.RawFile, opts Options) (res Result) {
	b := report.NewBuilder(file, report.Policy{Strict: opts.Strict, AllowQuarantine: opts.AllowQuarantine})
	b.Submitter(core.SubmitterFromContext(ctx))
	log := logging.WithFields(ctx, "file", file.Filename, "report_id", b.ID())
	stage := report.StageFile

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during ingest", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			b.Fatal(fmt.Errorf("internal error in %s stage: %v", stage, r))
			res = Result{Report: b.Build()}
		}
		p.observer.ReportBuilt(&res.Report)
	}()

	run := func(name string, fn func()) {
		stage = name
		start := time.Now()
		fn()
		d := time.Since(start)
		p.observer.StageDone(name, d)
		log.Debug("stage done", "stage", name, "duration_ms", d.Milliseconds())
	}
	abort := func(err error) Result {
		log.Warn("ingest aborted", "stage", stage, "error", err)
		b.Fatal(fmt.Errorf("%s stage: %w", stage, err))
		return Result{Report: b.Build()}
	}

	var pre core.ScanResult
	run(report.StageFile, func() {
		pre = p.scanner.Prescan(file.Filename, file.DeclaredMIME, file.Size, opts.Strict)
	})
	b.Prescan(pre)
	if !pre.Passed {
		log.Warn("file rejected", "errors", pre.Errors, "warnings", pre.Warnings)
		return Result{Report: b.Build()}
	}

	var (
		norm     normalize.Result
		format   core.DetectedFormat
		sheetErr error
	)
	run(report.StageNormalize, func() {
		if !detect.IsSpreadsheet(file.Filename, file.Content) {
			norm = p.normalizer.Normalize(file.Content, opts.EncodingHint)
			return
		}
		text, sheet, err := parser.SpreadsheetToCSV(file.Content)
		if err != nil {
			sheetErr = err
			return
		}
		b.Sheet(sheet)
		norm = p.normalizer.Normalize([]byte(text), normalize.UTF8)
		format = core.FormatTabular
	})
	if sheetErr != nil {
		b.Parsed(parser.Result{Errors: []string{sheetErr.Error()}})
		log.Warn("spreadsheet unreadable", "error", sheetErr)
		return Result{Report: b.Build()}
	}
	b.Normalized(norm)
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	var det detect.Detection
	run(report.StageDetect, func() {
		if format == "" {
			format = detect.Format(file.Filename, norm.Text)
		}
		if opts.ExpectedDomain.Known() {
			det = detect.Detection{Type: opts.ExpectedDomain, Source: detect.SourceDeclared}
			return
		}
		det = p.detector.Domain(file.Filename, norm.Text, format)
	})
	b.Detected(format, det)
	log.Debug("detected", "format", format, "domain", det.Type, "source", det.Source)

	var parsed parser.Result
	run(report.StageParse, func() {
		prs, ok := p.parsers.For(format)
		if !ok {
			parsed = parser.Result{Errors: []string{"unsupported format: content matches no known format"}}
			return
		}
		parsed = prs.Parse(ctx, norm.Text, det.Type)
	})
	b.Parsed(parsed)
	for i, e := range parsed.Errors {
		if i == 10 {
			log.Warn("more records dropped", "count", len(parsed.Errors)-i)
			break
		}
		log.Warn("record dropped", "error", e)
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	var checked validate.Result
	run(report.StageValidate, func() {
		checked = p.validator.ValidateRecords(parsed.Records, det.Type)
	})
	b.Validated(checked)

	run(report.StageSecurity, func() {
		post := p.scanner.Postscan(norm.Text)
		var deep *core.ScanResult
		if opts.DeepScan {
			d := p.scanner.DeepScan(file.Content, norm.Text)
			deep = &d
		}
		b.Scanned(post, deep)
	})

	valid := checked.ValidRecords(parsed.Records)
	var (
		cands  []core.DuplicateCandidate
		dupErr error
	)
	run(report.StageDuplicates, func() {
		cands, dupErr = dedupe.FindDuplicates(ctx, valid, p.lookup)
	})
	if dupErr != nil {
		return abort(fmt.Errorf("duplicate lookup: %w", dupErr))
	}
	b.Duplicates(cands)

	rep := b.Build()
	log.Info("ingest finished",
		"status", rep.Status,
		"format", rep.Format,
		"domain", rep.Domain.Type,
		"records", len(parsed.Records),
		"valid", len(valid),
		"duplicates", len(cands),
		"risk", rep.Security.Risk,
		"duration_ms", rep.DurationMS,
	)
	return Result{Report: rep, Records: valid}
}
