// Package inbox ingests every supported file in a directory.
//
// Files that produce a committed batch move to Processed/, files whose
// report Failed move to Failed/. Each moved file gets a "<name>.report.json"
// beside it. Files left pending (unresolved duplicates, quarantine, or
// commit disabled) stay in place so they can be re-run with other options.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
	"github.com/JonMunkholm/healthingest/internal/report"
	"github.com/JonMunkholm/healthingest/internal/security"
)

const (
	ProcessedDir = "Processed"
	FailedDir    = "Failed"
)

// Outcome is what happened to one file.
type Outcome struct {
	File      string                 `json:"file"`
	BatchID   string                 `json:"batch_id,omitempty"`
	Status    core.Status            `json:"status,omitempty"`
	Committed *pipeline.CommitResult `json:"committed,omitempty"`
	MovedTo   string                 `json:"moved_to,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Processor runs a directory through a service.
type Processor struct {
	Service *pipeline.Service
	Options pipeline.Options
	// Commit persists batches that have no unresolved duplicates and are
	// not quarantined.
	Commit bool
}

// Run ingests the supported files directly under dir. Per-file failures are
// recorded in the outcomes; only directory and cancellation errors abort.
func (p *Processor) Run(ctx context.Context, dir string) ([]Outcome, error) {
	log := logging.WithFields(ctx, "dir", dir)

	names, err := listSupported(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		log.Info("no supported files found")
		return nil, nil
	}

	files := make([]core.RawFile, 0, len(names))
	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			outcomes = append(outcomes, Outcome{File: name, Error: err.Error()})
			continue
		}
		files = append(files, core.NewRawFile(data, name, ""))
	}

	subs, err := p.Service.IngestAll(ctx, files, p.Options)
	for _, sub := range subs {
		if sub.Filename == "" {
			continue // not started before cancellation
		}
		outcomes = append(outcomes, p.settle(ctx, dir, sub))
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].File < outcomes[j].File })
	if err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// settle commits or moves one ingested file.
func (p *Processor) settle(ctx context.Context, dir string, sub pipeline.Submission) Outcome {
	out := Outcome{File: sub.Filename, BatchID: sub.Batch.ID, Status: sub.Batch.Report.Status}
	log := logging.WithFields(ctx, "file", sub.Filename, "batch_id", sub.Batch.ID)

	if sub.Err != nil {
		out.Error = report.FormatUserError(sub.Err)
		log.Error("ingest failed", "error", sub.Err)
		return out
	}

	view := sub.Batch
	switch {
	case view.Report.Status == core.StatusFailed:
		out.MovedTo = p.move(ctx, dir, FailedDir, sub.Filename, view.Report, &out)
		return out
	case !p.Commit:
		return out
	case view.Quarantined:
		out.Error = report.FormatUserError(pipeline.ErrQuarantined)
		return out
	case view.Unresolved > 0:
		out.Error = report.FormatUserError(fmt.Errorf("%w: %d pending", pipeline.ErrUnresolvedDuplicates, view.Unresolved))
		return out
	}

	res, err := p.Service.Commit(ctx, view.ID)
	if err != nil {
		out.Error = report.FormatUserError(err)
		log.Error("commit failed", "error", err)
		return out
	}
	out.Committed = &res
	out.MovedTo = p.move(ctx, dir, ProcessedDir, sub.Filename, view.Report, &out)
	return out
}

// move files name under dir/sub and writes its report beside it. It
// returns the destination, or "" when the move failed.
func (p *Processor) move(ctx context.Context, dir, sub, name string, rep report.Report, out *Outcome) string {
	log := logging.WithFields(ctx, "file", name)

	safe := filepath.Base(name)
	if safe != name || strings.Contains(name, "..") {
		out.Error = fmt.Sprintf("invalid filename: %q", name)
		return ""
	}

	destDir := filepath.Join(dir, sub)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		out.Error = fmt.Sprintf("create %s directory: %v", sub, err)
		log.Error("move failed", "error", err)
		return ""
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(destDir, safe+".report.json"), data, 0o644)
	}
	if err != nil {
		log.Warn("report not written", "error", err)
	}

	dest := filepath.Join(destDir, safe)
	if err := os.Rename(filepath.Join(dir, safe), dest); err != nil {
		out.Error = fmt.Sprintf("move %s: %v", safe, err)
		log.Error("move failed", "error", err)
		return ""
	}
	return dest
}

// listSupported returns the regular files in dir with a supported
// extension, sorted by name.
func listSupported(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if security.SupportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
