package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
	"github.com/JonMunkholm/healthingest/internal/report"
)

// fileResult is one file's entry in the file command output.
type fileResult struct {
	File      string                 `json:"file"`
	Batch     pipeline.BatchView     `json:"batch"`
	Committed *pipeline.CommitResult `json:"committed,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func newFileCmd(setup setupFunc) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "file <path> [path...]",
		Short: "Ingest files and print their validation reports",
		Long:  "Run each file through the pipeline and print the reports as JSON. With --commit, batches without unresolved duplicates or quarantine are persisted. Exits non-zero when any file fails.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := flags.options(cmd, a)
			if err != nil {
				return err
			}

			files := make([]core.RawFile, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				files = append(files, core.NewRawFile(data, filepath.Base(path), ""))
			}

			ctx := cmd.Context()
			subs, err := a.Service.IngestAll(ctx, files, opts)
			if err != nil {
				return err
			}

			results := make([]fileResult, 0, len(subs))
			failed := 0
			for _, sub := range subs {
				r := fileResult{File: sub.Filename, Batch: sub.Batch}
				switch {
				case sub.Err != nil:
					r.Error = report.FormatUserError(sub.Err)
				case sub.Batch.Report.Status == core.StatusFailed:
				case flags.commit && sub.Batch.Unresolved == 0 && !sub.Batch.Quarantined:
					res, err := a.Service.Commit(ctx, sub.Batch.ID)
					if err != nil {
						r.Error = report.FormatUserError(err)
					} else {
						r.Committed = &res
					}
				}
				if r.Error != "" || sub.Batch.Report.Status == core.StatusFailed {
					failed++
				}
				results = append(results, r)
			}

			if err := writeJSON(cmd, results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
