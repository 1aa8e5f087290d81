package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/inbox"
)

func newDirCmd(setup setupFunc) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "dir <directory>",
		Short: "Ingest every supported file in a directory",
		Long:  "Ingest the supported files directly under the directory. Committed files move to Processed/ and failed files to Failed/, each with a .report.json beside it. Pending files stay in place.",
		Args:  cobra.ExactArgs(1),
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

			p := &inbox.Processor{Service: a.Service, Options: opts, Commit: flags.commit}
			outcomes, err := p.Run(cmd.Context(), args[0])
			if werr := writeJSON(cmd, outcomes); werr != nil && err == nil {
				err = werr
			}
			if err != nil {
				return err
			}

			failed := 0
			for _, o := range outcomes {
				if o.Error != "" || o.Status == core.StatusFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(outcomes))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
