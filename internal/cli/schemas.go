package cli

import "github.com/spf13/cobra"

func newSchemasCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "Print the validation schemas in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJSON(cmd, a.Schemas.All())
		},
	}
}
