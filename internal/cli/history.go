package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meeting-pilot/internal/app"
	"github.com/GriffinCanCode/meeting-pilot/internal/output"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "List or search past sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(deps.Config)
			if err != nil {
				return err
			}

			formatter := output.NewFormatter(cmd.OutOrStdout())
			if len(args) > 0 {
				formatter.Sessions(st.Search(strings.Join(args, " ")))
				return nil
			}
			formatter.Sessions(st.Recent(limit))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent sessions to show")

	return cmd
}
