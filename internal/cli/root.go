package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meeting-pilot/internal/config"
	"github.com/GriffinCanCode/meeting-pilot/internal/logger"
)

type Dependencies struct {
	Version    string
	ConfigPath string
	Config     *config.Config

	logCloser io.Closer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pilot",
		Short:         "Record meetings, transcribe and analyze them live",
		Long:          "A meeting assistant that captures audio in fixed-length chunks, transcribes and analyzes each one as the meeting runs, and keeps a searchable history of summaries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return err
			}
			deps.Config = cfg
			_, deps.logCloser = logger.Setup(cfg)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if deps.logCloser != nil {
				return deps.logCloser.Close()
			}
			return nil
		},
	}

	rootCmd.Version = deps.Version
	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "TOML config file (PILOT_* environment variables override it)")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))
	rootCmd.AddCommand(NewEnvCmd())

	return rootCmd
}
