package cli

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meeting-pilot/internal/app"
	"github.com/GriffinCanCode/meeting-pilot/internal/output"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Long:  "List audio input devices. The default input is marked with '*'; pass an index to --device or PILOT_DEVICE_INDEX to pin one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := app.NewSource(deps.Config)
			if err != nil {
				return err
			}
			defer src.Cleanup()

			devices, err := src.Devices()
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Devices(devices)
			return nil
		},
	}
}
