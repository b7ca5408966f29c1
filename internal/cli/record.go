package cli

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meeting-pilot/internal/app"
	"github.com/GriffinCanCode/meeting-pilot/internal/output"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var loopback bool
	var device int

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session in the foreground",
		Long:  "Record until Ctrl+C or until the room has been silent for the configured timeout, printing transcripts and insights as they arrive. The summary is printed and saved when the session ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(deps.Config)
			if err != nil {
				return err
			}
			defer a.Close()
			a.WaitReady(ctx)

			opts := a.StartOptions()
			if cmd.Flags().Changed("loopback") {
				opts.UseLineIn = !loopback
			}
			if cmd.Flags().Changed("device") {
				opts.DeviceIndex = &device
			}

			ended := make(chan struct{})
			var once sync.Once
			a.Manager.OnStateChange(func(s session.State, finalizing bool) {
				if !finalizing && (s == session.Idle || s == session.Error) {
					once.Do(func() { close(ended) })
				}
			})

			if err := a.Manager.Start(ctx, opts); err != nil {
				return err
			}
			formatter.RecordingStarted(a.Source.Device().Name)

			events := a.Manager.Events()
			interrupted := ctx.Done()
			for {
				select {
				case ev := <-events:
					formatter.Event(ev)
				case <-interrupted:
					interrupted = nil
					// A second Ctrl+C kills the process.
					stop()
					formatter.Info("Stopping, finishing queued chunks...")
					go func() {
						if err := a.Manager.Stop(); err != nil && !errors.Is(err, session.ErrNotRecording) && !errors.Is(err, session.ErrStopInProgress) {
							slog.Warn("stop failed", "error", err)
						}
					}()
				case <-ended:
					drainEvents(events, formatter)
					info := a.Manager.Info()
					if info.LastError != "" {
						formatter.Warning(info.LastError)
					}
					if info.PendingRetries > 0 {
						formatter.Warning("Some chunks could not be processed and will be retried next time")
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&loopback, "loopback", false, "Record system audio through a loopback device")
	cmd.Flags().IntVarP(&device, "device", "d", 0, "Device index (see 'pilot devices')")

	return cmd
}

func drainEvents(events <-chan session.Event, formatter *output.Formatter) {
	for {
		select {
		case ev := <-events:
			formatter.Event(ev)
		default:
			return
		}
	}
}
