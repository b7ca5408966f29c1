package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/meeting-pilot/internal/app"
	"github.com/GriffinCanCode/meeting-pilot/internal/server"
)

const shutdownTimeout = 5 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and event stream",
		Long:  "Serve the HTTP control API and the /ws event stream. Sessions are started and stopped over HTTP; an active session is finalized on shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(deps.Config)
			if err != nil {
				return err
			}
			defer a.Close()
			a.WaitReady(ctx)

			srv := server.New(a.Manager, a.Store, a.Source, a.StartOptions())
			s := deps.Config.Session
			httpServer := &http.Server{
				Addr:              deps.Config.HTTPAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				// Stop answers only after the session is finalized.
				WriteTimeout: s.JoinTimeout + s.DrainBudget + s.CallTimeout + 30*time.Second,
			}

			if autoStart {
				if err := a.Manager.Start(ctx, a.StartOptions()); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error {
				slog.Info("pilot server starting", "http", deps.Config.HTTPAddr, "inference", deps.Config.Inference.Addr, "stt", deps.Config.STT.Backend)
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			slog.Info("shutdown complete")
			return err
		},
	}

	cmd.Flags().BoolVar(&autoStart, "start", false, "Start a session immediately")

	return cmd
}
