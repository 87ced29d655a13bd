package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"reimburse-engine/internal/metrics"
	"reimburse-engine/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port      int
		modelsDir string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Long: `Serve POST /predict, GET /health, GET /model/info and GET /metrics from the
active run. With --watch the active run is reloaded whenever the artifact store
changes.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			s := a.settings
			if cmd.Flags().Changed("port") {
				s.ServerPort = port
			}
			if cmd.Flags().Changed("models") {
				s.ArtifactDir = modelsDir
			}
			if cmd.Flags().Changed("watch") {
				s.WatchArtifacts = watch
			}

			m := metrics.New()
			svc, err := ml.NewService(ml.ServiceConfig{
				CacheSize: s.CacheSize,
				Metrics:   metrics.NewWrapper(m),
			})
			if err != nil {
				return err
			}

			reloader := ml.NewReloader(s.ArtifactDir, svc, 0)
			if _, err := reloader.Reload(); err != nil {
				if !errors.Is(err, ml.ErrArtifactUnavailable) {
					return err
				}
				log.Warn().Err(err).Msg("No active run yet, serving 503 until one is trained")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if s.WatchArtifacts {
				go func() {
					if err := reloader.Run(ctx); err != nil {
						log.Error().Err(err).Msg("Artifact watcher stopped")
					}
				}()
			}

			server := ml.NewModelServer(svc, ml.ServerConfig{
				Port:           s.ServerPort,
				RequestTimeout: s.RequestTimeout,
				RateLimit:      s.RateLimit,
				MetricsHandler: m.Handler(),
			})

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down model server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port")
	cmd.Flags().StringVar(&modelsDir, "models", "", "Artifact directory")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload when a new run is activated")
	return cmd
}
