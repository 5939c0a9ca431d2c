package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quantumflow/finassist/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves POST /v1/ask, GET /healthz and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxConcurrent, _ := cmd.Flags().GetInt64("max-concurrent")

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      server.NewHandler(a.orchestrator, logger, maxConcurrent),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", srv.Addr, "model", a.client.Model())
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-cmd.Context().Done():
			logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "error", err)
				return srv.Close()
			}
			logger.Info("server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address; overrides the config")
	serveCmd.Flags().Int64("max-concurrent", 1, "Questions answered at the same time")
}
