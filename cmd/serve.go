package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/api"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fetch API over HTTP",
		Long: `Starts the HTTP API: POST /v1/fetch fetches a URL and returns its summary,
/healthz and /readyz serve probes, and /metrics exposes Prometheus metrics.
SIGINT or SIGTERM drains in-flight requests and shuts down.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a App, _ []string) error {
			return runServe(cmd.Context(), a, root)
		}),
	}
	cmd.Flags().Int("port", 0, "listen port (default server.port)")
	return cmd
}

func runServe(ctx context.Context, a App, root *rootOptions) error {
	logger := a.Logger()
	cfg := root.cfg.Server

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(a, a.Router().Schemes(), cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")
	apiServer.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
