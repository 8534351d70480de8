package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/capture-dedup/server"
	"github.com/wolfeidau/capture-dedup/telemetry"
)

// ServeCmd runs the HTTP service.
type ServeCmd struct {
	BackendFlags `embed:""`

	Address      string `help:"Address to listen on." default:":8080" env:"CAPTURE_DEDUP_ADDRESS"`
	AuthToken    string `help:"Bearer token required on API requests." env:"CAPTURE_DEDUP_AUTH_TOKEN"`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:"" env:"CAPTURE_DEDUP_PROMETHEUS"`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"CAPTURE_DEDUP_OTLP_ENDPOINT"`
}

func (c *ServeCmd) Run(globals *Globals, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "capture-dedup",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	b, closeBackend, err := c.open(ctx, logger)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", c.Backend, err)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Error("closing backend", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Address:   c.Address,
		AuthToken: c.AuthToken,
		Logger:    logger,
	}, b)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"backend", c.Backend,
		"log_level", globals.LogLevel,
		"lookup_url", fmt.Sprintf("http://localhost%s/v1/lookup", srv.Address()),
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
