package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wolfeidau/capture-dedup/backend"
)

// ProvisionCmd creates the backend's storage.
type ProvisionCmd struct {
	BackendFlags `embed:""`
}

func (c *ProvisionCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	b, closeBackend, err := c.open(ctx, logger)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", c.Backend, err)
	}
	defer func() { _ = closeBackend() }()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("provisioning %s backend: %w", c.Backend, err)
	}

	stats, err := b.Stats(ctx)
	switch {
	case errors.Is(err, backend.ErrStatsUnsupported):
		logger.Info("backend ready", "backend", c.Backend)
	case err != nil:
		return fmt.Errorf("reading stats: %w", err)
	default:
		logger.Info("backend ready", "backend", c.Backend, "keys", stats.Keys)
	}
	return nil
}
