package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/pipeline"
	"github.com/wolfeidau/capture-dedup/server"
)

// LookupCmd looks up one digest and prints the result as JSON.
type LookupCmd struct {
	BackendFlags `embed:""`

	PayloadDigest string `arg:"" name:"digest" help:"Algorithm-tagged payload digest, e.g. sha1:B2LTWWPUOYAH7UIPQ7ZUPQ4VMBSVC36A."`
	Bucket        string `help:"Bucket the capture belongs to."`
	URL           string `help:"URL of the capture; required by the cdx backend."`
}

func (c *LookupCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	b, closeBackend, err := c.open(ctx, logger)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", c.Backend, err)
	}
	defer func() { _ = closeBackend() }()

	ix := pipeline.New(b, pipeline.WithLogger(logger))
	if err := ix.Start(ctx); err != nil {
		return err
	}

	capture := &dedup.RecordedURL{Location: c.URL, Digest: c.PayloadDigest}
	if c.Bucket != "" {
		capture.Metadata = map[string]string{dedup.MetaBucketKey: c.Bucket}
	}

	rec, err := ix.Lookup(ctx, capture)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(server.LookupResponse{Found: rec != nil, Record: rec})
}
