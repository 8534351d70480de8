package main

import (
	"fmt"
	"os"

	dedup "github.com/wolfeidau/capture-dedup"
)

// DigestCmd prints the tagged digest and size of a file.
type DigestCmd struct {
	File      string `arg:"" type:"existingfile" help:"Payload file."`
	Algorithm string `help:"Digest algorithm (${enum})." enum:"sha1,sha256,blake3" default:"sha1" env:"CAPTURE_DEDUP_DIGEST_ALGORITHM"`
	Base32    bool   `help:"Encode the digest as base32 rather than hex." default:"true" negatable:"" env:"CAPTURE_DEDUP_BASE32"`
}

func (c *DigestCmd) Run() error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	digest, size, err := dedup.DigestReader(c.Algorithm, f, c.Base32)
	if err != nil {
		return fmt.Errorf("digesting %s: %w", c.File, err)
	}
	fmt.Printf("%s %d\n", digest, size)
	return nil
}
