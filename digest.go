package dedup

import (
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Supported payload digest algorithms.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// NewHasher returns a hash for the named algorithm.
func NewHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA1:
		return sha1.New(), nil //nolint:gosec
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
}

// FormatDigest returns the algorithm-tagged text form of a digest, e.g.
// "sha1:B2LTWWPUOYAH7UIPQ7ZUPQ4VMBSVC36A". WARC payload digests are
// conventionally base32; hex is used otherwise.
func FormatDigest(algorithm string, sum []byte, useBase32 bool) string {
	var encoded string
	if useBase32 {
		encoded = base32.StdEncoding.EncodeToString(sum)
	} else {
		encoded = hex.EncodeToString(sum)
	}
	return strings.ToLower(algorithm) + ":" + encoded
}

// StripAlgorithm removes the "algorithm:" prefix from a tagged digest.
// Untagged digests are returned unchanged.
func StripAlgorithm(digest string) string {
	if _, value, ok := strings.Cut(digest, ":"); ok {
		return value
	}
	return digest
}

// DigestReader computes the tagged digest of content from the reader.
// It returns the digest and the number of bytes read.
func DigestReader(algorithm string, r io.Reader, useBase32 bool) (string, int64, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing content: %w", err)
	}
	return FormatDigest(algorithm, h.Sum(nil), useBase32), n, nil
}
