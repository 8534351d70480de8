// Package dedup provides the payload-digest deduplication index used by an
// archival capture pipeline to decide between storing a payload and writing a
// revisit record that points at an earlier capture.
package dedup

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// KeySeparator joins the digest and bucket of a lookup key.
const KeySeparator = "|"

// BuildKey returns the composite lookup key for a digest and bucket.
//
// The digest is the algorithm-tagged text form, e.g. "sha1:B2LTWWPUOYAH7UIPQ7ZUPQ4VMBSVC36A".
// An empty bucket selects the default namespace. Neither part may contain
// KeySeparator, otherwise two different pairs could produce the same key.
func BuildKey(digest, bucket string) (string, error) {
	if digest == "" {
		return "", ErrEmptyDigest
	}
	if strings.Contains(digest, KeySeparator) {
		return "", fmt.Errorf("digest %q: %w", digest, ErrInvalidDigest)
	}
	if strings.Contains(bucket, KeySeparator) {
		return "", fmt.Errorf("bucket %q: %w", bucket, ErrInvalidBucket)
	}
	return digest + KeySeparator + bucket, nil
}

// SplitKey splits a key built by BuildKey into its digest and bucket.
func SplitKey(key string) (digest, bucket string) {
	digest, bucket, _ = strings.Cut(key, KeySeparator)
	return digest, bucket
}

// CheckKeyLength returns ErrKeyTooLong if key is longer than max characters.
func CheckKeyLength(key string, max int) error {
	if n := utf8.RuneCountInString(key); n > max {
		return fmt.Errorf("key of %d characters, limit %d: %w", n, max, ErrKeyTooLong)
	}
	return nil
}
