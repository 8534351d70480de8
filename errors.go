package dedup

import "errors"

var (
	// ErrEmptyDigest is returned when a key is built without a digest.
	ErrEmptyDigest = errors.New("dedup: empty digest")

	// ErrInvalidDigest is returned when a digest contains the key separator.
	ErrInvalidDigest = errors.New("dedup: digest contains key separator")

	// ErrInvalidBucket is returned when a bucket contains the key separator.
	// Such a bucket would make distinct (digest, bucket) pairs collide.
	ErrInvalidBucket = errors.New("dedup: bucket contains key separator")

	// ErrKeyTooLong is returned when a key exceeds a backend's key bound.
	ErrKeyTooLong = errors.New("dedup: key exceeds maximum length")

	// ErrValueTooLarge is returned when an encoded value exceeds a backend's value bound.
	ErrValueTooLarge = errors.New("dedup: value exceeds maximum length")

	// ErrEncoding is returned when a stored value or remote timestamp is malformed.
	ErrEncoding = errors.New("dedup: malformed encoding")

	// ErrIntegrity is returned when a store acknowledges a write with an
	// unexpected result shape.
	ErrIntegrity = errors.New("dedup: unexpected write result")

	// ErrTransport is returned when a store cannot be reached.
	ErrTransport = errors.New("dedup: transport failure")
)
