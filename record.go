package dedup

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record identifies the earlier capture of a payload.
type Record struct {
	// ID is the identifier of the stored capture record (e.g. a WARC-Record-ID).
	ID string `json:"id"`
	// URL is the locator of the captured resource.
	URL string `json:"url"`
	// Date is the capture timestamp, e.g. "2021-01-01T00:00:00Z".
	Date string `json:"date"`
}

// EncodeValue returns the compact JSON form of a record.
// Records with an empty field are rejected so they can never be stored.
func EncodeValue(rec *Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// DecodeValue parses a value written by EncodeValue.
// An empty value decodes to a nil record. A value missing any field is
// rejected rather than returned partially populated.
func DecodeValue(data []byte) (*Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w: %v", ErrEncoding, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Validate reports ErrEncoding if any field of the record is empty.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("nil record: %w", ErrEncoding)
	case r.ID == "":
		return fmt.Errorf("record missing id: %w", ErrEncoding)
	case r.URL == "":
		return fmt.Errorf("record missing url: %w", ErrEncoding)
	case r.Date == "":
		return fmt.Errorf("record missing date: %w", ErrEncoding)
	}
	return nil
}
