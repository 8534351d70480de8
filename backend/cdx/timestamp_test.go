package cdx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dedup "github.com/wolfeidau/capture-dedup"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		ts       string
		expected string
	}{
		{ts: "20210101000000", expected: "2021-01-01T00:00:00Z"},
		{ts: "19991231235959", expected: "1999-12-31T23:59:59Z"},
		{ts: "20240229120000", expected: "2024-02-29T12:00:00Z"},
		{ts: "0210101000000", expected: "0021-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.ts, func(t *testing.T) {
			got, err := ParseTimestamp(tt.ts)
			require.NoError(t, err)
			assert.Equal(t, time.UTC, got.Location())
			assert.Equal(t, tt.expected, FormatDate(got))
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, ts := range []string{
		"",
		"0101000000",
		"2021010100000x",
		"abcd0101000000",
		"20211301000000",
		"20210100000000",
		"20210101240000",
		"20210101006000",
		"20210230000000",
		"2021-1-01000000",
	} {
		t.Run(ts, func(t *testing.T) {
			_, err := ParseTimestamp(ts)
			require.ErrorIs(t, err, dedup.ErrEncoding)
		})
	}
}
