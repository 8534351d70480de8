package cdx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dedup "github.com/wolfeidau/capture-dedup"
)

const (
	matchDigest = "B2LTWWPUOYAH7UIPQ7ZUPQ4VMBSVC36A"
	otherDigest = "3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ"
	pageURL     = "https://example.com/page"
)

func capture(digest string) *dedup.RecordedURL {
	return &dedup.RecordedURL{Location: pageURL, Digest: digest, Size: 1024}
}

func lookupKey(t *testing.T, digest string) string {
	t.Helper()
	key, err := dedup.BuildKey(digest, "")
	require.NoError(t, err)
	return key
}

// newCDXServer serves body with status and returns the last query received.
func newCDXServer(t *testing.T, status int, body string) (*httptest.Server, func() url.Values) {
	t.Helper()
	var (
		mu    sync.Mutex
		query url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.Query()
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() url.Values {
		mu.Lock()
		defer mu.Unlock()
		return query
	}
}

func TestLookup_Match(t *testing.T) {
	body := "20210101000000 " + matchDigest + "\n\n20210102000000 " + otherDigest + "\n"
	srv, lastQuery := newCDXServer(t, http.StatusOK, body)
	b := New(WithURL(srv.URL))

	rec, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, &dedup.Record{ID: pageURL, URL: pageURL, Date: "2021-01-01T00:00:00Z"}, rec)

	q := lastQuery()
	assert.Equal(t, pageURL, q.Get("url"))
	assert.Equal(t, "timestamp,digest", q.Get("fl"))
	assert.Equal(t, "-1", q.Get("limit"))
}

func TestLookup_FirstMatchWins(t *testing.T) {
	body := "20200505123456 " + matchDigest + "\n20210101000000 " + matchDigest + "\n"
	srv, _ := newCDXServer(t, http.StatusOK, body)
	b := New(WithURL(srv.URL))

	rec, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2020-05-05T12:34:56Z", rec.Date)
}

func TestLookup_Absent(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "no matching digest", status: http.StatusOK, body: "20210102000000 " + otherDigest + "\n"},
		{name: "empty body", status: http.StatusOK, body: ""},
		{name: "not found", status: http.StatusNotFound, body: "nope"},
		{name: "server error", status: http.StatusInternalServerError, body: "20210101000000 " + matchDigest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newCDXServer(t, tt.status, tt.body)
			b := New(WithURL(srv.URL))

			rec, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestLookup_TransportErrorIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	b := New(WithURL(srv.URL))
	rec, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLookup_TimeoutIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	b := New(WithURL(srv.URL), WithTimeout(50*time.Millisecond))
	rec, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLookup_MalformedResponse(t *testing.T) {
	t.Run("bad timestamp on match", func(t *testing.T) {
		srv, _ := newCDXServer(t, http.StatusOK, "2021x1010000 "+matchDigest+"\n")
		b := New(WithURL(srv.URL))

		_, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
		require.ErrorIs(t, err, dedup.ErrEncoding)
	})

	t.Run("line without digest", func(t *testing.T) {
		srv, _ := newCDXServer(t, http.StatusOK, "20210101000000\n")
		b := New(WithURL(srv.URL))

		_, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
		require.ErrorIs(t, err, dedup.ErrEncoding)
	})

	t.Run("line with extra field", func(t *testing.T) {
		srv, _ := newCDXServer(t, http.StatusOK, "20210101000000 "+otherDigest+" extra\n20210101000000 "+matchDigest+"\n")
		b := New(WithURL(srv.URL))

		_, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), capture("sha1:"+matchDigest))
		require.ErrorIs(t, err, dedup.ErrEncoding)
	})
}

func TestScanDigest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ts      string
		found   bool
		wantErr bool
	}{
		{"match after blank line", "\n20210101000000 " + matchDigest + "\n", "20210101000000", true, false},
		{"no match", "20210101000000 " + otherDigest + "\n", "", false, false},
		{"double space", "20210101000000  " + matchDigest + "\n", "", false, true},
		{"trailing field", "20210101000000 " + matchDigest + " x\n", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, found, err := scanDigest(strings.NewReader(tt.body), matchDigest)
			if tt.wantErr {
				require.ErrorIs(t, err, dedup.ErrEncoding)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.ts, ts)
		})
	}
}

func TestLookup_CaptureRequired(t *testing.T) {
	b := New(WithURL("http://127.0.0.1:0"))
	_, err := b.Lookup(context.Background(), lookupKey(t, "sha1:"+matchDigest), nil)
	require.ErrorIs(t, err, ErrCaptureRequired)
}

func TestReadOnly(t *testing.T) {
	srv, _ := newCDXServer(t, http.StatusOK, "")
	b := New(WithURL(srv.URL))
	ctx := context.Background()

	assert.True(t, b.ReadOnly())
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Save(ctx, "sha1:AAA|", &dedup.Record{ID: "a", URL: "b", Date: "c"}))
	require.NoError(t, b.Notify(ctx, capture("sha1:AAA"), dedup.RecordHeader{RecordType: dedup.RecordTypeResponse}))
}

func TestQueryURL(t *testing.T) {
	b := New(WithURL("http://cdx.example/search?matchType=exact"))
	assert.Equal(t,
		"http://cdx.example/search?matchType=exact&fl=timestamp%2Cdigest&limit=-1&url=https%3A%2F%2Fexample.com%2Fpage",
		b.queryURL(pageURL),
	)
}

func TestNew_Defaults(t *testing.T) {
	b := New()
	assert.Equal(t, DefaultURL, b.URL())
	assert.Equal(t, DefaultTimeout, b.timeout)
	assert.NotNil(t, b.client)
}
