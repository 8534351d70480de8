package server

import (
	"encoding/json"
	"errors"
	"net/http"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/backend"
	"github.com/wolfeidau/capture-dedup/telemetry"
)

// maxNotifyBody bounds the size of a notify request body.
const maxNotifyBody = 64 << 10

// LookupResponse is the body of a lookup response.
type LookupResponse struct {
	Found  bool          `json:"found"`
	Record *dedup.Record `json:"record,omitempty"`
}

// NotifyRequest describes a finalized archival record.
type NotifyRequest struct {
	RecordType    string `json:"record_type"`
	RecordID      string `json:"record_id"`
	URL           string `json:"url"`
	Date          string `json:"date"`
	PayloadDigest string `json:"payload_digest"`
	PayloadSize   int64  `json:"payload_size"`
	Bucket        string `json:"bucket,omitempty"`
}

func (n NotifyRequest) capture() *dedup.RecordedURL {
	return &dedup.RecordedURL{
		Location: n.URL,
		Digest:   n.PayloadDigest,
		Size:     n.PayloadSize,
		Metadata: bucketMeta(n.Bucket),
	}
}

func (n NotifyRequest) header() dedup.RecordHeader {
	return dedup.RecordHeader{
		RecordType: n.RecordType,
		RecordID:   n.RecordID,
		TargetURI:  n.URL,
		RecordDate: n.Date,
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats reports the number of indexed keys, when the backend can.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sb, ok := s.backend.(backend.StatsBackend)
	if !ok {
		writeError(w, http.StatusNotImplemented, backend.ErrStatsUnsupported)
		return
	}

	stats, err := sb.Stats(r.Context())
	if errors.Is(err, backend.ErrStatsUnsupported) {
		writeError(w, http.StatusNotImplemented, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleLookup answers GET /v1/lookup?digest=&bucket=&url=.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "lookup")
	telemetry.SetBackend(r, s.index.Name())

	q := r.URL.Query()
	capture := &dedup.RecordedURL{
		Location: q.Get("url"),
		Digest:   q.Get("digest"),
		Metadata: bucketMeta(q.Get("bucket")),
	}

	rec, err := s.index.Lookup(r.Context(), capture)
	if err != nil {
		telemetry.SetLookupResult(r, telemetry.LookupError)
		s.logger.Error("lookup failed", "digest", capture.Digest, "url", capture.Location, "error", err)
		writeError(w, statusFromError(err), err)
		return
	}

	if rec == nil {
		telemetry.SetLookupResult(r, telemetry.LookupMiss)
	} else {
		telemetry.SetLookupResult(r, telemetry.LookupHit)
	}
	writeJSON(w, http.StatusOK, LookupResponse{Found: rec != nil, Record: rec})
}

// handleNotify indexes a finalized record posted as a NotifyRequest.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "notify")
	telemetry.SetBackend(r, s.index.Name())

	var req NotifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	capture := req.capture()
	header := req.header()
	if dedup.Eligible(capture, header) {
		if err := dedup.RecordOf(header).Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.index.Notify(r.Context(), capture, header); err != nil {
		s.logger.Error("notify failed", "digest", req.PayloadDigest, "url", req.URL, "error", err)
		writeError(w, statusFromError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFromError maps caller mistakes to 400 and everything else to 500.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, dedup.ErrEmptyDigest),
		errors.Is(err, dedup.ErrInvalidDigest),
		errors.Is(err, dedup.ErrInvalidBucket),
		errors.Is(err, dedup.ErrKeyTooLong),
		errors.Is(err, dedup.ErrValueTooLarge):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func bucketMeta(bucket string) map[string]string {
	if bucket == "" {
		return nil
	}
	return map[string]string{dedup.MetaBucketKey: bucket}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
