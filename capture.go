package dedup

// MetaBucketKey is the capture metadata key that carries the bucket.
const MetaBucketKey = "captures-bucket"

// RecordTypeResponse is the archival record type eligible for indexing.
const RecordTypeResponse = "response"

// Capture is an in-flight capture as seen by the index.
type Capture interface {
	// URL returns the locator of the captured resource.
	URL() string
	// PayloadDigest returns the algorithm-tagged payload digest, or "" if none was computed.
	PayloadDigest() string
	// PayloadSize returns the payload length in bytes.
	PayloadSize() int64
	// Meta returns capture metadata; may be nil.
	Meta() map[string]string
	// SetDedupInfo attaches a lookup result. A nil record means no prior capture.
	SetDedupInfo(rec *Record)
}

// ArchivalRecord exposes the header fields of a finalized archival record.
type ArchivalRecord interface {
	Type() string
	ID() string
	URL() string
	Date() string
}

// BucketOf returns the capture's bucket, or "" for the default namespace.
func BucketOf(c Capture) string {
	if c == nil {
		return ""
	}
	return c.Meta()[MetaBucketKey]
}

// Eligible reports whether a finalized record may be indexed: only response
// records with a non-empty payload are.
func Eligible(c Capture, rec ArchivalRecord) bool {
	if c == nil || rec == nil {
		return false
	}
	return rec.Type() == RecordTypeResponse && c.PayloadSize() > 0
}

// KeyOf builds the lookup key for a capture from its payload digest and bucket.
func KeyOf(c Capture) (string, error) {
	return BuildKey(c.PayloadDigest(), BucketOf(c))
}

// RecordOf returns the index value for a finalized archival record.
func RecordOf(rec ArchivalRecord) *Record {
	return &Record{ID: rec.ID(), URL: rec.URL(), Date: rec.Date()}
}

// RecordedURL is a plain Capture implementation.
type RecordedURL struct {
	Location  string
	Digest    string
	Size      int64
	Metadata  map[string]string
	DedupInfo *Record
}

func (r *RecordedURL) URL() string { return r.Location }
func (r *RecordedURL) PayloadDigest() string { return r.Digest }
func (r *RecordedURL) PayloadSize() int64 { return r.Size }
func (r *RecordedURL) Meta() map[string]string { return r.Metadata }
func (r *RecordedURL) SetDedupInfo(rec *Record) { r.DedupInfo = rec }

// RecordHeader is a plain ArchivalRecord implementation.
type RecordHeader struct {
	RecordType string
	RecordID   string
	TargetURI  string
	RecordDate string
}

func (h RecordHeader) Type() string { return h.RecordType }
func (h RecordHeader) ID() string { return h.RecordID }
func (h RecordHeader) URL() string { return h.TargetURI }
func (h RecordHeader) Date() string { return h.RecordDate }

var (
	_ Capture        = (*RecordedURL)(nil)
	_ ArchivalRecord = RecordHeader{}
)
