package model

import "time"

// CandidateKind classifies a decoded QR payload.
type CandidateKind string

const (
	KindURL        CandidateKind = "url"
	KindOpaqueText CandidateKind = "opaque_text"
)

// Candidate is a decoded payload after validation. Raw is the payload as
// decoded; Normalized is the cache/lookup key (only set for KindURL).
type Candidate struct {
	Raw        string        `json:"raw"`
	Kind       CandidateKind `json:"kind"`
	Normalized string        `json:"normalized,omitempty"`
	Host       string        `json:"host,omitempty"`
}

// IsURL reports whether the candidate parsed as an absolute http(s) URL.
func (c Candidate) IsURL() bool {
	return c.Kind == KindURL
}

// Source identifies one safety-signal origin.
type Source string

const (
	SourceBlacklist    Source = "blacklist"
	SourceVirusTotal   Source = "virustotal"
	SourceSafeBrowsing Source = "safebrowsing"
)

// Status is the normalized outcome vocabulary shared by all sources.
type Status string

const (
	StatusMatchedUnsafe Status = "matched_unsafe"
	StatusConfirmedSafe Status = "confirmed_safe"
	StatusInconclusive  Status = "inconclusive"
	StatusUnavailable   Status = "unavailable"
)

// Unavailability reasons carried in ProviderResult.Detail["reason"].
const (
	ReasonRateLimited       = "rate_limited"
	ReasonTimeout           = "timeout"
	ReasonTransportError    = "transport_error"
	ReasonMalformedResponse = "malformed_response"
	ReasonMissingAPIKey     = "missing_api_key"
)

// ProviderResult is one source's finding for one candidate. Produced once,
// never mutated.
type ProviderResult struct {
	Source    Source                 `json:"source"`
	Status    Status                 `json:"status"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	LatencyMS int64                  `json:"latency_ms"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Safety is the tri-state aggregate decision.
type Safety string

const (
	SafetySafe    Safety = "safe"
	SafetyUnsafe  Safety = "unsafe"
	SafetyUnknown Safety = "unknown"
)

// Bool maps the tri-state onto the wire form: true, false, or null for
// unknown.
func (s Safety) Bool() *bool {
	switch s {
	case SafetySafe:
		v := true
		return &v
	case SafetyUnsafe:
		v := false
		return &v
	default:
		return nil
	}
}

// Verdict is the aggregate safety decision for a candidate. It is a pure
// function of its contributing results.
type Verdict struct {
	Candidate Candidate        `json:"candidate"`
	Safety    Safety           `json:"safety"`
	Results   []ProviderResult `json:"contributing_results"`
	DecidedAt time.Time        `json:"decided_at"`
	Cached    bool             `json:"cached,omitempty"`
}

// DecodedCode is one QR code found in an uploaded image.
type DecodedCode struct {
	Data   string `json:"data"`
	Format string `json:"format"`
	Box    *Box   `json:"box,omitempty"`
}

// Box is the bounding region of a decoded code in image coordinates.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScanResponse is returned by the scan endpoints. Check holds a URLCheck or
// a TextEcho when the caller asked for a safety check of the decoded payload.
type ScanResponse struct {
	ScanID string        `json:"scan_id"`
	Codes  []DecodedCode `json:"codes"`
	Check  interface{}   `json:"check,omitempty"`
}

// URLCheck is the safety answer for a URL candidate. IsSafe is the tri-state
// on the wire: true, false, or null for unknown.
type URLCheck struct {
	ScanID    string   `json:"scan_id,omitempty"`
	Candidate string   `json:"candidate"`
	Kind      string   `json:"kind"`
	IsSafe    *bool    `json:"is_safe"`
	Verdict   *Verdict `json:"verdict"`
}

// TextEcho is the answer for an opaque-text candidate: the content is echoed
// back and no verdict is computed. UPIValid is set only for UPI deep links.
type TextEcho struct {
	ScanID   string `json:"scan_id,omitempty"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	UPIValid *bool  `json:"upi_valid,omitempty"`
}

// ProviderStatus reports one external provider's runtime state on /stats.
type ProviderStatus struct {
	Name        string  `json:"name"`
	Enabled     bool    `json:"enabled"`
	HasKey      bool    `json:"has_key"`
	RatePerMin  float64 `json:"rate_per_min"`
	Burst       int     `json:"burst"`
	UsedLastMin int     `json:"used_last_min"`
}

// StatsResponse is returned by the /stats endpoint.
type StatsResponse struct {
	CacheSize              int              `json:"cache_size"`
	CacheCapacity          int              `json:"cache_capacity"`
	SafeTTL                string           `json:"safe_ttl"`
	UnsafeTTL              string           `json:"unsafe_ttl"`
	UnknownTTL             string           `json:"unknown_ttl"`
	PersistentCacheEnabled bool             `json:"persistent_cache_enabled"`
	PersistentCacheSize    int              `json:"persistent_cache_size,omitempty"`
	Providers              []ProviderStatus `json:"providers"`
	BlacklistEntries       int              `json:"blacklist_entries"`
	LocalASNDB             bool             `json:"local_asn_db_loaded"`
}

// ErrorResponse is returned on error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
