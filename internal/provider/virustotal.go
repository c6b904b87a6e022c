package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// DefaultVirusTotalBaseURL is the v3 API root.
const DefaultVirusTotalBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotalOptions configures the VirusTotal adapter.
type VirusTotalOptions struct {
	APIKey     string
	RatePerMin float64
	Burst      int
	// MaliciousThreshold is the minimum malicious+suspicious engine count
	// that condemns a URL. Below it but nonzero is inconclusive.
	MaliciousThreshold int
	// BaseURL overrides the API root, for tests.
	BaseURL string
}

// NewVirusTotal builds the VirusTotal client. Lookup uses the v3 URL-id
// endpoint; an unknown URL is submitted for analysis and reported
// inconclusive until the analysis completes.
func NewVirusTotal(opts VirusTotalOptions) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultVirusTotalBaseURL
	}
	if opts.MaliciousThreshold < 1 {
		opts.MaliciousThreshold = 1
	}
	return New(Options{
		Name:       "virustotal",
		Source:     model.SourceVirusTotal,
		APIKey:     opts.APIKey,
		RatePerMin: opts.RatePerMin,
		Burst:      opts.Burst,
		Query:      vtQuery(base, opts.APIKey, opts.MaliciousThreshold),
	})
}

type vtAnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

type vtURLReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats *vtAnalysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type vtSubmitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func vtQuery(base, apiKey string, threshold int) QueryFunc {
	return func(ctx context.Context, cand model.Candidate) (model.Status, map[string]interface{}, error) {
		// v3 identifies URLs by unpadded base64url of the URL itself.
		id := base64.RawURLEncoding.EncodeToString([]byte(cand.Normalized))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/urls/"+id, nil)
		if err != nil {
			return "", nil, &QueryError{Reason: model.ReasonTransportError, Err: err}
		}
		req.Header.Set("x-apikey", apiKey)

		var report vtURLReport
		if err := doJSON(req, &report); err != nil {
			if errors.Is(err, ErrNotFound) {
				return vtSubmit(ctx, base, apiKey, cand)
			}
			return "", nil, err
		}

		stats := report.Data.Attributes.LastAnalysisStats
		if stats == nil {
			return "", nil, &QueryError{
				Reason: model.ReasonMalformedResponse,
				Err:    fmt.Errorf("missing last_analysis_stats"),
			}
		}
		return vtClassify(stats, threshold)
	}
}

// vtSubmit queues an unknown URL for analysis. The verdict stays
// inconclusive for this request; the next cache refresh picks up the report.
func vtSubmit(ctx context.Context, base, apiKey string, cand model.Candidate) (model.Status, map[string]interface{}, error) {
	form := url.Values{"url": {cand.Normalized}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, &QueryError{Reason: model.ReasonTransportError, Err: err}
	}
	req.Header.Set("x-apikey", apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var submitted vtSubmitResponse
	if err := doJSON(req, &submitted); err != nil {
		return "", nil, err
	}
	return model.StatusInconclusive, map[string]interface{}{
		"analysis_id": submitted.Data.ID,
		"message":     "URL submitted for analysis, report not yet available",
	}, nil
}

func vtClassify(stats *vtAnalysisStats, threshold int) (model.Status, map[string]interface{}, error) {
	detail := map[string]interface{}{
		"malicious":  stats.Malicious,
		"suspicious": stats.Suspicious,
		"harmless":   stats.Harmless,
		"undetected": stats.Undetected,
	}
	flagged := stats.Malicious + stats.Suspicious
	switch {
	case flagged >= threshold:
		return model.StatusMatchedUnsafe, detail, nil
	case flagged == 0:
		return model.StatusConfirmedSafe, detail, nil
	default:
		return model.StatusInconclusive, detail, nil
	}
}
