package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// DefaultSafeBrowsingBaseURL is the v4 API root.
const DefaultSafeBrowsingBaseURL = "https://safebrowsing.googleapis.com/v4"

var sbThreatTypes = []string{
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
}

// SafeBrowsingOptions configures the Google Safe Browsing adapter.
type SafeBrowsingOptions struct {
	APIKey     string
	RatePerMin float64
	Burst      int
	// BaseURL overrides the API root, for tests.
	BaseURL string
}

// NewSafeBrowsing builds the Safe Browsing client around the v4
// threatMatches:find lookup: any non-empty match list condemns the URL, an
// empty response clears it.
func NewSafeBrowsing(opts SafeBrowsingOptions) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultSafeBrowsingBaseURL
	}
	return New(Options{
		Name:       "safebrowsing",
		Source:     model.SourceSafeBrowsing,
		APIKey:     opts.APIKey,
		RatePerMin: opts.RatePerMin,
		Burst:      opts.Burst,
		Query:      sbQuery(base, opts.APIKey),
	})
}

type sbRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string `json:"threatTypes"`
		PlatformTypes    []string `json:"platformTypes"`
		ThreatEntryTypes []string `json:"threatEntryTypes"`
		ThreatEntries    []struct {
			URL string `json:"url"`
		} `json:"threatEntries"`
	} `json:"threatInfo"`
}

type sbMatch struct {
	ThreatType      string `json:"threatType"`
	PlatformType    string `json:"platformType"`
	ThreatEntryType string `json:"threatEntryType"`
}

type sbResponse struct {
	Matches []sbMatch `json:"matches"`
}

func sbQuery(base, apiKey string) QueryFunc {
	return func(ctx context.Context, cand model.Candidate) (model.Status, map[string]interface{}, error) {
		var payload sbRequest
		payload.Client.ClientID = "qr-sentinel"
		payload.Client.ClientVersion = "1.0"
		payload.ThreatInfo.ThreatTypes = sbThreatTypes
		payload.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
		payload.ThreatInfo.ThreatEntryTypes = []string{"URL"}
		payload.ThreatInfo.ThreatEntries = []struct {
			URL string `json:"url"`
		}{{URL: cand.Normalized}}

		body, err := json.Marshal(payload)
		if err != nil {
			return "", nil, &QueryError{Reason: model.ReasonTransportError, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			base+"/threatMatches:find?key="+apiKey, bytes.NewReader(body))
		if err != nil {
			return "", nil, &QueryError{Reason: model.ReasonTransportError, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		var resp sbResponse
		if err := doJSON(req, &resp); err != nil {
			return "", nil, err
		}

		if len(resp.Matches) == 0 {
			return model.StatusConfirmedSafe, map[string]interface{}{"matches": 0}, nil
		}

		threats := make([]string, 0, len(resp.Matches))
		for _, m := range resp.Matches {
			threats = append(threats, m.ThreatType)
		}
		return model.StatusMatchedUnsafe, map[string]interface{}{
			"matches":      len(resp.Matches),
			"threat_types": threats,
		}, nil
	}
}
