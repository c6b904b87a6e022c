// Package candidate turns raw decoded QR payloads into validated candidates
// and produces the normalized URL form used as the cache and lookup key.
package candidate

import (
	"net/url"
	"strings"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// Classify validates a raw payload. A string that parses as an absolute
// http(s) URL with a non-empty host becomes a URL candidate; everything else
// is opaque text and bypasses the safety checks.
func Classify(raw string) model.Candidate {
	trimmed := strings.TrimSpace(raw)

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return model.Candidate{Raw: raw, Kind: model.KindOpaqueText}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return model.Candidate{Raw: raw, Kind: model.KindOpaqueText}
	}

	return model.Candidate{
		Raw:        raw,
		Kind:       model.KindURL,
		Normalized: Normalize(u),
		Host:       hostOnly(u),
	}
}

// Normalize produces the canonical cache key: lowercased scheme and host,
// default port stripped, empty path folded to "/", trailing slash trimmed
// from non-root paths, query preserved, fragment dropped.
func Normalize(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	s := scheme + "://" + host + path
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	return s
}

// hostOnly strips any port from the URL host.
func hostOnly(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	return host
}
