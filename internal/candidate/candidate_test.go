package candidate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/secureqr/qr-sentinel/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind model.CandidateKind
		host string
	}{
		{"http url", "http://example.com/path", model.KindURL, "example.com"},
		{"https url", "https://Example.COM", model.KindURL, "example.com"},
		{"url with port", "https://example.com:8443/x", model.KindURL, "example.com"},
		{"plain text", "not a url", model.KindOpaqueText, ""},
		{"wifi payload", "WIFI:T:WPA;S:mynet;P:secret;;", model.KindOpaqueText, ""},
		{"upi deep link", "upi://pay?pa=alice@bank", model.KindOpaqueText, ""},
		{"ftp scheme", "ftp://files.example.com/a", model.KindOpaqueText, ""},
		{"scheme only", "http://", model.KindOpaqueText, ""},
		{"empty", "", model.KindOpaqueText, ""},
		{"leading whitespace", "  https://example.com  ", model.KindURL, "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := Classify(tt.raw)
			assert.Equal(t, tt.kind, cand.Kind)
			assert.Equal(t, tt.host, cand.Host)
			assert.Equal(t, tt.raw, cand.Raw)
			if tt.kind == model.KindOpaqueText {
				assert.Empty(t, cand.Normalized)
			} else {
				assert.NotEmpty(t, cand.Normalized)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://Example.Com/Path", "http://example.com/Path"},
		{"http://example.com", "http://example.com/"},
		{"http://example.com/", "http://example.com/"},
		{"http://example.com/a/", "http://example.com/a"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"http://example.com/a?q=1&r=2", "http://example.com/a?q=1&r=2"},
		{"http://example.com/a#frag", "http://example.com/a"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		assert.Equal(t, tt.want, Normalize(u), "input %q", tt.in)
	}
}

func TestNormalizeIsStable(t *testing.T) {
	// Two spellings of the same URL must share one cache key.
	a := Classify("HTTP://Evil.Test:80/path/")
	b := Classify("http://evil.test/path")
	assert.Equal(t, a.Normalized, b.Normalized)
}
