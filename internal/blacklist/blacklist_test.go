package blacklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureqr/qr-sentinel/internal/candidate"
	"github.com/secureqr/qr-sentinel/internal/model"
)

func lookupURL(t *testing.T, s *Store, raw string) model.ProviderResult {
	t.Helper()
	cand := candidate.Classify(raw)
	require.True(t, cand.IsURL(), "test input must be a URL: %s", raw)
	return s.Lookup(cand)
}

func TestLookupDefaults(t *testing.T) {
	s := New("", "", nil)
	defer s.Close()

	tests := []struct {
		name string
		url  string
		want model.Status
	}{
		{"exact match", "http://malicious.com/", model.StatusMatchedUnsafe},
		{"subdomain match", "http://login.malicious.com/x", model.StatusMatchedUnsafe},
		{"case folded", "http://MALICIOUS.com", model.StatusMatchedUnsafe},
		{"miss", "http://example.com/", model.StatusInconclusive},
		{"partial domain is not a match", "http://notmalicious.com/", model.StatusInconclusive},
		{"suffix of label is not a match", "http://evilmalicious.com/", model.StatusInconclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := lookupURL(t, s, tt.url)
			assert.Equal(t, model.SourceBlacklist, res.Source)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestLookupNeverConfirmsSafe(t *testing.T) {
	s := New("", "", nil)
	defer s.Close()

	res := lookupURL(t, s, "https://definitely-not-listed.example/")
	assert.Equal(t, model.StatusInconclusive, res.Status)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	content := "# comment\nevil.test\n\nbad.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := New(path, "", nil)
	defer s.Close()

	assert.Equal(t, 2, s.Size())
	assert.Equal(t, model.StatusMatchedUnsafe, lookupURL(t, s, "http://evil.test/path").Status)
	assert.Equal(t, model.StatusMatchedUnsafe, lookupURL(t, s, "http://a.bad.example/").Status)
	// The built-in defaults are replaced by the file.
	assert.Equal(t, model.StatusInconclusive, lookupURL(t, s, "http://malicious.com/").Status)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	s := New("/nonexistent/blacklist.txt", "", nil)
	defer s.Close()
	assert.Equal(t, len(defaultDomains), s.Size())
}

func TestHomoglyphHeuristic(t *testing.T) {
	s := New("", "", nil)
	defer s.Close()

	res := lookupURL(t, s, "http://g00gle.com/login")
	require.Equal(t, model.StatusMatchedUnsafe, res.Status)
	assert.Equal(t, "homoglyph_domain", res.Detail["heuristic"])

	// Allowlisted numeric domains are fine.
	assert.Equal(t, model.StatusInconclusive, lookupURL(t, s, "http://zoom2u.com/").Status)
	// Digits in a subdomain label are routine infrastructure naming.
	assert.Equal(t, model.StatusInconclusive, lookupURL(t, s, "http://cdn3.example.com/").Status)
	// Purely alphabetic domains never trip the check.
	assert.Equal(t, model.StatusInconclusive, lookupURL(t, s, "http://google.com/").Status)
}

func TestHomoglyphAllowlistExtension(t *testing.T) {
	s := New("", "", []string{"shop24.example"})
	defer s.Close()
	assert.Equal(t, model.StatusInconclusive, lookupURL(t, s, "http://shop24.example/").Status)
}

func TestValidUPILink(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
	}{
		{"upi://pay?pa=alice@bank", true},
		{"upi://pay?pa=a.b-c_d@provider&am=10", true},
		{"upi://pay?am=10", false},
		{"upi://pay?pa=no-at-sign", false},
		{"upi://pay?pa=alice@bank123", false},
		{"upi://collect?pa=alice@bank", false},
		{"http://example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidUPILink(tt.raw), "input %q", tt.raw)
	}
}

func TestIsUPILink(t *testing.T) {
	assert.True(t, IsUPILink("upi://pay?pa=x@y"))
	assert.True(t, IsUPILink("UPI://pay?pa=x@y"))
	assert.False(t, IsUPILink("http://example.com"))
}
