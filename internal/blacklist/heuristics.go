package blacklist

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// defaultAllowedNumeric are domains that legitimately contain digits and must
// not trip the homoglyph check.
var defaultAllowedNumeric = []string{
	"zoom2u.com",
	"4chan.org",
}

// homoglyphDigits are digit-for-letter substitutions commonly used in
// lookalike domains (g00gle.com, paypa1.com).
var homoglyphDigits = map[rune][]rune{
	'0': {'o', 'O'},
	'1': {'l', 'i', 'I'},
	'2': {'z', 'Z'},
	'3': {'e', 'E'},
	'4': {'a', 'A'},
	'5': {'s', 'S'},
	'6': {'b', 'G'},
	'7': {'t', 'T'},
	'8': {'b', 'B'},
	'9': {'g', 'q'},
}

var upiIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z]+$`)

// Heuristics holds the local phishing checks: homoglyph lookalike domains and
// malformed UPI payment deep links.
type Heuristics struct {
	allowed map[string]struct{}
}

// NewHeuristics builds the heuristic checker. allowed extends the built-in
// list of legitimately numeric domains.
func NewHeuristics(allowed []string) *Heuristics {
	h := &Heuristics{allowed: make(map[string]struct{})}
	for _, d := range defaultAllowedNumeric {
		h.allowed[d] = struct{}{}
	}
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			h.allowed[d] = struct{}{}
		}
	}
	return h
}

// Check runs the URL heuristics against a candidate. It returns the
// triggered rule name and true on a hit. UPI deep links never reach this
// path (they are not http/https); see ValidUPILink.
func (h *Heuristics) Check(cand model.Candidate) (string, bool) {
	if h.homoglyphAttack(cand.Host) {
		return "homoglyph_domain", true
	}
	return "", false
}

// homoglyphAttack flags registrable domains that mix digit substitutions
// into an otherwise alphabetic name.
func (h *Heuristics) homoglyphAttack(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	if _, ok := h.allowed[host]; ok {
		return false
	}

	// Only the registrable label matters; "cdn3.example.com" is fine.
	labels := strings.Split(host, ".")
	label := labels[0]
	if len(labels) >= 2 {
		label = labels[len(labels)-2]
	}

	hasDigitSub := false
	hasLetter := false
	for _, r := range label {
		if _, ok := homoglyphDigits[r]; ok {
			hasDigitSub = true
		}
		if r >= 'a' && r <= 'z' {
			hasLetter = true
		}
	}
	return hasDigitSub && hasLetter
}

// IsUPILink reports whether a decoded payload is a UPI deep link.
func IsUPILink(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), "upi://")
}

// ValidUPILink validates a upi://pay deep link: it must carry a pa parameter
// holding a name@provider UPI id.
func ValidUPILink(raw string) bool {
	if !strings.HasPrefix(strings.ToLower(raw), "upi://pay?") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	params := u.Query()
	pa := params.Get("pa")
	if pa == "" {
		return false
	}
	return upiIDPattern.MatchString(pa)
}
