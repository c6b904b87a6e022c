// Package blacklist implements the local safety checks: a fixed set of known
// bad domains, phishing heuristics, and ASN enrichment for IP-literal hosts.
// Everything here is synchronous and network-free; absence from the blacklist
// is never proof of safety, so a miss is always inconclusive.
package blacklist

import (
	"bufio"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// defaultDomains is the built-in bad-domain set, used when no blacklist file
// is configured.
var defaultDomains = []string{
	"malicious.com",
	"phishing-site.com",
	"scam-website.net",
	"evil-domain.org",
	"dangerous-url.io",
	"testmalicious.com",
	"harmful-site.org",
}

// Store is the local blacklist. Loaded once at startup and read-only
// afterwards, so concurrent lookups need no synchronization.
type Store struct {
	domains    map[string]struct{}
	heuristics *Heuristics
	localDB    *LocalDB
}

// New builds a Store from the file at path (one domain per line, '#'
// comments) or the embedded defaults when path is empty or unreadable.
// mmdbPath may point at a GeoLite2-ASN database; enrichment is disabled when
// it is absent.
func New(path, mmdbPath string, homoglyphAllowed []string) *Store {
	s := &Store{
		domains:    make(map[string]struct{}),
		heuristics: NewHeuristics(homoglyphAllowed),
		localDB:    NewLocalDB(mmdbPath),
	}

	loaded := 0
	if path != "" {
		n, err := s.loadFile(path)
		if err != nil {
			log.Printf("[blacklist] Failed to load %s: %v, falling back to defaults", path, err)
		} else {
			loaded = n
		}
	}
	if loaded == 0 {
		for _, d := range defaultDomains {
			s.domains[d] = struct{}{}
		}
		loaded = len(defaultDomains)
	}

	log.Printf("[blacklist] Loaded %d domains (file=%q, mmdb=%v)", loaded, path, s.localDB != nil)
	return s
}

func (s *Store) loadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.domains[strings.ToLower(line)] = struct{}{}
		n++
	}
	return n, sc.Err()
}

// Size returns the number of blacklisted domains.
func (s *Store) Size() int {
	return len(s.domains)
}

// HasLocalDB reports whether the ASN database is available.
func (s *Store) HasLocalDB() bool {
	return s.localDB != nil
}

// Lookup checks a candidate against the blacklist and the phishing
// heuristics. The result is matched_unsafe on any hit and inconclusive
// otherwise; it never returns confirmed_safe.
func (s *Store) Lookup(cand model.Candidate) model.ProviderResult {
	start := time.Now()
	res := model.ProviderResult{
		Source:    model.SourceBlacklist,
		Status:    model.StatusInconclusive,
		FetchedAt: start,
	}

	host := cand.Host
	if bad, ok := s.match(host); ok {
		res.Status = model.StatusMatchedUnsafe
		res.Detail = map[string]interface{}{
			"match":   bad,
			"message": "URL domain is in the local blacklist",
		}
		res.LatencyMS = time.Since(start).Milliseconds()
		return res
	}

	if reason, hit := s.heuristics.Check(cand); hit {
		res.Status = model.StatusMatchedUnsafe
		res.Detail = map[string]interface{}{
			"heuristic": reason,
			"message":   "URL flagged by local phishing heuristics",
		}
		res.LatencyMS = time.Since(start).Milliseconds()
		return res
	}

	// IP-literal hosts get ASN context for the caller; informational only.
	if ip := net.ParseIP(host); ip != nil && s.localDB != nil {
		if info, err := s.localDB.Lookup(ip); err == nil {
			detail := map[string]interface{}{
				"asn":     info.ASN,
				"asn_org": info.Org,
			}
			if info.Datacenter {
				detail["datacenter"] = true
			}
			res.Detail = detail
		}
	}

	res.LatencyMS = time.Since(start).Milliseconds()
	return res
}

// match reports whether host equals a blacklisted domain or is a subdomain
// of one.
func (s *Store) match(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return "", false
	}
	if _, ok := s.domains[host]; ok {
		return host, true
	}
	for i := 0; i < len(host); i++ {
		if host[i] != '.' {
			continue
		}
		suffix := host[i+1:]
		if _, ok := s.domains[suffix]; ok {
			return suffix, true
		}
	}
	return "", false
}

// Close releases the ASN database.
func (s *Store) Close() {
	s.localDB.Close()
}
