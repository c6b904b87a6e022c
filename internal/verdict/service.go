// Package verdict implements the safety verdict engine: it fans out one
// candidate URL to the local blacklist and the external reputation providers,
// collapses their findings into a tri-state decision, and keeps repeated
// scans inside the provider quotas through its cache tiers.
package verdict

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/secureqr/qr-sentinel/internal/blacklist"
	"github.com/secureqr/qr-sentinel/internal/config"
	"github.com/secureqr/qr-sentinel/internal/model"
	"github.com/secureqr/qr-sentinel/internal/provider"
	"github.com/secureqr/qr-sentinel/internal/store"
)

// lateResultGrace is how long a provider check may keep running past the
// evaluation deadline to refresh the cache with its late result.
const lateResultGrace = 5 * time.Second

// Service is the verdict aggregator.
type Service struct {
	cfg       *config.Config
	cache     *Cache
	store     store.Store // persistent cache (SQLite/MySQL), may be nil
	blacklist *blacklist.Store
	providers []*provider.Client
	group     singleflight.Group
}

// New creates the service with the standard VirusTotal and Safe Browsing
// adapters.
func New(cfg *config.Config) *Service {
	return NewWithProviders(cfg,
		provider.NewVirusTotal(provider.VirusTotalOptions{
			APIKey:             cfg.VTAPIKey,
			RatePerMin:         cfg.VTRatePerMin,
			Burst:              cfg.VTBurst,
			MaliciousThreshold: cfg.VTMaliciousThreshold,
		}),
		provider.NewSafeBrowsing(provider.SafeBrowsingOptions{
			APIKey:     cfg.GSBAPIKey,
			RatePerMin: cfg.GSBRatePerMin,
			Burst:      cfg.GSBBurst,
		}),
	)
}

// NewWithProviders wires the service with explicit provider clients.
func NewWithProviders(cfg *config.Config, providers ...*provider.Client) *Service {
	svc := &Service{
		cfg:       cfg,
		cache:     NewCache(cfg.CacheCapacity),
		blacklist: blacklist.New(cfg.BlacklistPath, cfg.MMDBPath, cfg.HomoglyphAllowed),
		providers: providers,
	}

	if cfg.PersistentCache {
		s, err := store.New(cfg.PersistentCacheType, cfg.PersistentCacheDSN)
		if err != nil {
			log.Printf("[store] WARNING: Failed to open persistent cache: %v", err)
		} else {
			svc.store = s
		}
	}

	for _, p := range providers {
		state := "ready"
		if !p.Enabled() {
			state = "no key, skipped"
		}
		log.Printf("[verdict] Provider %s (%.1f req/min, burst %d, %s)",
			p.Name(), p.Status().RatePerMin, p.Status().Burst, state)
	}

	return svc
}

// Evaluate computes the verdict for a URL candidate.
// Order: in-memory cache → persistent cache → single-flight provider fan-out.
// Returns nil for non-URL candidates; those carry no verdict.
func (s *Service) Evaluate(ctx context.Context, cand model.Candidate) *model.Verdict {
	if !cand.IsURL() {
		return nil
	}
	key := cand.Normalized

	// 1. In-memory cache: the dominant path for repeated scans.
	if v, ok := s.cache.Get(key); ok {
		return v
	}

	// 2. Persistent cache.
	if s.store != nil {
		if v, ok := s.store.Get(key); ok {
			v.Cached = true
			s.cache.Set(key, v, s.memoryTTL(v.Safety))
			log.Printf("[verdict] %s → persistent cache (%s)", key, v.Safety)
			return v
		}
	}

	// 3. Full evaluation. Concurrent callers for the same key join one
	// in-flight computation instead of spending provider quota twice.
	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		return s.evaluate(ctx, cand), nil
	})
	return v.(*model.Verdict)
}

// evaluate runs the blacklist check and the provider fan-out under the
// configured deadline.
func (s *Service) evaluate(ctx context.Context, cand model.Candidate) *model.Verdict {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EvalTimeout)
	defer cancel()

	// The blacklist is synchronous and always consulted first. A hit is
	// locally certain, so the unsafe verdict goes out immediately; the
	// providers still run in the background to enrich the cached verdict.
	blRes := s.blacklist.Lookup(cand)
	if blRes.Status == model.StatusMatchedUnsafe {
		v := s.combine(cand, []model.ProviderResult{blRes})
		s.cacheVerdict(v)
		go s.backgroundRefresh(cand, blRes)
		log.Printf("[verdict] %s → unsafe (blacklist short-circuit)", cand.Normalized)
		return v
	}

	results := s.fanOut(ctx, cand, blRes)
	v := s.combine(cand, results)
	s.cacheVerdict(v)
	log.Printf("[verdict] %s → %s (%d results)", cand.Normalized, v.Safety, len(v.Results))
	return v
}

type indexedResult struct {
	idx int
	res model.ProviderResult
}

// fanOut launches every provider check concurrently and collects results
// until they all complete or the context deadline passes. Checks still
// pending at the deadline are reported as unavailable/timeout; their eventual
// results refresh the cache without touching the returned slice.
func (s *Service) fanOut(ctx context.Context, cand model.Candidate, blRes model.ProviderResult) []model.ProviderResult {
	// Providers run on a detached budget slightly past the evaluation
	// deadline so late results can still inform the next cache refresh.
	pctx, pcancel := context.WithTimeout(context.Background(), s.cfg.EvalTimeout+lateResultGrace)

	ch := make(chan indexedResult, len(s.providers))
	for i, p := range s.providers {
		go func(i int, p *provider.Client) {
			ch <- indexedResult{i, p.Check(pctx, cand)}
		}(i, p)
	}

	results := make([]model.ProviderResult, len(s.providers)+1)
	results[0] = blRes

	received := 0
	for received < len(s.providers) {
		select {
		case r := <-ch:
			results[r.idx+1] = r.res
			received++
		case <-ctx.Done():
			snapshot := make([]model.ProviderResult, len(results))
			copy(snapshot, results)
			for i, p := range s.providers {
				if snapshot[i+1].Source == "" {
					snapshot[i+1] = timeoutResult(p.Source())
				}
			}
			go s.drainLate(pcancel, cand, ch, results, len(s.providers)-received)
			return snapshot
		}
	}
	pcancel()
	return results
}

// drainLate collects the provider results that missed the deadline and
// refreshes the cache with the completed picture. The verdict already
// returned to the caller is never mutated.
func (s *Service) drainLate(cancel context.CancelFunc, cand model.Candidate, ch <-chan indexedResult, results []model.ProviderResult, remaining int) {
	defer cancel()
	for i := 0; i < remaining; i++ {
		r := <-ch
		results[r.idx+1] = r.res
	}
	v := s.combine(cand, results)
	s.cacheVerdict(v)
	log.Printf("[verdict] %s → cache refreshed with late results (%s)", cand.Normalized, v.Safety)
}

// backgroundRefresh completes the provider fan-out after a blacklist
// short-circuit so the cached verdict carries all contributing results.
func (s *Service) backgroundRefresh(cand model.Candidate, blRes model.ProviderResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EvalTimeout)
	defer cancel()

	results := s.fanOut(ctx, cand, blRes)
	v := s.combine(cand, results)
	s.cacheVerdict(v)
}

// combine applies the combination policy. Unsafety is sticky: one
// matched_unsafe condemns the URL. Safety requires every consulted external
// provider to have affirmatively cleared it, with at least one consulted; the
// blacklist's inconclusive miss is neutral since a finite blacklist can only
// condemn, never clear. Everything else is unknown.
func (s *Service) combine(cand model.Candidate, results []model.ProviderResult) *model.Verdict {
	anyUnsafe := false
	consulted := 0
	cleared := 0

	for _, r := range results {
		if r.Status == model.StatusMatchedUnsafe {
			anyUnsafe = true
		}
		if r.Source == model.SourceBlacklist {
			continue
		}
		if skipped(r) {
			continue
		}
		consulted++
		if r.Status == model.StatusConfirmedSafe {
			cleared++
		}
	}

	safety := model.SafetyUnknown
	switch {
	case anyUnsafe:
		safety = model.SafetyUnsafe
	case consulted > 0 && cleared == consulted:
		safety = model.SafetySafe
	}

	return &model.Verdict{
		Candidate: cand,
		Safety:    safety,
		Results:   results,
		DecidedAt: time.Now(),
	}
}

// skipped reports whether a provider was excluded from the check entirely
// (no API key configured). A skipped provider is kept in the contributing
// results for explainability but does not count toward the safety quorum.
func skipped(r model.ProviderResult) bool {
	if r.Status != model.StatusUnavailable || r.Detail == nil {
		return false
	}
	reason, _ := r.Detail["reason"].(string)
	return reason == model.ReasonMissingAPIKey
}

func timeoutResult(src model.Source) model.ProviderResult {
	now := time.Now()
	return model.ProviderResult{
		Source: src,
		Status: model.StatusUnavailable,
		Detail: map[string]interface{}{
			"reason": model.ReasonTimeout,
			"cause":  "no response before deadline",
		},
		FetchedAt: now,
	}
}

// cacheVerdict stores the verdict in both cache tiers with the TTL for its
// outcome. Unsafe and unknown verdicts expire sooner: threats get remediated
// and unknowns deserve a retry.
func (s *Service) cacheVerdict(v *model.Verdict) {
	key := v.Candidate.Normalized
	s.cache.Set(key, v, s.memoryTTL(v.Safety))
	if s.store != nil {
		s.store.Set(key, v, time.Now().Add(s.storeTTL(v.Safety)).Unix())
	}
}

func (s *Service) memoryTTL(safety model.Safety) time.Duration {
	switch safety {
	case model.SafetySafe:
		return s.cfg.SafeTTL
	case model.SafetyUnsafe:
		return s.cfg.UnsafeTTL
	default:
		return s.cfg.UnknownTTL
	}
}

func (s *Service) storeTTL(safety model.Safety) time.Duration {
	if safety == model.SafetySafe {
		return s.cfg.PersistentCacheTTL
	}
	return s.memoryTTL(safety)
}

// Stats returns service statistics.
func (s *Service) Stats() *model.StatsResponse {
	providerStatuses := make([]model.ProviderStatus, len(s.providers))
	for i, p := range s.providers {
		providerStatuses[i] = p.Status()
	}

	resp := &model.StatsResponse{
		CacheSize:              s.cache.Size(),
		CacheCapacity:          s.cache.Capacity(),
		SafeTTL:                s.cfg.SafeTTL.String(),
		UnsafeTTL:              s.cfg.UnsafeTTL.String(),
		UnknownTTL:             s.cfg.UnknownTTL.String(),
		PersistentCacheEnabled: s.store != nil,
		Providers:              providerStatuses,
		BlacklistEntries:       s.blacklist.Size(),
		LocalASNDB:             s.blacklist.HasLocalDB(),
	}

	if s.store != nil {
		resp.PersistentCacheSize = s.store.Size()
	}

	return resp
}

// Close cleans up resources.
func (s *Service) Close() {
	s.cache.Stop()
	s.blacklist.Close()
	if s.store != nil {
		s.store.Close()
	}
}
