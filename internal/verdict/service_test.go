package verdict

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureqr/qr-sentinel/internal/candidate"
	"github.com/secureqr/qr-sentinel/internal/config"
	"github.com/secureqr/qr-sentinel/internal/model"
	"github.com/secureqr/qr-sentinel/internal/provider"
)

const (
	vtClean     = `{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"harmless":70,"undetected":5}}}}`
	vtMalicious = `{"data":{"attributes":{"last_analysis_stats":{"malicious":12,"suspicious":3,"harmless":55,"undetected":5}}}}`
	sbClean     = `{}`
	sbMalicious = `{"matches":[{"threatType":"MALWARE","platformType":"ANY_PLATFORM","threatEntryType":"URL"}]}`
)

// fakeProvider is an httptest-backed reputation endpoint with a hit counter.
type fakeProvider struct {
	srv  *httptest.Server
	hits int32

	mu   sync.Mutex
	body string
}

func newFakeProvider(body string) *fakeProvider {
	f := &fakeProvider{body: body}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.hits, 1)
		f.mu.Lock()
		body := f.body
		f.mu.Unlock()
		fmt.Fprint(w, body)
	}))
	return f
}

func (f *fakeProvider) Hits() int32 { return atomic.LoadInt32(&f.hits) }
func (f *fakeProvider) Close()      { f.srv.Close() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	blPath := filepath.Join(t.TempDir(), "blacklist.txt")
	require.NoError(t, os.WriteFile(blPath, []byte("evil.test\nmalicious.com\n"), 0o644))

	return &config.Config{
		EvalTimeout:   2 * time.Second,
		CacheCapacity: 128,
		SafeTTL:       time.Minute,
		UnsafeTTL:     time.Minute,
		UnknownTTL:    time.Minute,
		BlacklistPath: blPath,
	}
}

func newTestService(t *testing.T, cfg *config.Config, vtURL, sbURL string, vtKey, sbKey string) *Service {
	t.Helper()
	svc := NewWithProviders(cfg,
		provider.NewVirusTotal(provider.VirusTotalOptions{
			APIKey: vtKey, RatePerMin: 6000, Burst: 100,
			MaliciousThreshold: 1, BaseURL: vtURL,
		}),
		provider.NewSafeBrowsing(provider.SafeBrowsingOptions{
			APIKey: sbKey, RatePerMin: 6000, Burst: 100, BaseURL: sbURL,
		}),
	)
	t.Cleanup(svc.Close)
	return svc
}

func mustEvaluate(t *testing.T, svc *Service, raw string) *model.Verdict {
	t.Helper()
	cand := candidate.Classify(raw)
	require.True(t, cand.IsURL())
	v := svc.Evaluate(context.Background(), cand)
	require.NotNil(t, v)
	return v
}

func resultFor(v *model.Verdict, src model.Source) (model.ProviderResult, bool) {
	for _, r := range v.Results {
		if r.Source == src {
			return r, true
		}
	}
	return model.ProviderResult{}, false
}

func TestBlacklistedURLIsUnsafeWithoutProviders(t *testing.T) {
	// No provider keys at all: blacklist membership alone condemns the URL.
	svc := newTestService(t, testConfig(t), "", "", "", "")

	v := mustEvaluate(t, svc, "http://evil.test/path")
	assert.Equal(t, model.SafetyUnsafe, v.Safety)

	bl, ok := resultFor(v, model.SourceBlacklist)
	require.True(t, ok, "blacklist result must be present")
	assert.Equal(t, model.StatusMatchedUnsafe, bl.Status)
}

func TestBlacklistShortCircuitSkipsProviderWait(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer slow.Close()
	defer close(release)

	cfg := testConfig(t)
	cfg.EvalTimeout = 3 * time.Second
	svc := newTestService(t, cfg, slow.URL, slow.URL, "k", "k")

	start := time.Now()
	v := mustEvaluate(t, svc, "http://evil.test/")
	assert.Equal(t, model.SafetyUnsafe, v.Safety)
	assert.Less(t, time.Since(start), time.Second,
		"blacklist hit must not wait on slow providers")
}

func TestBothProvidersSafeYieldsSafe(t *testing.T) {
	vt := newFakeProvider(vtClean)
	defer vt.Close()
	sb := newFakeProvider(sbClean)
	defer sb.Close()

	svc := newTestService(t, testConfig(t), vt.srv.URL, sb.srv.URL, "k", "k")

	v := mustEvaluate(t, svc, "http://example.com/")
	assert.Equal(t, model.SafetySafe, v.Safety)
	assert.Len(t, v.Results, 3)
}

func TestAnyProviderUnsafeYieldsUnsafe(t *testing.T) {
	tests := []struct {
		name   string
		vtBody string
		sbBody string
	}{
		{"virustotal flags", vtMalicious, sbClean},
		{"safebrowsing flags", vtClean, sbMalicious},
		{"both flag", vtMalicious, sbMalicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt := newFakeProvider(tt.vtBody)
			defer vt.Close()
			sb := newFakeProvider(tt.sbBody)
			defer sb.Close()

			svc := newTestService(t, testConfig(t), vt.srv.URL, sb.srv.URL, "k", "k")
			v := mustEvaluate(t, svc, "http://example.com/")
			assert.Equal(t, model.SafetyUnsafe, v.Safety)
		})
	}
}

func TestUnavailableProviderBlocksSafe(t *testing.T) {
	vt := newFakeProvider(vtClean)
	defer vt.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	svc := newTestService(t, testConfig(t), vt.srv.URL, broken.URL, "k", "k")

	v := mustEvaluate(t, svc, "http://example.com/")
	assert.Equal(t, model.SafetyUnknown, v.Safety, "one unavailable source must never yield safe")

	sbRes, ok := resultFor(v, model.SourceSafeBrowsing)
	require.True(t, ok)
	assert.Equal(t, model.StatusUnavailable, sbRes.Status)
}

func TestMissingKeysYieldUnknown(t *testing.T) {
	svc := newTestService(t, testConfig(t), "", "", "", "")

	v := mustEvaluate(t, svc, "http://example.com/")
	assert.Equal(t, model.SafetyUnknown, v.Safety)

	// Both providers are recorded as skipped for explainability.
	for _, src := range []model.Source{model.SourceVirusTotal, model.SourceSafeBrowsing} {
		res, ok := resultFor(v, src)
		require.True(t, ok)
		assert.Equal(t, model.StatusUnavailable, res.Status)
		assert.Equal(t, model.ReasonMissingAPIKey, res.Detail["reason"])
	}
}

func TestCacheHitSpendsNoQuota(t *testing.T) {
	vt := newFakeProvider(vtClean)
	defer vt.Close()
	sb := newFakeProvider(sbClean)
	defer sb.Close()

	svc := newTestService(t, testConfig(t), vt.srv.URL, sb.srv.URL, "k", "k")

	first := mustEvaluate(t, svc, "http://example.com/page")
	require.Equal(t, model.SafetySafe, first.Safety)
	require.Equal(t, int32(1), vt.Hits())
	require.Equal(t, int32(1), sb.Hits())

	// Same URL in a different spelling: one cache key, no provider spend.
	second := mustEvaluate(t, svc, "HTTP://Example.com:80/page")
	assert.Equal(t, model.SafetySafe, second.Safety)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), vt.Hits())
	assert.Equal(t, int32(1), sb.Hits())
	assert.Equal(t, first.Candidate.Normalized, second.Candidate.Normalized)
}

func TestConcurrentEvaluationsSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var hits int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		once.Do(func() { close(started) })
		<-release
		fmt.Fprint(w, vtClean)
	}))
	defer slow.Close()

	sb := newFakeProvider(sbClean)
	defer sb.Close()

	cfg := testConfig(t)
	cfg.EvalTimeout = 5 * time.Second
	svc := newTestService(t, cfg, slow.URL, sb.srv.URL, "k", "k")

	cand := candidate.Classify("http://example.com/")
	var wg sync.WaitGroup
	verdicts := make([]*model.Verdict, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = svc.Evaluate(context.Background(), cand)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond) // let the other callers join the flight
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits),
		"concurrent callers for one URL must share a single provider call")
	for _, v := range verdicts {
		require.NotNil(t, v)
		assert.Equal(t, model.SafetySafe, v.Safety)
	}
}

func TestDeadlineBoundsEvaluation(t *testing.T) {
	release := make(chan struct{})
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer hang.Close()
	defer close(release)

	cfg := testConfig(t)
	cfg.EvalTimeout = 300 * time.Millisecond
	svc := newTestService(t, cfg, hang.URL, hang.URL, "k", "k")

	start := time.Now()
	v := mustEvaluate(t, svc, "http://example.com/")
	elapsed := time.Since(start)

	assert.Equal(t, model.SafetyUnknown, v.Safety)
	assert.Less(t, elapsed, 2*time.Second, "evaluation must return near its deadline")

	for _, src := range []model.Source{model.SourceVirusTotal, model.SourceSafeBrowsing} {
		res, ok := resultFor(v, src)
		require.True(t, ok)
		assert.Equal(t, model.StatusUnavailable, res.Status)
	}
}

func TestOpaqueCandidateHasNoVerdict(t *testing.T) {
	svc := newTestService(t, testConfig(t), "", "", "", "")
	cand := candidate.Classify("not a url")
	assert.Nil(t, svc.Evaluate(context.Background(), cand))
}

func TestCombinePolicyIsCommutative(t *testing.T) {
	svc := newTestService(t, testConfig(t), "", "", "", "")
	cand := candidate.Classify("http://example.com/")

	bl := model.ProviderResult{Source: model.SourceBlacklist, Status: model.StatusInconclusive}
	vtSafe := model.ProviderResult{Source: model.SourceVirusTotal, Status: model.StatusConfirmedSafe}
	sbBad := model.ProviderResult{Source: model.SourceSafeBrowsing, Status: model.StatusMatchedUnsafe}

	a := svc.combine(cand, []model.ProviderResult{bl, vtSafe, sbBad})
	b := svc.combine(cand, []model.ProviderResult{bl, sbBad, vtSafe})
	assert.Equal(t, model.SafetyUnsafe, a.Safety)
	assert.Equal(t, a.Safety, b.Safety)
}

func TestStats(t *testing.T) {
	vt := newFakeProvider(vtClean)
	defer vt.Close()
	sb := newFakeProvider(sbClean)
	defer sb.Close()

	svc := newTestService(t, testConfig(t), vt.srv.URL, sb.srv.URL, "k", "k")
	mustEvaluate(t, svc, "http://example.com/")

	stats := svc.Stats()
	assert.Equal(t, 1, stats.CacheSize)
	assert.Equal(t, 128, stats.CacheCapacity)
	assert.Equal(t, 2, stats.BlacklistEntries)
	assert.False(t, stats.PersistentCacheEnabled)
	require.Len(t, stats.Providers, 2)
	assert.Equal(t, "virustotal", stats.Providers[0].Name)
	assert.Equal(t, "safebrowsing", stats.Providers[1].Name)
}
