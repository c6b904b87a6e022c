// Package provider implements the rate-limited clients for external URL
// reputation services. A client turns a candidate into exactly one
// ProviderResult: every failure mode (quota, timeout, transport, malformed
// payload) surfaces as status unavailable with the cause in the detail, never
// as an error to the caller.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/secureqr/qr-sentinel/internal/model"
)

const (
	retryBackoffBase  = 200 * time.Millisecond
	maxRequestTimeout = 5 * time.Second
	deadlineCushion   = 50 * time.Millisecond
)

// QueryFunc issues one provider request and maps the response into the
// normalized status vocabulary. Failures are reported as *QueryError.
type QueryFunc func(ctx context.Context, cand model.Candidate) (model.Status, map[string]interface{}, error)

// QueryError classifies a failed provider query for the retry policy.
type QueryError struct {
	Reason    string // model.Reason* constant
	Retryable bool
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	Name       string
	Source     model.Source
	APIKey     string
	RatePerMin float64
	Burst      int
	Query      QueryFunc
}

// Client wraps one external reputation provider behind its own token bucket.
// The budget is owned exclusively by this client; acquisition never blocks
// past the caller's deadline.
type Client struct {
	name       string
	source     model.Source
	hasKey     bool
	ratePerMin float64
	burst      int
	limiter    *rate.Limiter
	query      QueryFunc

	mu        sync.Mutex
	callTimes []int64
}

// New builds a client. A client without an API key stays registered for
// reporting but is never queried.
func New(opts Options) *Client {
	return &Client{
		name:       opts.Name,
		source:     opts.Source,
		hasKey:     opts.APIKey != "",
		ratePerMin: opts.RatePerMin,
		burst:      opts.Burst,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerMin/60.0), opts.Burst),
		query:      opts.Query,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Source returns the provider's result source tag.
func (c *Client) Source() model.Source { return c.source }

// Enabled reports whether the provider has an API key and may be queried.
func (c *Client) Enabled() bool { return c.hasKey }

// Check runs the provider query for a candidate under the context deadline.
// It never returns an error; the result status reflects any failure.
func (c *Client) Check(ctx context.Context, cand model.Candidate) model.ProviderResult {
	start := time.Now()

	if !c.hasKey {
		return c.unavailable(start, model.ReasonMissingAPIKey, "no API key configured")
	}

	if reason, ok := c.acquire(ctx); !ok {
		return c.unavailable(start, reason, "rate budget exhausted before deadline")
	}
	c.recordCall()

	status, detail, err := c.queryWithRetry(ctx, cand)
	if err != nil {
		var qe *QueryError
		if errors.As(err, &qe) {
			log.Printf("[provider] %s failed for %s: %v", c.name, cand.Normalized, qe)
			return c.unavailable(start, qe.Reason, qe.Err.Error())
		}
		log.Printf("[provider] %s failed for %s: %v", c.name, cand.Normalized, err)
		return c.unavailable(start, model.ReasonTransportError, err.Error())
	}

	return model.ProviderResult{
		Source:    c.source,
		Status:    status,
		Detail:    detail,
		LatencyMS: time.Since(start).Milliseconds(),
		FetchedAt: start,
	}
}

// acquire takes one token from the budget, waiting only as long as the token
// will arrive before the context deadline. Returns the unavailability reason
// on failure.
func (c *Client) acquire(ctx context.Context) (string, bool) {
	rsv := c.limiter.Reserve()
	if !rsv.OK() {
		return model.ReasonRateLimited, false
	}
	delay := rsv.Delay()
	if delay == 0 {
		return "", true
	}
	if dl, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(dl) {
		rsv.Cancel()
		return model.ReasonRateLimited, false
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return "", true
	case <-ctx.Done():
		rsv.Cancel()
		return model.ReasonTimeout, false
	}
}

// queryWithRetry issues the query, retrying once with backoff when the error
// is retryable and the deadline allows.
func (c *Client) queryWithRetry(ctx context.Context, cand model.Candidate) (model.Status, map[string]interface{}, error) {
	status, detail, err := c.attempt(ctx, cand)
	if err == nil {
		return status, detail, nil
	}

	var qe *QueryError
	if !errors.As(err, &qe) || !qe.Retryable {
		return "", nil, err
	}
	if dl, ok := ctx.Deadline(); ok && time.Now().Add(retryBackoffBase+deadlineCushion).After(dl) {
		return "", nil, err
	}

	t := time.NewTimer(retryBackoffBase)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return "", nil, err
	}

	return c.attempt(ctx, cand)
}

// attempt runs one query with a request timeout strictly under the remaining
// deadline.
func (c *Client) attempt(ctx context.Context, cand model.Candidate) (model.Status, map[string]interface{}, error) {
	timeout := maxRequestTimeout
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl) - deadlineCushion
		if remaining <= 0 {
			return "", nil, &QueryError{Reason: model.ReasonTimeout, Err: context.DeadlineExceeded}
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.query(attemptCtx, cand)
}

func (c *Client) unavailable(start time.Time, reason, cause string) model.ProviderResult {
	return model.ProviderResult{
		Source: c.source,
		Status: model.StatusUnavailable,
		Detail: map[string]interface{}{
			"reason": reason,
			"cause":  cause,
		},
		LatencyMS: time.Since(start).Milliseconds(),
		FetchedAt: start,
	}
}

func (c *Client) recordCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callTimes = append(c.callTimes, time.Now().Unix())
	// Trim entries older than the stats window.
	cutoff := time.Now().Unix() - 60
	valid := c.callTimes[:0]
	for _, t := range c.callTimes {
		if t > cutoff {
			valid = append(valid, t)
		}
	}
	c.callTimes = valid
}

// UsedLastMinute returns how many calls were made in the last minute.
func (c *Client) UsedLastMinute() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Unix() - 60
	count := 0
	for _, t := range c.callTimes {
		if t > cutoff {
			count++
		}
	}
	return count
}

// Status reports the client's state for the /stats endpoint.
func (c *Client) Status() model.ProviderStatus {
	return model.ProviderStatus{
		Name:        c.name,
		Enabled:     c.hasKey,
		HasKey:      c.hasKey,
		RatePerMin:  c.ratePerMin,
		Burst:       c.burst,
		UsedLastMin: c.UsedLastMinute(),
	}
}

// ErrNotFound marks a 404 from the provider. Adapters may treat it as "URL
// not yet known" rather than a hard failure.
var ErrNotFound = errors.New("resource not found")

var httpClient = &http.Client{Timeout: maxRequestTimeout}

// doJSON issues the request and decodes a JSON body into target, mapping
// transport and payload failures onto the retry taxonomy: network errors and
// 5xx are retryable, 4xx and malformed payloads are not.
func doJSON(req *http.Request, target interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return &QueryError{Reason: model.ReasonTransportError, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &QueryError{
			Reason:    model.ReasonTransportError,
			Retryable: true,
			Err:       fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &QueryError{Reason: model.ReasonTransportError, Retryable: false, Err: ErrNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &QueryError{
			Reason:    model.ReasonTransportError,
			Retryable: false,
			Err:       fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &QueryError{Reason: model.ReasonMalformedResponse, Retryable: false, Err: err}
	}
	return nil
}
