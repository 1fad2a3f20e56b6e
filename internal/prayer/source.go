package prayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"salahbot/pkg/logx"
)

// ErrAllProvidersExhausted means every enabled provider failed after its
// retries; nothing usable came back.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// FetchConfig controls per-provider retry behavior.
type FetchConfig struct {
	Timeout   time.Duration // per request, default 30s
	Retries   int           // per provider, default 3
	RetryBase time.Duration // first backoff, default 1s
	Disabled  []string      // provider names to skip
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	return c
}

// ProviderStats is a point-in-time view of one provider's outcomes.
type ProviderStats struct {
	Name        string        `json:"name"`
	Requests    uint64        `json:"requests"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
	LastSuccess time.Time     `json:"last_success,omitzero"`
	LastFailure time.Time     `json:"last_failure,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
}

type providerStats struct {
	requests    uint64
	successes   uint64
	failures    uint64
	lastLatency time.Duration
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// Client fetches raw prayer times from the closed provider list with
// retry, exponential backoff and priority fallback.
type Client struct {
	cfg       FetchConfig
	params    Params
	providers []Provider
	http      *http.Client
	log       logx.Logger

	mu    sync.Mutex
	stats map[string]*providerStats
}

func NewClient(cfg FetchConfig, params Params, log logx.Logger) *Client {
	return NewClientWithProviders(cfg, params, DefaultProviders(), log)
}

// NewClientWithProviders exists for tests that point providers at local
// HTTP servers.
func NewClientWithProviders(cfg FetchConfig, params Params, providers []Provider, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if isDisabled(cfg.Disabled, p.Name) {
			continue
		}
		enabled = append(enabled, p)
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	stats := make(map[string]*providerStats, len(enabled))
	for _, p := range enabled {
		stats[p.Name] = &providerStats{}
	}

	return &Client{
		cfg:       cfg,
		params:    params,
		providers: enabled,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log,
		stats:     stats,
	}
}

func isDisabled(disabled []string, name string) bool {
	for _, d := range disabled {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return true
		}
	}
	return false
}

// FetchWithFallback tries each provider in priority order, retrying each
// up to Retries times with exponential backoff on timeout/network/5xx
// errors. The first structurally parseable response wins.
func (c *Client) FetchWithFallback(ctx context.Context) (RawTimes, error) {
	return c.FetchAccepted(ctx, nil)
}

// FetchAccepted is FetchWithFallback with an acceptance check on each
// parsed response. A response the check rejects counts as that
// provider's failure and the next provider is tried, so one provider
// serving implausible data cannot mask a healthy one below it.
func (c *Client) FetchAccepted(ctx context.Context, accept func(RawTimes) error) (RawTimes, error) {
	if len(c.providers) == 0 {
		return RawTimes{}, ErrAllProvidersExhausted
	}

	var lastErr error
	for _, p := range c.providers {
		raw, err := c.fetchProvider(ctx, p, accept)
		if err == nil {
			c.log.Info("prayer times fetched", logx.String("provider", p.Name))
			return raw, nil
		}
		if ctx.Err() != nil {
			return RawTimes{}, ctx.Err()
		}
		lastErr = err
		c.log.Warn("provider failed; falling through",
			logx.String("provider", p.Name), logx.Err(err))
	}
	return RawTimes{}, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

func (c *Client) fetchProvider(ctx context.Context, p Provider, accept func(RawTimes) error) (RawTimes, error) {
	var lastErr error
	attempts := c.cfg.Retries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(c.cfg.RetryBase, attempt)
			c.log.Debug("provider retry scheduled",
				logx.String("provider", p.Name),
				logx.Int("attempt", attempt+1),
				logx.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return RawTimes{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, retryable, err := c.doRequest(ctx, p)
		if err == nil {
			raw.RawTimes.Source = p.Name
			if accept != nil {
				// A rejected response is this provider's failure; a
				// second request would return the same data, so move on.
				err = accept(raw.RawTimes)
				retryable = false
			}
		}
		if err == nil {
			c.record(p.Name, true, raw.latency, nil)
			return raw.RawTimes, nil
		}
		c.record(p.Name, false, raw.latency, err)
		lastErr = err
		if !retryable {
			break
		}
	}
	return RawTimes{}, fmt.Errorf("provider %s: %w", p.Name, lastErr)
}

type fetchResult struct {
	RawTimes
	latency time.Duration
}

// doRequest performs one HTTP round trip. The bool reports whether the
// failure is worth retrying (network/timeout/5xx yes, parse/4xx no).
func (c *Client) doRequest(ctx context.Context, p Provider) (fetchResult, bool, error) {
	u := p.Endpoint + "?" + p.Query(c.params).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fetchResult{}, false, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fetchResult{latency: latency}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return fetchResult{latency: latency}, retryable, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fetchResult{latency: latency}, true, err
	}

	raw, err := p.Parse(body)
	if err != nil {
		// A parse failure is a provider contract problem; retrying the
		// same endpoint rarely helps.
		return fetchResult{latency: latency}, false, err
	}
	return fetchResult{RawTimes: raw, latency: latency}, false, nil
}

func (c *Client) record(name string, ok bool, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats[name]
	if st == nil {
		st = &providerStats{}
		c.stats[name] = st
	}
	st.requests++
	if latency > 0 {
		st.lastLatency = latency
	}
	if ok {
		st.successes++
		st.lastSuccess = time.Now()
	} else {
		st.failures++
		st.lastFailure = time.Now()
		if err != nil {
			st.lastError = err.Error()
		}
	}
}

// Stats returns per-provider outcome counters in priority order.
func (c *Client) Stats() []ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		st := c.stats[p.Name]
		if st == nil {
			continue
		}
		out = append(out, ProviderStats{
			Name:        p.Name,
			Requests:    st.requests,
			Successes:   st.successes,
			Failures:    st.failures,
			LastLatency: st.lastLatency,
			LastSuccess: st.lastSuccess,
			LastFailure: st.lastFailure,
			LastError:   st.lastError,
		})
	}
	return out
}

// backoff grows exponentially from base with +-20% jitter.
func backoff(base time.Duration, retry int) time.Duration {
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > 30*time.Second {
			d = 30 * time.Second
			break
		}
	}
	j := (rand.Float64()*2 - 1) * 0.2
	d = time.Duration(float64(d) * (1 + j))
	if d < 0 {
		d = 0
	}
	return d
}
