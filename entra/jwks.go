package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hvalfangst/heroes-oauth/internal/observability"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultCacheTTL     = time.Hour
	maxResponseBytes    = 1 << 20
)

// FetcherConfig configures a Fetcher
type FetcherConfig struct {
	Authority  string // e.g. https://login.microsoftonline.com/{tenant}
	HTTPClient *http.Client
	Timeout    time.Duration
	CacheTTL   time.Duration
	Metrics    observability.Metrics
	Logger     *zap.Logger
}

// Fetcher discovers the tenant's jwks_uri and caches the published signing keys.
// The current KeySet is an immutable snapshot swapped atomically on refresh.
type Fetcher struct {
	discoveryURL string
	client       *http.Client
	timeout      time.Duration
	ttl          time.Duration
	metrics      observability.Metrics
	logger       *zap.Logger

	current atomic.Pointer[KeySet]
	group   singleflight.Group
	now     func() time.Time
}

type openIDConfiguration struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys *[]json.RawMessage `json:"keys"`
}

// NewFetcher creates a Fetcher. No network traffic happens until the first lookup.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Fetcher{
		discoveryURL: strings.TrimSuffix(cfg.Authority, "/") + "/v2.0/.well-known/openid-configuration",
		client:       cfg.HTTPClient,
		timeout:      cfg.Timeout,
		ttl:          cfg.CacheTTL,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// SigningKeys returns the cached KeySet while it is fresh, refreshing otherwise
func (f *Fetcher) SigningKeys(ctx context.Context) (*KeySet, error) {
	if ks := f.current.Load(); ks != nil && f.now().Before(ks.ExpiresAt) {
		return ks, nil
	}
	return f.Refresh(ctx)
}

// Cached returns the current snapshot without any network traffic. It may be nil or stale.
func (f *Fetcher) Cached() *KeySet {
	return f.current.Load()
}

// Refresh fetches a new KeySet and installs it. Concurrent callers share a
// single in-flight fetch, which is detached from any one caller's cancellation
// and bounded by the configured timeout.
func (f *Fetcher) Refresh(ctx context.Context) (*KeySet, error) {
	// DoChan runs the fetch on its own goroutine; it outlives a caller that
	// gives up and ends when the fetch timeout does.
	ch := f.group.DoChan("jwks", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		ks, err := f.fetch(fetchCtx)
		if err != nil {
			f.metrics.RecordKeySetRefresh("error")
			f.logger.Warn("signing key refresh failed",
				zap.String("discovery_url", f.discoveryURL),
				zap.Error(err),
			)
			return nil, err
		}

		f.current.Store(ks)
		f.metrics.RecordKeySetRefresh("ok")
		f.logger.Info("signing keys refreshed",
			zap.String("jwks_uri", ks.JWKSURI),
			zap.Int("keys", ks.Len()),
			zap.Int("unusable_keys", len(ks.invalid)),
		)
		return ks, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, newError(KindDiscovery, "caller gave up waiting for key refresh", ctx.Err())
	}
}

func (f *Fetcher) fetch(ctx context.Context) (*KeySet, error) {
	var oidc openIDConfiguration
	if err := f.getJSON(ctx, f.discoveryURL, &oidc); err != nil {
		return nil, err
	}
	if oidc.JWKSURI == "" {
		return nil, newError(KindMalformedResponse, "openid configuration has no jwks_uri", nil)
	}

	var doc jwksDocument
	if err := f.getJSON(ctx, oidc.JWKSURI, &doc); err != nil {
		return nil, err
	}
	if doc.Keys == nil {
		return nil, newError(KindMalformedResponse, "JWKS document has no keys array", nil)
	}

	fetchedAt := f.now()
	return buildKeySet(oidc.JWKSURI, *doc.Keys, fetchedAt, fetchedAt.Add(f.ttl), f.logger), nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newError(KindDiscovery, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return newError(KindDiscovery, fmt.Sprintf("GET %s failed", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(KindDiscovery, fmt.Sprintf("GET %s returned status %d", url, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(KindDiscovery, fmt.Sprintf("reading %s failed", url), err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return newError(KindMalformedResponse, fmt.Sprintf("%s is not valid JSON", url), err)
	}
	return nil
}
