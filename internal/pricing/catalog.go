package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCatalogURL is the OpenRouter public model list, whose
	// entries carry string-encoded per-token USD rates.
	DefaultCatalogURL = "https://openrouter.ai/api/v1/models"

	// DefaultCatalogTTL is how long a fetched catalog stays fresh.
	DefaultCatalogTTL = 24 * time.Hour

	// DefaultFetchTimeout bounds one catalog HTTP request.
	DefaultFetchTimeout = 10 * time.Second

	overridesHint = "set pricing.overrides in the config to price this model manually"

	maxCatalogBytes = 8 << 20
	flightKey       = "catalog"
)

// Wire format of the catalog document.
type catalogDoc struct {
	Data []catalogEntry `json:"data"`
}

type catalogEntry struct {
	ID      string         `json:"id"`
	Pricing catalogPricing `json:"pricing"`
}

type catalogPricing struct {
	Prompt          string `json:"prompt"`
	Completion      string `json:"completion"`
	InputCacheRead  string `json:"input_cache_read"`
	InputCacheWrite string `json:"input_cache_write"`
}

// CatalogService fetches and caches the remote pricing catalog. One
// instance is meant to be shared process-wide; concurrent cold-cache
// callers are coalesced into a single fetch.
type CatalogService struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	now        func() time.Time
	retryDelay func(attempt int) time.Duration

	mu        sync.Mutex
	catalog   map[string]Pricing
	fetchedAt time.Time

	group singleflight.Group
}

type CatalogOption func(*CatalogService)

// WithHTTPClient replaces the default client (and with it the fetch
// timeout).
func WithHTTPClient(client *http.Client) CatalogOption {
	return func(s *CatalogService) { s.client = client }
}

// WithTTL overrides DefaultCatalogTTL.
func WithTTL(ttl time.Duration) CatalogOption {
	return func(s *CatalogService) { s.ttl = ttl }
}

// WithClock overrides the time source used for TTL decisions.
func WithClock(now func() time.Time) CatalogOption {
	return func(s *CatalogService) { s.now = now }
}

// NewCatalogService builds a service for the given catalog URL.
func NewCatalogService(url string, opts ...CatalogOption) *CatalogService {
	s := &CatalogService{
		url:        url,
		client:     &http.Client{Timeout: DefaultFetchTimeout},
		ttl:        DefaultCatalogTTL,
		now:        time.Now,
		retryDelay: fetchRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce sync.Once
	defaultSvc  *CatalogService
)

// Default returns the process-wide catalog service, created on first
// use against DefaultCatalogURL.
func Default() *CatalogService {
	defaultOnce.Do(func() { defaultSvc = NewCatalogService(DefaultCatalogURL) })
	return defaultSvc
}

// Catalog returns the current catalog map, fetching it when the cached
// snapshot is absent or older than the TTL. Simultaneous callers during
// a cold cache share one fetch (and one failure); the fetch runs on the
// first caller's context. The returned map is shared and must not be
// mutated.
func (s *CatalogService) Catalog(ctx context.Context) (map[string]Pricing, error) {
	if c, ok := s.fresh(); ok {
		return c, nil
	}
	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		// A flight that just completed may have refreshed the snapshot.
		if c, ok := s.fresh(); ok {
			return c, nil
		}
		fetched, err := s.fetchCatalog(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.catalog = fetched
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Pricing), nil
}

func (s *CatalogService) fresh() (map[string]Pricing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil || s.now().Sub(s.fetchedAt) > s.ttl {
		return nil, false
	}
	return s.catalog, true
}

// Age reports how long ago the snapshot was fetched, false when none
// has been.
func (s *CatalogService) Age() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchedAt.IsZero() {
		return 0, false
	}
	return s.now().Sub(s.fetchedAt), true
}

// Reset drops the cached snapshot so the next Catalog call fetches
// again. Intended for tests.
func (s *CatalogService) Reset() {
	s.mu.Lock()
	s.catalog = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
	s.group.Forget(flightKey)
}

const (
	fetchRetries   = 2
	fetchRetryBase = 500 * time.Millisecond
	fetchRetryMax  = 4 * time.Second
	jitterPercent  = 30
)

func (s *CatalogService) fetchCatalog(ctx context.Context) (map[string]Pricing, error) {
	for attempt := 0; ; attempt++ {
		catalog, err := s.fetchOnce(ctx)
		if err == nil {
			return catalog, nil
		}
		if attempt >= fetchRetries || !isRetryableFetch(err) {
			return nil, err
		}
		if serr := sleepWithContext(ctx, s.retryDelay(attempt)); serr != nil {
			return nil, err
		}
	}
}

func (s *CatalogService) fetchOnce(ctx context.Context) (map[string]Pricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("pricing: bad catalog url %q: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("pricing: catalog fetch timed out after %s: %w; %s", s.client.Timeout, err, overridesHint)
		}
		return nil, fmt.Errorf("pricing: catalog fetch failed: %w; %s", err, overridesHint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: s.url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("pricing: reading catalog body: %w; %s", err, overridesHint)
	}
	var doc catalogDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("pricing: catalog body is not valid JSON: %w; %s", err, overridesHint)
	}
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("pricing: catalog contained no entries; %s", overridesHint)
	}
	return buildCatalog(doc.Data), nil
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("pricing: catalog returned HTTP %d from %s; %s", e.code, e.url, overridesHint)
}

func isRetryableFetch(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return !ne.Timeout()
	}
	return false
}

// fetchRetryDelay returns the backoff for attempt n (0-indexed) with
// ±jitterPercent% jitter.
func fetchRetryDelay(attempt int) time.Duration {
	delay := fetchRetryBase
	for range attempt {
		delay *= 2
	}
	if delay > fetchRetryMax {
		delay = fetchRetryMax
	}
	jitter := time.Duration(rand.IntN(int(delay)*jitterPercent*2/100)) - time.Duration(int(delay)*jitterPercent/100)
	return delay + jitter
}

// sleepWithContext sleeps for d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func buildCatalog(entries []catalogEntry) map[string]Pricing {
	catalog := make(map[string]Pricing, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		input, ok := parseRate(e.Pricing.Prompt)
		if !ok {
			continue
		}
		output, ok := parseRate(e.Pricing.Completion)
		if !ok {
			continue
		}
		p := Pricing{Input: input, Output: output}
		// A bad cache rate drops only that field; the entry's base
		// rates stay usable.
		if r, ok := parseOptionalRate(e.Pricing.InputCacheRead); ok {
			p.CacheRead = r
		}
		if w, ok := parseOptionalRate(e.Pricing.InputCacheWrite); ok {
			p.CacheWrite = w
		}
		catalog[e.ID] = p
	}
	return catalog
}

func parseRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func parseOptionalRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	return parseRate(s)
}
