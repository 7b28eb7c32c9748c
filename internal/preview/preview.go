// Package preview fetches product metadata (title, image, price) from a
// product page so new wish items can be pre-filled.
//
// Only public http(s) hosts are contacted: every address the dialer
// connects to is checked, which also covers redirects and DNS rebinding.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	ErrUnsupportedScheme = errors.New("only HTTP/HTTPS URLs are allowed")
	ErrInvalidURL        = errors.New("invalid URL")
	ErrPrivateHost       = errors.New("requests to private hosts are blocked")
)

const (
	maxBodyBytes    = 2 << 20
	maxCacheEntries = 1024
	userAgent       = "Mozilla/5.0 (compatible; wishlist-preview/1.0)"
)

// Metadata is what a product page yielded. Any field may be empty.
type Metadata struct {
	Title     string              `json:"title"`
	ImageURL  string              `json:"imageUrl"`
	Price     decimal.NullDecimal `json:"price"`
	Currency  string              `json:"currency"`
	SourceURL string              `json:"sourceUrl"`
	FromCache bool                `json:"fromCache"`
}

type cacheEntry struct {
	meta      Metadata
	fetchedAt time.Time
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	maxCache int
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Fetcher.
type Option func(*fetcherOptions)

type fetcherOptions struct {
	cacheTTL     time.Duration
	rps          float64
	timeout      time.Duration
	allowPrivate bool
}

// WithCacheTTL sets how long a fetched preview is reused.
func WithCacheTTL(d time.Duration) Option {
	return func(o *fetcherOptions) { o.cacheTTL = d }
}

// WithRateLimit caps outbound fetches per second.
func WithRateLimit(rps float64) Option {
	return func(o *fetcherOptions) { o.rps = rps }
}

// WithTimeout bounds a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(o *fetcherOptions) { o.timeout = d }
}

// AllowPrivateHosts disables the public-address check. Tests only.
func AllowPrivateHosts() Option {
	return func(o *fetcherOptions) { o.allowPrivate = true }
}

// NewFetcher creates a Fetcher with a guarded HTTP client.
func NewFetcher(opts ...Option) *Fetcher {
	o := fetcherOptions{cacheTTL: 24 * time.Hour, rps: 2, timeout: 7 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := &net.Dialer{Timeout: 3 * time.Second}
	if !o.allowPrivate {
		dialer.Control = guardDial
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: o.timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   o.timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return checkScheme(req.URL)
			},
		},
		limiter: rate.NewLimiter(rate.Limit(o.rps), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "link-preview",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// Rejected URLs and client errors say nothing about our
			// ability to reach the outside world.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrPrivateHost) ||
					errors.Is(err, ErrUnsupportedScheme) || errors.Is(err, errClientStatus)
			},
		}),
		cacheTTL: o.cacheTTL,
		maxCache: maxCacheEntries,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// guardDial rejects connections to non-public addresses after DNS
// resolution.
func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return ErrPrivateHost
	}
	return nil
}

// blockedPrefixes are non-routable ranges the net.IP helpers do not cover.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // shared address space (CGNAT)
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"), // reserved, includes broadcast
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func isPublicIP(ip net.IP) bool {
	if ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrUnsupportedScheme
	}
	if u.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}

var errClientStatus = errors.New("client error status")

// get performs one request and parses the page.
func (f *Fetcher) get(req *http.Request) (*Metadata, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPrivateHost):
			return nil, ErrPrivateHost
		case errors.Is(err, ErrUnsupportedScheme):
			return nil, ErrUnsupportedScheme
		}
		return nil, fmt.Errorf("failed to fetch metadata from URL: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("failed to fetch metadata from URL: status %d: %w", resp.StatusCode, errClientStatus)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("failed to fetch metadata from URL: status %d", resp.StatusCode)
	}

	meta, err := Extract(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// store caches meta under key. When the cache is full, expired entries are
// dropped first, then the oldest one.
func (f *Fetcher) store(key string, meta Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if _, ok := f.cache[key]; !ok && len(f.cache) >= f.maxCache {
		var (
			oldestKey string
			oldestAt  time.Time
		)
		for k, e := range f.cache {
			if now.Sub(e.fetchedAt) >= f.cacheTTL {
				delete(f.cache, k)
				continue
			}
			if oldestKey == "" || e.fetchedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.fetchedAt
			}
		}
		if len(f.cache) >= f.maxCache {
			delete(f.cache, oldestKey)
		}
	}
	f.cache[key] = cacheEntry{meta: meta, fetchedAt: now}
}

// Fetch returns metadata for rawURL, from cache when fresh.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ErrInvalidURL
	}
	if err := checkScheme(u); err != nil {
		return nil, err
	}
	key := u.String()

	f.mu.Lock()
	entry, ok := f.cache[key]
	if ok && f.now().Sub(entry.fetchedAt) >= f.cacheTTL {
		delete(f.cache, key)
		ok = false
	}
	f.mu.Unlock()
	if ok {
		meta := entry.meta
		meta.FromCache = true
		return &meta, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for preview rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, ErrInvalidURL
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")

	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.get(req)
	})
	if err != nil {
		return nil, err
	}
	meta := out.(*Metadata)
	meta.SourceURL = key

	f.store(key, *meta)

	return meta, nil
}
