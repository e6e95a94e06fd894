// Package fetch retrieves VAST and VMAP documents over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thenexusengine/tne_vastplayer/internal/cache"
	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Fetch statuses recorded in metrics
const (
	StatusOK        = "ok"
	StatusCached    = "cached"
	StatusHTTPError = "http_error"
	StatusTransport = "transport_error"
	StatusTooLarge  = "too_large"
	StatusRejected  = "circuit_open"
	StatusParse     = "parse_error"
)

// ErrBodyTooLarge is returned when a document exceeds MaxBodyBytes
var ErrBodyTooLarge = errors.New("document body too large")

// Config configures an HTTPFetcher
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	CacheTTL     time.Duration
	UserAgent    string
	Breaker      *BreakerConfig

	// AllowPrivateHosts lets tags point at internal addresses. Off in production.
	AllowPrivateHosts bool
}

// DefaultConfig returns the fetcher defaults
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
		CacheTTL:     cache.DefaultTTL,
		UserAgent:    "tne-vastplayer/1.0",
	}
}

// HTTPFetcher fetches tag URLs with caching, request coalescing and a
// circuit breaker in front of the ad servers.
type HTTPFetcher struct {
	client  *http.Client
	store   cache.Store
	group   singleflight.Group
	breaker *Breaker
	metrics *metrics.Metrics
	cfg     Config
	logger  zerolog.Logger
}

// NewHTTPFetcher creates a fetcher. store and m may be nil.
func NewHTTPFetcher(cfg Config, store cache.Store, m *metrics.Metrics) *HTTPFetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	bc := DefaultBreakerConfig()
	if cfg.Breaker != nil {
		copied := *cfg.Breaker
		bc = &copied
	}
	userHook := bc.OnStateChange
	bc.OnStateChange = func(from, to string) {
		m.RecordFetchCircuitStateChange(from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivateHosts {
		dialer.Control = dialControl
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		store:   store,
		breaker: NewBreaker(bc),
		metrics: m,
		cfg:     cfg,
		logger:  log.With().Str("component", "fetch").Logger(),
	}
}

// Breaker exposes the circuit breaker for health reporting
func (f *HTTPFetcher) Breaker() *Breaker {
	return f.breaker
}

// Fetch returns the parsed document behind rawURL. Transport failures carry
// vast.CodeWrapperTimeout, unparsable bodies vast.CodeXMLParsing.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (vast.Node, error) {
	if err := validateURL(rawURL, f.cfg.AllowPrivateHosts); err != nil {
		return nil, vast.NewError(vast.CodeWrapperTimeout, "invalid tag URL", err)
	}

	if body, ok := f.cached(ctx, rawURL); ok {
		if doc, err := vast.ParseDocument(body); err == nil {
			f.metrics.RecordFetch(StatusCached, 0)
			return doc, nil
		}
	}

	ch := f.group.DoChan(rawURL, func() (interface{}, error) {
		// detached so one cancelled caller does not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.Timeout)
		defer cancel()
		return f.download(fctx, rawURL)
	})

	var body []byte
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		body = res.Val.([]byte)
	}

	doc, err := vast.ParseDocument(body)
	if err != nil {
		f.metrics.RecordFetch(StatusParse, 0)
		return nil, err
	}

	if f.store != nil {
		if err := f.store.Set(ctx, rawURL, body, f.cfg.CacheTTL); err != nil {
			f.logger.Debug().Err(err).Str("url", rawURL).Msg("Failed to cache document")
		}
	}
	return doc, nil
}

func (f *HTTPFetcher) cached(ctx context.Context, rawURL string) ([]byte, bool) {
	if f.store == nil {
		return nil, false
	}
	body, ok, err := f.store.Get(ctx, rawURL)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", rawURL).Msg("Document cache lookup failed")
		return nil, false
	}
	f.metrics.RecordCacheLookup(ok)
	return body, ok
}

func (f *HTTPFetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	var body []byte
	status := StatusOK

	err := f.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			status = StatusTransport
			return err
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		req.Header.Set("Accept", "application/xml, text/xml, */*")

		resp, err := f.client.Do(req)
		if err != nil {
			status = StatusTransport
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			status = StatusHTTPError
			io.Copy(io.Discard, io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
			return fmt.Errorf("ad server returned status %d", resp.StatusCode)
		}

		body, err = readBody(resp.Body, f.cfg.MaxBodyBytes)
		if err != nil {
			status = StatusTransport
			return err
		}
		if int64(len(body)) > f.cfg.MaxBodyBytes {
			status = StatusTooLarge
			return ErrBodyTooLarge
		}
		return nil
	})

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyFetches) {
		status = StatusRejected
	}
	f.metrics.RecordFetch(status, time.Since(start))

	if err != nil {
		f.logger.Warn().Err(err).Str("url", rawURL).Str("status", status).Msg("Tag fetch failed")
		return nil, vast.NewError(vast.CodeWrapperTimeout, "failed to fetch "+rawURL, err)
	}
	return body, nil
}

func validateURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	if !allowPrivate {
		return checkHost(u.Hostname())
	}
	return nil
}
