// Package ping sends tracking pings in the background.
package ping

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// URL macros substituted before every ping
const (
	MacroErrorCode    = "[ERRORCODE]"
	MacroCacheBusting = "[CACHEBUSTING]"
	MacroTimestamp    = "[TIMESTAMP]"
)

// Config configures an HTTPPinger
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	UserAgent string
}

// DefaultConfig returns the pinger defaults
func DefaultConfig() Config {
	return Config{
		Workers:   16,
		QueueSize: 1024,
		Timeout:   3 * time.Second,
		UserAgent: "tne-vastplayer/1.0",
	}
}

// HTTPPinger sends each URL as a GET from a bounded worker pool. Bodies are
// discarded and failures only logged.
type HTTPPinger struct {
	client  *http.Client
	pool    *pond.WorkerPool
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// NewHTTPPinger creates a pinger. m may be nil.
func NewHTTPPinger(cfg Config, m *metrics.Metrics) *HTTPPinger {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	return &HTTPPinger{
		client:  &http.Client{Timeout: cfg.Timeout},
		pool:    pond.New(cfg.Workers, cfg.QueueSize),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("component", "ping").Logger(),
	}
}

// Ping submits every URL of req. The pings outlive ctx cancellation but
// keep its values.
func (p *HTTPPinger) Ping(ctx context.Context, req tracking.Request) {
	ctx = context.WithoutCancel(ctx)
	for _, raw := range req.URLs {
		target := Expand(raw, req.ErrorCode, p.now())
		event := req.Event
		if !p.pool.TrySubmit(func() { p.send(ctx, event, target) }) {
			p.metrics.RecordPing(event, false)
			p.logger.Warn().Str("event", event).Str("url", target).Msg("Ping queue full, dropping ping")
		}
	}
}

func (p *HTTPPinger) send(ctx context.Context, event, target string) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := p.get(ctx, target)
	p.metrics.RecordPing(event, err == nil)
	if err != nil {
		p.logger.Debug().Err(err).Str("event", event).Str("url", target).Msg("Ping failed")
	}
}

func (p *HTTPPinger) get(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting pings and waits for queued ones
func (p *HTTPPinger) Close() {
	p.pool.StopAndWait()
}

// Expand substitutes the URL macros. code is only substituted when set.
func Expand(raw string, code vast.ErrorCode, now time.Time) string {
	if !strings.Contains(raw, "[") {
		return raw
	}
	out := raw
	if code != 0 {
		out = strings.ReplaceAll(out, MacroErrorCode, strconv.Itoa(int(code)))
	}
	out = strings.ReplaceAll(out, MacroCacheBusting, cacheBuster())
	out = strings.ReplaceAll(out, MacroTimestamp, url.QueryEscape(now.UTC().Format(time.RFC3339)))
	return out
}

func cacheBuster() string {
	return fmt.Sprintf("%08d", rand.Intn(100000000))
}
