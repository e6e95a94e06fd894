package tracking

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/chain"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Request is one batch of pings for a single event. URLs are in dispatch order.
type Request struct {
	Event     string
	URLs      []string
	ErrorCode vast.ErrorCode // substituted for [ERRORCODE], 0 when not an error
}

// Pinger fires tracking pings. Implementations must not stop on a failing URL.
type Pinger interface {
	Ping(ctx context.Context, req Request)
}

// PingerFunc adapts a function to the Pinger interface
type PingerFunc func(ctx context.Context, req Request)

// Ping calls f(ctx, req)
func (f PingerFunc) Ping(ctx context.Context, req Request) {
	f(ctx, req)
}

// Target identifies the ad an event is dispatched for.
type Target struct {
	// Template is the merged template used when the ad has no registry link.
	Template *vast.AdTemplate
	Key      string
	Registry *chain.Registry
	// Creative limits per-event lookups to one half of a split hybrid ad.
	Creative Creative
}

// Dispatcher resolves events to URLs and hands them to a Pinger.
type Dispatcher struct {
	pinger Pinger
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil pinger drops every ping.
func NewDispatcher(pinger Pinger) *Dispatcher {
	if pinger == nil {
		pinger = PingerFunc(func(context.Context, Request) {})
	}
	return &Dispatcher{
		pinger: pinger,
		logger: log.With().Str("component", "tracking").Logger(),
	}
}

// Dispatch pings e for the target ad and each of its wrapper ancestors. Every
// link contributes its own URLs once, the ad first and the root last.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, e Event) {
	urls := Collect(target, e)
	if len(urls) == 0 {
		return
	}
	d.logger.Debug().
		Str("event", e.String()).
		Str("ad_key", target.Key).
		Int("urls", len(urls)).
		Msg("Dispatching tracking event")
	d.pinger.Ping(ctx, Request{Event: e.String(), URLs: urls})
}

// DispatchError pings the error URLs of the target ad and each ancestor with
// code substituted.
func (d *Dispatcher) DispatchError(ctx context.Context, target Target, code vast.ErrorCode) {
	d.sendError(ctx, CollectErrors(target), code)
}

// ReportError pings docURLs, then the error URLs of key and its ancestors.
// It lets the dispatcher serve as the wrapper resolver's reporter.
func (d *Dispatcher) ReportError(ctx context.Context, reg *chain.Registry, key string, docURLs []string, code vast.ErrorCode) {
	urls := append([]string(nil), docURLs...)
	if reg != nil && key != "" {
		for _, l := range reg.Chain(key) {
			urls = append(urls, l.ErrorURLs...)
		}
	}
	d.sendError(ctx, urls, code)
}

// PingURLs sends ad-hoc URLs under an event name, such as VMAP break tracking.
func (d *Dispatcher) PingURLs(ctx context.Context, event string, urls []string) {
	if len(urls) == 0 {
		return
	}
	d.pinger.Ping(ctx, Request{Event: event, URLs: urls})
}

// PingError sends ad-hoc error URLs, such as VMAP break error tracking, with
// code substituted.
func (d *Dispatcher) PingError(ctx context.Context, urls []string, code vast.ErrorCode) {
	d.sendError(ctx, urls, code)
}

func (d *Dispatcher) sendError(ctx context.Context, urls []string, code vast.ErrorCode) {
	if len(urls) == 0 {
		return
	}
	d.logger.Debug().Int("code", int(code)).Int("urls", len(urls)).Msg("Dispatching error")
	d.pinger.Ping(ctx, Request{Event: EventError.String(), URLs: urls, ErrorCode: code})
}

// Collect returns every URL a dispatch of e would ping for target, the ad
// first and the root wrapper last.
func Collect(target Target, e Event) []string {
	links := chainOf(target)
	if len(links) == 0 || links[0].Template == nil {
		return urlsFor(target.Template, e, target.Creative)
	}
	var out []string
	for _, l := range links {
		out = append(out, urlsFor(l.Template, e, target.Creative)...)
	}
	return out
}

// CollectErrors returns the error URLs of target and each of its ancestors.
func CollectErrors(target Target) []string {
	links := chainOf(target)
	if len(links) == 0 {
		return errorURLs(orEmpty(target.Template))
	}
	var urls []string
	for _, l := range links {
		urls = append(urls, l.ErrorURLs...)
	}
	return urls
}

func chainOf(target Target) []chain.Link {
	if target.Registry == nil || target.Key == "" {
		return nil
	}
	return target.Registry.Chain(target.Key)
}

func orEmpty(t *vast.AdTemplate) *vast.AdTemplate {
	if t == nil {
		return &vast.AdTemplate{}
	}
	return t
}
