package engine

import (
	"context"
	"errors"

	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/internal/wrapper"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// ErrNoAdSource is returned for a break without a tag URI or inline data
var ErrNoAdSource = errors.New("break has no ad source")

// ResolveSchedule fetches and parses a VMAP document
func (e *Engine) ResolveSchedule(ctx context.Context, url string) (*vast.Schedule, error) {
	if e.isDestroyed() {
		return nil, ErrDestroyed
	}
	doc, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	s, err := vast.ParseSchedule(doc)
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Str("url", url).Int("breaks", len(s.Entries)).Msg("Schedule resolved")
	return s, nil
}

// ResolveBreak resolves the ad source of a break into a pod. Members whose
// creative type the break does not allow are dropped with error 200, and a
// break that disallows multiple ads keeps only its first member. A failed
// break pings its error tracking.
func (e *Engine) ResolveBreak(ctx context.Context, entry *vast.ScheduleEntry) (*pod.Pod, error) {
	var p *pod.Pod
	var err error
	switch {
	case entry.InlineVAST != nil:
		p, err = e.resolveDocument(ctx, entry.InlineVAST, entry.FollowRedirects)
	case entry.AdTagURI != "":
		p, err = e.resolveTag(ctx, entry.AdTagURI, entry.FollowRedirects)
	default:
		err = ErrNoAdSource
	}
	if err == nil {
		err = e.fitBreak(ctx, entry, p)
	}

	if err != nil {
		if !errors.Is(err, wrapper.ErrSuperseded) {
			e.disp.PingError(ctx, entry.Tracking.Error, vast.CodeOf(err))
		}
		return nil, err
	}
	return p, nil
}

func (e *Engine) fitBreak(ctx context.Context, entry *vast.ScheduleEntry, p *pod.Pod) error {
	dropped, err := p.Filter(func(m *pod.Member) bool {
		return entry.HasBreakType(m.Type.String())
	})
	kept := make(map[string]bool, p.Len())
	if err == nil {
		for _, m := range p.Members {
			kept[m.Key] = true
		}
	}
	for _, m := range dropped {
		// the other half of a split hybrid ad may still play
		if kept[m.Key] {
			continue
		}
		e.disp.DispatchError(ctx, m.Target(), vast.CodeUnexpectedAdType)
	}
	if err != nil {
		return err
	}
	if len(dropped) > 0 {
		e.logger.Debug().Str("break_id", entry.BreakID).Int("dropped", len(dropped)).Msg("Members outside the break type dropped")
	}

	if !entry.AllowMultipleAds && p.Len() > 1 {
		first, fallback := p.Primary(), p.Fallback
		_, err = p.Filter(func(m *pod.Member) bool { return m == first || m == fallback })
	}
	return err
}

// TrackBreak pings the breakStart, breakEnd or error tracking of a break.
// code is substituted into error URLs and ignored for other events.
func (e *Engine) TrackBreak(ctx context.Context, entry *vast.ScheduleEntry, event string, code vast.ErrorCode) {
	switch event {
	case vast.BreakEventStart:
		e.disp.PingURLs(ctx, event, entry.Tracking.BreakStart)
	case vast.BreakEventEnd:
		e.disp.PingURLs(ctx, event, entry.Tracking.BreakEnd)
	case vast.BreakEventError:
		e.disp.PingError(ctx, entry.Tracking.Error, code)
	}
}
