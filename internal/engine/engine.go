// Package engine is the entry point of the ad engine. It resolves tags into
// pods, drives playback and keeps the chain registries that tracking
// cascades through.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/chain"
	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/internal/playback"
	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/internal/storage"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/internal/wrapper"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// ErrDestroyed is returned by every call after Destroy
var ErrDestroyed = errors.New("engine destroyed")

// Recorder persists finished resolutions
type Recorder interface {
	Record(ctx context.Context, rec storage.ResolutionRecord) error
}

// Config configures an Engine
type Config struct {
	// MaxWrapperDepth caps wrapper nesting. 0 means unlimited.
	MaxWrapperDepth int
	Pod             pod.Options
	Playback        playback.Config
}

// Deps are the collaborators of an Engine. Only Fetcher is required.
type Deps struct {
	Fetcher    wrapper.Fetcher
	Pinger     tracking.Pinger
	Controller playback.Controller
	Recorder   Recorder
	Metrics    *metrics.Metrics
}

type liveSession struct {
	registry *chain.Registry
	cancel   context.CancelFunc // nil once resolution finished
}

// Engine resolves and plays ads for one player
type Engine struct {
	cfg      Config
	fetcher  wrapper.Fetcher
	disp     *tracking.Dispatcher
	machine  *playback.Machine
	recorder Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*liveSession
	destroyed bool
}

// New creates an engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("engine requires a fetcher")
	}
	ctrl := deps.Controller
	if ctrl == nil {
		ctrl = playback.NewLogController()
	}

	ctx, cancel := context.WithCancel(context.Background())
	disp := tracking.NewDispatcher(deps.Pinger)

	pcfg := cfg.Playback
	if pcfg.Metrics == nil {
		pcfg.Metrics = deps.Metrics
	}

	return &Engine{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		disp:     disp,
		machine:  playback.NewMachine(ctx, ctrl, disp, pcfg),
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   log.With().Str("component", "engine").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*liveSession),
	}, nil
}

// Dispatcher returns the tracking dispatcher used by the engine
func (e *Engine) Dispatcher() *tracking.Dispatcher {
	return e.disp
}

// Unit returns the playback state
func (e *Engine) Unit() playback.Unit {
	return e.machine.Unit()
}

// Resolve resolves tagURL into a pod. Ads that cannot play are reported with
// their error code and left out of the pod.
func (e *Engine) Resolve(ctx context.Context, tagURL string) (*pod.Pod, error) {
	return e.resolveTag(ctx, tagURL, true)
}

func (e *Engine) resolveTag(ctx context.Context, tagURL string, followRedirects bool) (*pod.Pod, error) {
	session, sctx, done, err := e.begin(ctx, followRedirects)
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	res, err := session.Resolve(sctx, tagURL)
	return e.finish(ctx, tagURL, start, res, err)
}

// ResolveDocument resolves an already parsed VAST document.
func (e *Engine) ResolveDocument(ctx context.Context, doc vast.Node) (*pod.Pod, error) {
	return e.resolveDocument(ctx, doc, true)
}

func (e *Engine) resolveDocument(ctx context.Context, doc vast.Node, followRedirects bool) (*pod.Pod, error) {
	session, sctx, done, err := e.begin(ctx, followRedirects)
	if err != nil {
		return nil, err
	}
	defer done()

	start := time.Now()
	res, err := session.ResolveDocument(sctx, doc)
	return e.finish(ctx, "", start, res, err)
}

// begin opens a session tied to both ctx and the engine lifetime.
func (e *Engine) begin(ctx context.Context, followRedirects bool) (*wrapper.Session, context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, nil, nil, ErrDestroyed
	}

	session := wrapper.NewSession(e.fetcher, e.disp, wrapper.Options{
		MaxDepth:    e.cfg.MaxWrapperDepth,
		NoRedirects: !followRedirects,
		Metrics:     e.metrics,
	})

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)

	e.sessions[session.ID] = &liveSession{registry: session.Registry(), cancel: cancel}
	e.metrics.SetActiveSessions(len(e.sessions))

	done := func() {
		stop()
		cancel()
		e.mu.Lock()
		if ls, ok := e.sessions[session.ID]; ok {
			ls.cancel = nil
		}
		e.mu.Unlock()
	}
	return session, sctx, done, nil
}

func (e *Engine) finish(ctx context.Context, tagURL string, start time.Time, res *wrapper.Result, err error) (*pod.Pod, error) {
	if errors.Is(err, wrapper.ErrSuperseded) {
		return nil, err
	}
	e.record(ctx, tagURL, start, res, err)
	if err != nil {
		return nil, err
	}

	p, err := pod.Assemble(res, e.cfg.Pod)
	if p != nil {
		for _, rej := range p.Rejected {
			code := vast.CodeOf(rej.Err)
			e.metrics.RecordVASTError(int(code))
			e.disp.DispatchError(ctx, rej.Member.Target(), code)
		}
	}
	if err != nil {
		return nil, err
	}

	e.metrics.RecordPodSize(p.Len())
	return p, nil
}

func (e *Engine) record(ctx context.Context, tagURL string, start time.Time, res *wrapper.Result, err error) {
	if e.recorder == nil || res == nil {
		return
	}

	rec := storage.ResolutionRecord{
		SessionID:  res.SessionID,
		TagURL:     tagURL,
		Outcome:    outcomeOf(res, err),
		MaxDepth:   res.MaxDepth,
		AdCount:    res.Len(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.ErrorCode = int(vast.CodeOf(err))
	}
	for _, f := range res.Failures {
		if f.URL != "" {
			rec.FailedURLs = append(rec.FailedURLs, f.URL)
		}
	}

	if rerr := e.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		e.logger.Warn().Err(rerr).Str("session_id", res.SessionID).Msg("Failed to record resolution")
	}
}

func outcomeOf(res *wrapper.Result, err error) string {
	switch {
	case err != nil && len(res.Failures) > 0:
		return "failed"
	case err != nil:
		return "empty"
	case len(res.Failures) > 0:
		return "partial"
	default:
		return "success"
	}
}

// PlayTag resolves tagURL while the player shows the loading state, then
// plays the first member of the pod. A request overtaken by Reset leaves the
// machine alone.
func (e *Engine) PlayTag(ctx context.Context, tagURL string) (*pod.Pod, error) {
	ticket, err := e.machine.Load(tagURL)
	if err != nil {
		return nil, err
	}

	p, err := e.Resolve(ctx, tagURL)
	if err != nil {
		if !errors.Is(err, wrapper.ErrSuperseded) {
			e.machine.LoadFailed(ticket, err)
		}
		return nil, err
	}

	if err := e.machine.Loaded(ticket, p.Primary()); err != nil {
		return p, fmt.Errorf("playing %s: %w", tagURL, err)
	}
	return p, nil
}

// Play starts a pod member
func (e *Engine) Play(member *pod.Member) error {
	if e.isDestroyed() {
		return ErrDestroyed
	}
	return e.machine.Play(member)
}

// Cancel abandons member, or the current ad when nil, without notifying
func (e *Engine) Cancel(member *pod.Member, reason string) {
	e.machine.Cancel(member, reason)
}

// Pause pauses member, or the current ad when nil
func (e *Engine) Pause(member *pod.Member) error {
	return e.machine.Pause(member)
}

// Resume resumes member, or the current ad when nil
func (e *Engine) Resume(member *pod.Member) error {
	return e.machine.Resume(member)
}

// OnPlayheadUpdate reports the playhead of the current ad in milliseconds
func (e *Engine) OnPlayheadUpdate(positionMs, durationMs int64) {
	e.machine.OnPlayheadUpdate(positionMs, durationMs)
}

// OnVolumeChanged reports the player volume in [0, 1]
func (e *Engine) OnVolumeChanged(volume float64) {
	e.machine.OnVolumeChanged(volume)
}

// OnFullscreenChanged reports a fullscreen change
func (e *Engine) OnFullscreenChanged(fullscreen bool) {
	e.machine.OnFullscreenChanged(fullscreen)
}

// Complete ends the current ad
func (e *Engine) Complete() error {
	return e.machine.Complete()
}

// Skip skips the current ad
func (e *Engine) Skip() error {
	return e.machine.Skip()
}

// Fail fails the current ad
func (e *Engine) Fail(err error) error {
	return e.machine.Fail(err)
}

// Click reports a click on the current ad
func (e *Engine) Click() error {
	return e.machine.Click()
}

// HandleInteractiveEvent feeds an event from the interactive unit of the
// current ad
func (e *Engine) HandleInteractiveEvent(name, message string) error {
	return e.machine.HandleInteractiveEvent(name, message)
}

// Reset cancels in-flight resolutions, forgets every chain registry and
// returns playback to idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	n := len(e.sessions)
	for id, ls := range e.sessions {
		if ls.cancel != nil {
			ls.cancel()
		}
		ls.registry.Reset()
		delete(e.sessions, id)
	}
	e.metrics.SetActiveSessions(0)
	e.mu.Unlock()

	e.machine.Reset()
	e.logger.Debug().Int("sessions", n).Msg("Engine reset")
}

// Destroy resets the engine and rejects any further use
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	e.Reset()
	e.cancel()
}

// Sessions returns the number of live chain registries
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}
