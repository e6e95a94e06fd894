package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Mode is the playback state of the current unit
type Mode int

const (
	Idle Mode = iota
	Loading
	Playing
	Paused
	Ended
	Skipped
	Failed
)

func (m Mode) String() string {
	switch m {
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Terminal reports whether no ad is active in this mode
func (m Mode) Terminal() bool {
	return m == Idle || m == Ended || m == Skipped || m == Failed
}

// Errors returned for calls that do not fit the current state
var (
	ErrInvalidTransition = errors.New("invalid playback transition")
	ErrNoCurrentAd       = errors.New("no ad is playing")
	ErrStaleLoad         = errors.New("load was superseded")
)

// Unit is a snapshot of the live playback state.
type Unit struct {
	Current    *pod.Member
	Next       *pod.Member
	Previous   *pod.Member
	PodPrimary *pod.Member
	Mode       Mode
	LoadingKey string
}

// Timeouts are the interactive unit confirmation timers
type Timeouts struct {
	IFrameLoad time.Duration
	AdLoaded   time.Duration
	AdStarted  time.Duration
	AdStopped  time.Duration
}

// DefaultTimeouts returns the timers used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		IFrameLoad: 5 * time.Second,
		AdLoaded:   10 * time.Second,
		AdStarted:  10 * time.Second,
		AdStopped:  5 * time.Second,
	}
}

// Config configures a Machine
type Config struct {
	ManagerName string
	Timeouts    Timeouts
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

// Machine is the ad playback state machine. All methods are safe for
// concurrent use; Controller calls and pings are made after the internal
// lock is released, in transition order.
type Machine struct {
	mu     sync.Mutex
	ctx    context.Context
	ctrl   Controller
	disp   *tracking.Dispatcher
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	unit       Unit
	quartiles  tracking.Quartiles
	muted      bool
	fullscreen bool

	// interactive unit bookkeeping
	timer      *clock.Timer
	timerName  string
	generation uint64
	stopping   Mode // terminal mode to enter once the unit confirms it stopped

	loads  uint64 // last ticket handed out by Load
	loadID uint64 // ticket of the pending load, 0 when none

	outbox []func()
}

// NewMachine creates an idle machine. ctx bounds the pings it sends.
func NewMachine(ctx context.Context, ctrl Controller, disp *tracking.Dispatcher, cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.ManagerName == "" {
		cfg.ManagerName = "vast"
	}
	if disp == nil {
		disp = tracking.NewDispatcher(nil)
	}
	return &Machine{
		ctx:    ctx,
		ctrl:   ctrl,
		disp:   disp,
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: log.With().Str("component", "playback").Logger(),
	}
}

// Unit returns a snapshot of the current playback state
func (m *Machine) Unit() Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unit
}

// Mode returns the current mode
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unit.Mode
}

// do runs fn under the lock and delivers queued side effects afterwards.
func (m *Machine) do(fn func() error) error {
	m.mu.Lock()
	err := fn()
	out := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, f := range out {
		f()
	}
	return err
}

func (m *Machine) emit(f func()) {
	m.outbox = append(m.outbox, f)
}

func (m *Machine) dispatch(member *pod.Member, e tracking.Event) {
	target := member.Target()
	ctx := m.ctx
	m.emit(func() { m.disp.Dispatch(ctx, target, e) })
}

func (m *Machine) dispatchError(member *pod.Member, code vast.ErrorCode) {
	target := member.Target()
	ctx := m.ctx
	m.emit(func() { m.disp.DispatchError(ctx, target, code) })
}

func (m *Machine) setMode(to Mode) {
	from := m.unit.Mode
	m.unit.Mode = to
	m.cfg.Metrics.RecordTransition(from.String(), to.String())
}

// Load enters Loading for an ad request placeholder that still has to be
// resolved. key identifies the request in notifications. The returned ticket
// must be passed to Loaded or LoadFailed; a ticket outlived by a reset or a
// newer load is stale.
func (m *Machine) Load(key string) (uint64, error) {
	var ticket uint64
	err := m.do(func() error {
		if !m.unit.Mode.Terminal() {
			return fmt.Errorf("%w: load while %s", ErrInvalidTransition, m.unit.Mode)
		}
		m.stopTimer()
		m.loads++
		m.loadID = m.loads
		ticket = m.loadID
		m.unit.LoadingKey = key
		m.unit.Previous = m.unit.Current
		m.unit.Current = nil
		m.unit.Next = nil
		m.unit.PodPrimary = nil
		m.setMode(Loading)
		return nil
	})
	return ticket, err
}

func (m *Machine) pending(ticket uint64) bool {
	return m.unit.Mode == Loading && ticket != 0 && ticket == m.loadID
}

// Loaded plays the resolved member of a pending load.
func (m *Machine) Loaded(ticket uint64, member *pod.Member) error {
	return m.do(func() error {
		if !m.pending(ticket) {
			return ErrStaleLoad
		}
		m.loadID = 0
		m.unit.LoadingKey = ""
		m.play(member, false)
		return nil
	})
}

// LoadFailed fails a pending load and ends its pod. A stale ticket is
// ignored.
func (m *Machine) LoadFailed(ticket uint64, err error) {
	_ = m.do(func() error {
		if !m.pending(ticket) {
			return nil
		}
		key := m.unit.LoadingKey
		m.loadID = 0
		m.unit.LoadingKey = ""
		m.setMode(Failed)
		msg := err.Error()
		m.emit(func() { m.ctrl.RaiseAdError(msg) })
		m.emit(func() { m.ctrl.NotifyPodEnded(key) })
		return nil
	})
}

// Play starts member. The previous ad must have reached a terminal state.
func (m *Machine) Play(member *pod.Member) error {
	if member == nil {
		return ErrNoCurrentAd
	}
	return m.do(func() error {
		if !m.unit.Mode.Terminal() && m.unit.Mode != Loading {
			return fmt.Errorf("%w: play while %s", ErrInvalidTransition, m.unit.Mode)
		}
		m.loadID = 0
		m.unit.LoadingKey = ""
		m.play(member, false)
		return nil
	})
}

// play enters Playing. asFallback suppresses the pod start notification.
func (m *Machine) play(member *pod.Member, asFallback bool) {
	m.stopTimer()
	if m.unit.Current != nil {
		m.unit.Previous = m.unit.Current
	}
	m.unit.Current = member
	m.unit.Next = member.Next
	m.quartiles.Reset()
	m.stopping = Idle

	if member.Index == 1 && !asFallback {
		m.unit.PodPrimary = member
		id, length := member.PodID, member.Length
		if id == "" {
			id = member.ID()
		}
		m.emit(func() { m.ctrl.NotifyPodStarted(id, length) })
	}

	m.setMode(Playing)

	id := member.ID()
	props := AdProps{
		Name:          member.Name(),
		DurationMs:    member.DurationMs,
		Skippable:     member.Skip.Allowed,
		SkipOffset:    member.Skip.Offset,
		SkipIsPercent: member.Skip.IsPercent,
		Index:         member.Index,
		Length:        member.Length,
		Interactive:   member.Interactive,
	}

	if member.Type == pod.NonLinear {
		m.emit(func() { m.ctrl.NotifyNonLinearAdStarted(id, props) })
	} else {
		m.emit(func() { m.ctrl.NotifyLinearAdStarted(id, props) })
		skip := member.Skip
		m.emit(func() { m.ctrl.ShowSkipButton(skip.Allowed, skip.Offset, skip.IsPercent) })
	}

	m.logger.Debug().Str("ad_id", id).Int("index", member.Index).Int("length", member.Length).Bool("interactive", member.Interactive).Msg("Ad playing")

	if member.Interactive {
		// the unit reports impression and start itself
		m.armTimer(timerIFrameLoad)
		return
	}
	m.dispatch(member, tracking.EventImpression)
	m.dispatch(member, tracking.EventCreativeView)
	m.dispatch(member, tracking.EventStart)
}

// Pause pauses the current ad
func (m *Machine) Pause(member *pod.Member) error {
	return m.do(func() error {
		if err := m.check(member, Playing); err != nil {
			return err
		}
		m.setMode(Paused)
		m.dispatch(m.unit.Current, tracking.EventPause)
		return nil
	})
}

// Resume resumes a paused ad. Quartile markers are kept.
func (m *Machine) Resume(member *pod.Member) error {
	return m.do(func() error {
		if err := m.check(member, Paused); err != nil {
			return err
		}
		m.setMode(Playing)
		m.dispatch(m.unit.Current, tracking.EventResume)
		return nil
	})
}

// OnPlayheadUpdate fires quartile events crossed at positionMs. durationMs is
// the duration reported by the player, 0 when unknown.
func (m *Machine) OnPlayheadUpdate(positionMs, durationMs int64) {
	_ = m.do(func() error {
		if m.unit.Mode != Playing || m.unit.Current == nil || m.unit.Current.Interactive {
			return nil
		}
		for _, e := range m.quartiles.Update(positionMs, durationMs) {
			m.dispatch(m.unit.Current, e)
		}
		return nil
	})
}

// OnVolumeChanged fires mute or unmute when the volume crosses zero.
func (m *Machine) OnVolumeChanged(volume float64) {
	_ = m.do(func() error {
		muted := volume <= 0
		if muted == m.muted {
			return nil
		}
		m.muted = muted
		if !m.active() {
			return nil
		}
		if muted {
			m.dispatch(m.unit.Current, tracking.EventMute)
		} else {
			m.dispatch(m.unit.Current, tracking.EventUnmute)
		}
		return nil
	})
}

// OnFullscreenChanged fires fullscreen or exitFullscreen on a change.
func (m *Machine) OnFullscreenChanged(fullscreen bool) {
	_ = m.do(func() error {
		if fullscreen == m.fullscreen {
			return nil
		}
		m.fullscreen = fullscreen
		if !m.active() {
			return nil
		}
		if fullscreen {
			m.dispatch(m.unit.Current, tracking.EventFullscreen)
		} else {
			m.dispatch(m.unit.Current, tracking.EventExitFullscreen)
		}
		return nil
	})
}

// Click records a click on the current ad.
func (m *Machine) Click() error {
	return m.do(func() error {
		if !m.active() {
			return ErrNoCurrentAd
		}
		if m.unit.Current.Type == pod.NonLinear {
			m.dispatch(m.unit.Current, tracking.EventNonLinearClick)
		} else {
			m.dispatch(m.unit.Current, tracking.EventClick)
		}
		return nil
	})
}

// Complete ends the current ad naturally
func (m *Machine) Complete() error {
	return m.do(func() error {
		if !m.active() {
			return ErrNoCurrentAd
		}
		m.finish(Ended)
		return nil
	})
}

// Skip ends the current ad through the skip path
func (m *Machine) Skip() error {
	return m.do(func() error {
		if !m.active() {
			return ErrNoCurrentAd
		}
		m.finish(Skipped)
		return nil
	})
}

// Fail fails the current ad. The fallback plays next when there is one,
// otherwise the pod ends.
func (m *Machine) Fail(cause error) error {
	return m.do(func() error {
		if !m.active() {
			return ErrNoCurrentAd
		}
		m.fail(cause)
		return nil
	})
}

// Cancel abandons member, or the current ad when member is nil. Timers are
// cleared and nothing is notified.
func (m *Machine) Cancel(member *pod.Member, reason string) {
	_ = m.do(func() error {
		if member != nil && member != m.unit.Current {
			return nil
		}
		m.cancel(reason)
		return nil
	})
}

// Reset cancels everything and forgets the pod
func (m *Machine) Reset() {
	_ = m.do(func() error {
		m.cancel("reset")
		m.unit = Unit{}
		m.quartiles.Reset()
		m.muted = false
		m.fullscreen = false
		return nil
	})
}

func (m *Machine) cancel(reason string) {
	m.stopTimer()
	if m.unit.Current != nil {
		m.logger.Debug().Str("ad_id", m.unit.Current.ID()).Str("reason", reason).Msg("Ad cancelled")
		m.unit.Previous = m.unit.Current
	}
	m.unit.Current = nil
	m.unit.Next = nil
	m.unit.LoadingKey = ""
	m.loadID = 0
	m.setMode(Idle)
}

func (m *Machine) active() bool {
	return m.unit.Current != nil && (m.unit.Mode == Playing || m.unit.Mode == Paused)
}

func (m *Machine) check(member *pod.Member, want Mode) error {
	if m.unit.Current == nil {
		return ErrNoCurrentAd
	}
	if member != nil && member != m.unit.Current {
		return fmt.Errorf("%w: %s is not the current ad", ErrInvalidTransition, member.ID())
	}
	if m.unit.Mode != want {
		return fmt.Errorf("%w: expected %s, in %s", ErrInvalidTransition, want, m.unit.Mode)
	}
	return nil
}

// finish runs the end path shared by natural end and skip.
func (m *Machine) finish(mode Mode) {
	m.stopTimer()
	member := m.unit.Current

	if mode == Skipped {
		m.dispatch(member, tracking.EventSkip)
	} else {
		m.dispatch(member, tracking.EventComplete)
	}
	m.setMode(mode)

	id := member.ID()
	m.logger.Debug().Str("ad_id", id).Str("mode", mode.String()).Int("quartiles", m.quartiles.Crossed()).Msg("Ad finished")
	if member.Type == pod.NonLinear {
		m.emit(func() { m.ctrl.NotifyNonLinearAdEnded(id) })
	} else {
		m.emit(func() { m.ctrl.NotifyLinearAdEnded(id) })
	}

	m.unit.Previous = member
	m.unit.Current = nil

	if member.IsLast() || m.isFallback(member) {
		m.endPod(member)
		return
	}
	m.play(member.Next, false)
}

// fail runs the failure path.
func (m *Machine) fail(cause error) {
	m.stopTimer()
	member := m.unit.Current

	code := vast.CodeOf(cause)
	if code == vast.CodeUndefined && member.Interactive {
		code = vast.CodeGeneralVPAID
	}
	m.dispatchError(member, code)
	m.setMode(Failed)
	m.cfg.Metrics.RecordVASTError(int(code))

	msg := "ad failed"
	if cause != nil {
		msg = cause.Error()
	}
	m.emit(func() { m.ctrl.RaiseAdError(msg) })
	m.logger.Warn().Err(cause).Str("ad_id", member.ID()).Int("code", int(code)).Msg("Ad failed")

	m.unit.Previous = member
	m.unit.Current = nil

	if fb := member.Fallback; fb != nil && fb != member {
		streams := streamsOf(fb)
		manager := m.cfg.ManagerName
		m.emit(func() { m.ctrl.ForceAdToPlay(manager, fb, fb.Type, streams) })
		m.play(fb, true)
		return
	}
	m.endPod(member)
}

func (m *Machine) endPod(member *pod.Member) {
	id := member.ID()
	if m.unit.PodPrimary != nil {
		id = m.unit.PodPrimary.PodID
		if id == "" {
			id = m.unit.PodPrimary.ID()
		}
	}
	m.unit.Next = nil
	m.emit(func() { m.ctrl.NotifyPodEnded(id) })
}

func (m *Machine) isFallback(member *pod.Member) bool {
	p := m.unit.PodPrimary
	return p != nil && p.Fallback == member
}

func streamsOf(member *pod.Member) []string {
	if member.Template == nil || member.Template.Linear == nil {
		return nil
	}
	out := make([]string, 0, len(member.Template.Linear.MediaFiles))
	for _, mf := range member.Template.Linear.MediaFiles {
		out = append(out, mf.URL)
	}
	return out
}
