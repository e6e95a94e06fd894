package playback

import (
	"fmt"
	"time"

	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Interactive unit events
const (
	EventIFrameLoaded           = "IFrameLoaded"
	EventAdLoaded               = "AdLoaded"
	EventAdStarted              = "AdStarted"
	EventAdStopped              = "AdStopped"
	EventAdImpression           = "AdImpression"
	EventAdVideoStart           = "AdVideoStart"
	EventAdVideoFirstQuartile   = "AdVideoFirstQuartile"
	EventAdVideoMidpoint        = "AdVideoMidpoint"
	EventAdVideoThirdQuartile   = "AdVideoThirdQuartile"
	EventAdVideoComplete        = "AdVideoComplete"
	EventAdClickThru            = "AdClickThru"
	EventAdPaused               = "AdPaused"
	EventAdPlaying              = "AdPlaying"
	EventAdSkipped              = "AdSkipped"
	EventAdUserAcceptInvitation = "AdUserAcceptInvitation"
	EventAdUserMinimize         = "AdUserMinimize"
	EventAdUserClose            = "AdUserClose"
	EventAdError                = "AdError"
)

const (
	timerIFrameLoad = "iframe_load"
	timerAdLoaded   = "ad_loaded"
	timerAdStarted  = "ad_started"
	timerAdStopped  = "ad_stopped"
)

// vpaidTracking maps unit events onto the tracking events they report.
var vpaidTracking = map[string]tracking.Event{
	EventAdImpression:           tracking.EventImpression,
	EventAdVideoStart:           tracking.EventStart,
	EventAdVideoFirstQuartile:   tracking.EventFirstQuartile,
	EventAdVideoMidpoint:        tracking.EventMidpoint,
	EventAdVideoThirdQuartile:   tracking.EventThirdQuartile,
	EventAdVideoComplete:        tracking.EventComplete,
	EventAdClickThru:            tracking.EventClick,
	EventAdPaused:               tracking.EventPause,
	EventAdPlaying:              tracking.EventResume,
	EventAdSkipped:              tracking.EventSkip,
	EventAdUserAcceptInvitation: tracking.EventAcceptInvitation,
	EventAdUserMinimize:         tracking.EventCollapse,
	EventAdUserClose:            tracking.EventClose,
}

// HandleInteractiveEvent feeds an event reported by the interactive unit of
// the current ad. message is only used by AdError.
func (m *Machine) HandleInteractiveEvent(name, message string) error {
	return m.do(func() error {
		cur := m.unit.Current
		if cur == nil || !cur.Interactive || !m.active() {
			return ErrNoCurrentAd
		}

		switch name {
		case EventIFrameLoaded:
			if m.timerName == timerIFrameLoad {
				m.armTimer(timerAdLoaded)
			}
			return nil
		case EventAdLoaded:
			if m.timerName == timerAdLoaded {
				m.armTimer(timerAdStarted)
			}
			return nil
		case EventAdStarted:
			if m.timerName == timerAdStarted {
				m.stopTimer()
			}
			m.dispatch(cur, tracking.EventCreativeView)
			return nil
		case EventAdStopped:
			mode := m.stopping
			if mode == Idle {
				mode = Ended
			}
			m.endInteractive(mode)
			return nil
		case EventAdError:
			m.fail(vast.NewError(vast.CodeGeneralVPAID, message, nil))
			return nil
		}

		e, ok := vpaidTracking[name]
		if !ok {
			return fmt.Errorf("unknown interactive event %q", name)
		}

		switch name {
		case EventAdPaused:
			if m.unit.Mode == Playing {
				m.setMode(Paused)
			}
		case EventAdPlaying:
			if m.unit.Mode == Paused {
				m.setMode(Playing)
			}
		}

		m.dispatch(cur, e)

		switch name {
		case EventAdVideoComplete, EventAdUserClose:
			m.awaitStop(Ended)
		case EventAdSkipped:
			m.awaitStop(Skipped)
		}
		return nil
	})
}

// awaitStop waits for the unit to confirm it stopped before ending.
func (m *Machine) awaitStop(mode Mode) {
	if m.stopping != Idle {
		return
	}
	m.stopping = mode
	m.armTimer(timerAdStopped)
}

// endInteractive ends an interactive ad. Its completion and skip pings were
// already reported by the unit.
func (m *Machine) endInteractive(mode Mode) {
	m.stopTimer()
	member := m.unit.Current
	m.setMode(mode)

	id := member.ID()
	m.emit(func() { m.ctrl.NotifyLinearAdEnded(id) })

	m.unit.Previous = member
	m.unit.Current = nil
	if member.IsLast() || m.isFallback(member) {
		m.endPod(member)
		return
	}
	m.play(member.Next, false)
}

func (m *Machine) timeoutFor(name string) time.Duration {
	switch name {
	case timerIFrameLoad:
		return m.cfg.Timeouts.IFrameLoad
	case timerAdLoaded:
		return m.cfg.Timeouts.AdLoaded
	case timerAdStarted:
		return m.cfg.Timeouts.AdStarted
	default:
		return m.cfg.Timeouts.AdStopped
	}
}

// armTimer replaces the running timer. Must be called with mu held.
func (m *Machine) armTimer(name string) {
	m.stopTimer()
	m.generation++
	gen := m.generation
	m.timerName = name
	m.timer = m.clock.AfterFunc(m.timeoutFor(name), func() { m.expire(gen, name) })
}

// stopTimer cancels the running timer. Must be called with mu held.
func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerName = ""
	m.generation++
}

func (m *Machine) expire(gen uint64, name string) {
	_ = m.do(func() error {
		if gen != m.generation || !m.active() {
			return nil
		}
		m.timer = nil
		m.timerName = ""
		m.cfg.Metrics.RecordInteractiveTimeout(name)
		m.logger.Warn().Str("ad_id", m.unit.Current.ID()).Str("timer", name).Msg("Interactive unit timed out")

		if name == timerAdStopped {
			m.endInteractive(m.stopping)
			return nil
		}
		m.fail(vast.NewError(vast.CodeGeneralVPAID, "interactive unit timed out waiting for "+name, nil))
		return nil
	})
}
