// Package tracking resolves lifecycle events to tracking URLs and cascades
// every ping up the wrapper chain of the ad.
package tracking

import (
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Event is a trackable lifecycle or UI event
type Event int

const (
	EventImpression Event = iota
	EventCreativeView
	EventStart
	EventFirstQuartile
	EventMidpoint
	EventThirdQuartile
	EventComplete
	EventMute
	EventUnmute
	EventPause
	EventRewind
	EventResume
	EventFullscreen
	EventExitFullscreen
	EventExpand
	EventCollapse
	EventAcceptInvitation
	EventClose
	EventSkip
	EventClick
	EventNonLinearClick
	EventError
)

var eventNames = map[Event]string{
	EventImpression:       "impression",
	EventCreativeView:     vast.EventCreativeView,
	EventStart:            vast.EventStart,
	EventFirstQuartile:    vast.EventFirstQuartile,
	EventMidpoint:         vast.EventMidpoint,
	EventThirdQuartile:    vast.EventThirdQuartile,
	EventComplete:         vast.EventComplete,
	EventMute:             vast.EventMute,
	EventUnmute:           vast.EventUnmute,
	EventPause:            vast.EventPause,
	EventRewind:           vast.EventRewind,
	EventResume:           vast.EventResume,
	EventFullscreen:       vast.EventFullscreen,
	EventExitFullscreen:   vast.EventExitFullscreen,
	EventExpand:           vast.EventExpand,
	EventCollapse:         vast.EventCollapse,
	EventAcceptInvitation: vast.EventAcceptInvitation,
	EventClose:            vast.EventClose,
	EventSkip:             vast.EventSkip,
	EventClick:            "click",
	EventNonLinearClick:   "nonLinearClick",
	EventError:            "error",
}

var eventsByName = func() map[string]Event {
	m := make(map[string]Event, len(eventNames))
	for e, name := range eventNames {
		m[name] = e
	}
	return m
}()

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// ParseEvent maps a tracking event name to its Event
func ParseEvent(name string) (Event, bool) {
	e, ok := eventsByName[name]
	return e, ok
}

// Creative restricts URL resolution to one creative type
type Creative int

const (
	CreativeAny Creative = iota
	CreativeLinear
	CreativeNonLinear
)

// urlsFor returns the tracking URLs of t for e, in markup order.
func urlsFor(t *vast.AdTemplate, e Event, c Creative) []string {
	if t == nil {
		return nil
	}
	switch e {
	case EventImpression:
		return impressionURLs(t)
	case EventClick:
		return linearClickURLs(t)
	case EventNonLinearClick:
		return nonLinearClickURLs(t)
	case EventError:
		return errorURLs(t)
	}

	name := e.String()
	var out []string
	if t.Linear != nil && c != CreativeNonLinear {
		out = append(out, t.Linear.Tracking[name]...)
	}
	if t.NonLinear != nil && c != CreativeLinear {
		out = append(out, t.NonLinear.Tracking[name]...)
	}
	return out
}

func impressionURLs(t *vast.AdTemplate) []string {
	return t.ImpressionURLs
}

func linearClickURLs(t *vast.AdTemplate) []string {
	if t.Linear == nil {
		return nil
	}
	return t.Linear.ClickTrackingURLs
}

func nonLinearClickURLs(t *vast.AdTemplate) []string {
	if t.NonLinear == nil {
		return nil
	}
	return t.NonLinear.ClickTrackingURLs
}

func errorURLs(t *vast.AdTemplate) []string {
	return t.ErrorURLs
}
