package pod

import (
	"strconv"
	"strings"

	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// SkipPolicy is what the Controller is told about the skip button.
// Offset is whole seconds, or a percentage when IsPercent is set.
type SkipPolicy struct {
	Allowed   bool
	Offset    float64
	IsPercent bool
}

// ResolveSkip derives the skip policy of a member.
//
// A percent offset is passed on as a percentage and a timestamp offset in
// whole seconds. Without a usable offset, fallback-incapable versions are
// always skippable; fallback-capable versions are not skippable, except
// interactive ads which take the configured default.
func ResolveSkip(m *Member, features vast.Features, opts Options) SkipPolicy {
	raw := ""
	if m.Template != nil && m.Template.Linear != nil {
		raw = strings.TrimSpace(m.Template.Linear.SkipOffset)
	}

	if raw != "" {
		if vast.IsPercent(raw) {
			n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(raw, "%")), 64)
			if err == nil && n >= 0 {
				return SkipPolicy{Allowed: true, Offset: n, IsPercent: true}
			}
		} else if ms, ok := vast.ConvertTimestamp(raw); ok {
			return SkipPolicy{Allowed: true, Offset: float64(ms / 1000)}
		}
	}

	if !features.Fallback {
		return SkipPolicy{Allowed: true}
	}
	if m.Interactive && opts.InteractiveSkip != nil {
		return *opts.InteractiveSkip
	}
	return SkipPolicy{}
}

// OffsetMs converts the policy into a playhead position for a creative of
// durationMs. It reports false when skipping is not allowed.
func (s SkipPolicy) OffsetMs(durationMs int64) (int64, bool) {
	if !s.Allowed {
		return 0, false
	}
	if s.IsPercent {
		return vast.ConvertPercent(strconv.FormatFloat(s.Offset, 'f', -1, 64)+"%", durationMs)
	}
	return int64(s.Offset) * 1000, true
}
