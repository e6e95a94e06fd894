// Package pod assembles resolved ads into a playable, linked ad pod.
package pod

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/chain"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/internal/wrapper"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Type is the creative type of a pod member
type Type int

const (
	Linear Type = iota
	NonLinear
)

func (t Type) String() string {
	if t == NonLinear {
		return "nonlinear"
	}
	return "linear"
}

// Member is one playable unit: a linear-only or nonlinear-only ad.
type Member struct {
	Template *vast.AdTemplate
	Type     Type
	Key      string // registry key, shared by both halves of a split hybrid

	Index  int // 1-based
	Length int

	Next     *Member
	Fallback *Member

	Skip        SkipPolicy
	Interactive bool
	DurationMs  int64 // declared duration, 0 when unknown

	PodID    string
	Registry *chain.Registry
}

// ID returns the ad id, or its registry key when the markup had none.
func (m *Member) ID() string {
	if m.Template != nil && m.Template.ID != "" {
		return m.Template.ID
	}
	return m.Key
}

// Name returns a display name for Controller notifications
func (m *Member) Name() string {
	if m.Template != nil && m.Template.AdTitle != "" {
		return m.Template.AdTitle
	}
	return m.ID()
}

// IsLast reports whether the member ends its pod
func (m *Member) IsLast() bool {
	return m.Next == nil || m.Index == m.Length
}

// Target returns the tracking target of the member
func (m *Member) Target() tracking.Target {
	creative := tracking.CreativeLinear
	if m.Type == NonLinear {
		creative = tracking.CreativeNonLinear
	}
	return tracking.Target{
		Template: m.Template,
		Key:      m.Key,
		Registry: m.Registry,
		Creative: creative,
	}
}

// Rejection is a member dropped at assembly because it cannot play.
type Rejection struct {
	Member *Member
	Err    error
}

// Pod is an ordered group of members sharing one ad break.
type Pod struct {
	ID        string
	SessionID string
	Version   string
	Features  vast.Features
	Members   []*Member
	Fallback  *Member
	Rejected  []Rejection
	Registry  *chain.Registry
}

// Primary returns the first member, or nil for an empty pod
func (p *Pod) Primary() *Member {
	if len(p.Members) == 0 {
		return nil
	}
	return p.Members[0]
}

// Len returns the number of members
func (p *Pod) Len() int {
	return len(p.Members)
}

// Options configures assembly
type Options struct {
	// InteractiveSkip is the skip policy of interactive ads without an
	// explicit offset on fallback-capable versions. nil means not skippable.
	InteractiveSkip *SkipPolicy
}

// Assemble builds a pod from a resolution result. Podded ads play in
// sequence order with the first standalone ad as fallback when the version
// supports it; without podded ads every standalone ad plays in order.
func Assemble(res *wrapper.Result, opts Options) (*Pod, error) {
	if res == nil || res.Len() == 0 {
		return nil, vast.NewError(vast.CodeWrapperNoAds, "nothing to assemble", nil)
	}

	p := &Pod{
		SessionID: res.SessionID,
		Version:   res.Version,
		Features:  res.Features,
		Registry:  res.Registry,
	}

	ads := res.Standalone
	var fallbackAd *wrapper.Ad
	if len(res.Podded) > 0 {
		ads = res.Podded
		if res.Features.Fallback && len(res.Standalone) > 0 {
			fallbackAd = res.Standalone[0]
		}
	}

	for _, ad := range ads {
		for _, m := range split(ad, res.Registry) {
			if rejected := p.admit(m); rejected {
				continue
			}
			p.Members = append(p.Members, m)
		}
	}

	if fallbackAd != nil {
		for _, m := range split(fallbackAd, res.Registry) {
			if rejected := p.admit(m); !rejected {
				p.Fallback = m
				break
			}
		}
	}

	if len(p.Members) == 0 {
		if len(p.Rejected) > 0 {
			return p, fmt.Errorf("no playable members: %w", p.Rejected[0].Err)
		}
		return p, vast.NewError(vast.CodeWrapperNoAds, "no playable members", nil)
	}

	p.link(opts)
	if p.Fallback != nil {
		p.Fallback.Index = 1
		p.Fallback.Length = 1
		p.Fallback.PodID = p.ID
		p.Fallback.Skip = ResolveSkip(p.Fallback, p.Features, opts)
	}

	log.Debug().
		Str("pod_id", p.ID).
		Str("session_id", p.SessionID).
		Int("members", len(p.Members)).
		Bool("has_fallback", p.Fallback != nil).
		Int("rejected", len(p.Rejected)).
		Msg("Pod assembled")

	return p, nil
}

// admit validates m and records a rejection. It reports whether m was rejected.
func (p *Pod) admit(m *Member) bool {
	vr := Validate(m)
	if vr.Valid {
		return false
	}
	err := vr.Err()
	log.Warn().Err(err).Str("ad_key", m.Key).Str("type", m.Type.String()).Msg("Rejecting unplayable ad")
	p.Rejected = append(p.Rejected, Rejection{Member: m, Err: err})
	return true
}

// link sets index, length, next and fallback on every member.
func (p *Pod) link(opts Options) {
	p.relink()
	for _, m := range p.Members {
		m.Skip = ResolveSkip(m, p.Features, opts)
	}
}

func (p *Pod) relink() {
	p.ID = p.Members[0].ID()
	n := len(p.Members)
	for i, m := range p.Members {
		m.Index = i + 1
		m.Length = n
		m.PodID = p.ID
		m.Fallback = p.Fallback
		if i+1 < n {
			m.Next = p.Members[i+1]
		} else {
			m.Next = nil
		}
	}
	if p.Fallback != nil {
		p.Fallback.PodID = p.ID
	}
}

// Filter keeps the members and fallback for which keep reports true, in
// order, and relinks the pod. Skip policies are unchanged. It returns the
// dropped members and fails with CodeUnexpectedAdType when no member is left.
func (p *Pod) Filter(keep func(*Member) bool) ([]*Member, error) {
	var kept, dropped []*Member
	for _, m := range p.Members {
		if keep(m) {
			kept = append(kept, m)
		} else {
			dropped = append(dropped, m)
		}
	}
	if p.Fallback != nil && !keep(p.Fallback) {
		dropped = append(dropped, p.Fallback)
		p.Fallback = nil
	}
	if len(kept) == 0 {
		return dropped, vast.NewError(vast.CodeUnexpectedAdType, "no member fits the break", nil)
	}
	if len(dropped) > 0 {
		p.Members = kept
		p.relink()
	}
	return dropped, nil
}

// split turns a resolved ad into one member per creative type. A hybrid ad
// yields a linear and a nonlinear member sharing the same registry key.
func split(ad *wrapper.Ad, reg *chain.Registry) []*Member {
	t := ad.Template
	var out []*Member

	if t.Linear != nil {
		lt := t.Clone()
		lt.NonLinear = nil
		out = append(out, newMember(lt, Linear, ad.Key, reg))
	}
	if t.NonLinear != nil {
		nt := t.Clone()
		nt.Linear = nil
		out = append(out, newMember(nt, NonLinear, ad.Key, reg))
	}
	if len(out) == 0 {
		// neither creative: validated as a linear ad so it is rejected with a code
		out = append(out, newMember(t.Clone(), Linear, ad.Key, reg))
	}
	return out
}

func newMember(t *vast.AdTemplate, typ Type, key string, reg *chain.Registry) *Member {
	m := &Member{
		Template:    t,
		Type:        typ,
		Key:         key,
		Registry:    reg,
		Interactive: typ == Linear && t.IsInteractive(),
	}
	if typ == Linear && t.Linear != nil {
		if ms, ok := vast.ConvertTimestamp(t.Linear.Duration); ok {
			m.DurationMs = ms
		}
	}
	if typ == NonLinear && t.NonLinear != nil {
		if ms, ok := vast.ConvertTimestamp(t.NonLinear.MinSuggestedDuration); ok {
			m.DurationMs = ms
		}
	}
	return m
}
