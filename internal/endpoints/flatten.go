package endpoints

import (
	"time"

	"github.com/thenexusengine/tne_vastplayer/internal/ctv"
	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/internal/tracking"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
	"github.com/thenexusengine/tne_vastplayer/pkg/vastxml"
)

// FlattenPod renders a resolved pod as a wrapper-free VAST document. Every
// member becomes one InLine ad carrying the tracking URLs of its whole
// wrapper chain. The fallback ad, when present, is emitted last without a
// sequence.
func FlattenPod(p *pod.Pod, opts FlattenOptions) (*vastxml.VAST, error) {
	b := vastxml.NewBuilder(outputVersion(p.Version))
	for _, m := range p.Members {
		addMember(b, m, m.Index, opts)
	}
	if p.Fallback != nil {
		addMember(b, p.Fallback, 0, opts)
	}
	return b.Build()
}

// FlattenOptions tunes flattened output
type FlattenOptions struct {
	// Device narrows media files to what the player can decode. nil keeps
	// every file.
	Device *ctv.DeviceCapabilities
}

func outputVersion(v string) string {
	if v == "" {
		return vastxml.DefaultVersion
	}
	return v
}

func addMember(b *vastxml.Builder, m *pod.Member, sequence int, opts FlattenOptions) {
	t := m.Template
	target := m.Target()

	b.AddAd(m.ID(), sequence).
		WithInLine(t.AdSystem, t.AdTitle).
		WithImpressions(tracking.Collect(target, tracking.EventImpression)...).
		WithErrors(tracking.CollectErrors(target)...)

	switch m.Type {
	case pod.Linear:
		addLinear(b, m, target, opts)
	case pod.NonLinear:
		addNonLinear(b, m, target)
	}
	b.WithCompanions(companionsOf(t.Companions)...)
}

func addLinear(b *vastxml.Builder, m *pod.Member, target tracking.Target, opts FlattenOptions) {
	l := m.Template.Linear
	if l == nil {
		return
	}
	duration := l.Duration
	if m.DurationMs > 0 {
		duration = vast.FormatDuration(time.Duration(m.DurationMs) * time.Millisecond)
	}
	lb := b.WithLinearCreative(m.Key, duration).
		WithSkipOffset(l.SkipOffset).
		WithAdParameters(l.AdParameters).
		WithClickThrough(l.ClickThrough).
		WithClickTracking(tracking.Collect(target, tracking.EventClick)...).
		WithCustomClicks(l.CustomClickURLs...)
	files := l.MediaFiles
	if opts.Device != nil {
		files = opts.Device.FilterMediaFiles(files)
	}
	for _, mf := range files {
		lb.WithMediaFile(vastxml.MediaFile{
			Delivery:     mf.Delivery,
			Type:         mf.Type,
			Bitrate:      mf.Bitrate,
			Width:        mf.Width,
			Height:       mf.Height,
			APIFramework: mf.APIFramework,
			Value:        mf.URL,
		})
	}
	for _, name := range vast.TrackedEvents {
		if e, ok := tracking.ParseEvent(name); ok {
			lb.WithTracking(name, tracking.Collect(target, e)...)
		}
	}
	lb.EndLinear()
}

func addNonLinear(b *vastxml.Builder, m *pod.Member, target tracking.Target) {
	nl := m.Template.NonLinear
	if nl == nil {
		return
	}
	out := vastxml.NonLinear{
		Width:                nl.Width,
		Height:               nl.Height,
		MinSuggestedDuration: nl.MinSuggestedDuration,
		APIFramework:         nl.APIFramework,
	}
	setResource(nl.Resource, nl.URL, nl.CreativeType, nl.Data, &out.StaticResource, &out.IFrameResource, &out.HTMLResource)
	if nl.ClickThrough != "" {
		out.NonLinearClickThrough = &vastxml.URL{Value: nl.ClickThrough}
	}
	for _, u := range tracking.Collect(target, tracking.EventNonLinearClick) {
		out.NonLinearClickTracking = append(out.NonLinearClickTracking, vastxml.URL{Value: u})
	}

	var events []vastxml.Tracking
	for _, name := range vast.TrackedEvents {
		e, ok := tracking.ParseEvent(name)
		if !ok {
			continue
		}
		for _, u := range tracking.Collect(target, e) {
			events = append(events, vastxml.Tracking{Event: name, Value: u})
		}
	}
	b.WithNonLinearCreative(m.Key, out, events)
}

func companionsOf(in []vast.Companion) []vastxml.Companion {
	out := make([]vastxml.Companion, 0, len(in))
	for _, c := range in {
		comp := vastxml.Companion{
			ID:     c.ID,
			Width:  c.Width,
			Height: c.Height,
		}
		setResource(c.Resource, c.URL, c.CreativeType, c.Data, &comp.StaticResource, &comp.IFrameResource, &comp.HTMLResource)
		if c.ClickThrough != "" {
			comp.CompanionClickThrough = &vastxml.URL{Value: c.ClickThrough}
		}
		for _, u := range c.ClickTrackingURLs {
			comp.CompanionClickTracking = append(comp.CompanionClickTracking, vastxml.URL{Value: u})
		}
		for _, name := range vast.TrackedEvents {
			for _, u := range c.Tracking[name] {
				if comp.TrackingEvents == nil {
					comp.TrackingEvents = &vastxml.TrackingEvents{}
				}
				comp.TrackingEvents.Tracking = append(comp.TrackingEvents.Tracking, vastxml.Tracking{Event: name, Value: u})
			}
		}
		out = append(out, comp)
	}
	return out
}

func setResource(kind vast.ResourceKind, url, creativeType, data string, static **vastxml.StaticResource, iframe, html **vastxml.URL) {
	switch kind {
	case vast.ResourceStatic:
		*static = &vastxml.StaticResource{CreativeType: creativeType, Value: url}
	case vast.ResourceIFrame:
		*iframe = &vastxml.URL{Value: url}
	case vast.ResourceHTML:
		v := data
		if v == "" {
			v = url
		}
		*html = &vastxml.URL{Value: v}
	}
}
