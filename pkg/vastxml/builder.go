package vastxml

import (
	"errors"
)

// DefaultVersion is the version attribute of built documents
const DefaultVersion = "4.0"

var errNoAd = errors.New("no current ad")

// Builder provides a fluent interface for constructing VAST documents
type Builder struct {
	vast    *VAST
	current *Ad
	err     error
}

// NewBuilder creates a new VAST builder
func NewBuilder(version string) *Builder {
	if version == "" {
		version = DefaultVersion
	}
	return &Builder{
		vast: &VAST{
			Version: version,
			Ads:     make([]Ad, 0),
		},
	}
}

// AddAd starts a new ad, finishing any pending one. A zero sequence marks a
// standalone ad.
func (b *Builder) AddAd(id string, sequence int) *Builder {
	if b.err != nil {
		return b
	}
	b.Done()
	b.current = &Ad{ID: id, Sequence: sequence}
	return b
}

// WithInLine sets the current ad as an inline ad
func (b *Builder) WithInLine(adSystem, adTitle string) *Builder {
	if b.err != nil {
		return b
	}
	if b.current == nil {
		b.err = errNoAd
		return b
	}
	b.current.InLine = &InLine{
		AdSystem:    AdSystem{Value: adSystem},
		AdTitle:     adTitle,
		Impressions: make([]Impression, 0),
		Creatives:   Creatives{Creative: make([]Creative, 0)},
	}
	return b
}

// WithImpressions adds impression tracking URLs
func (b *Builder) WithImpressions(urls ...string) *Builder {
	if in := b.inline(); in != nil {
		for _, u := range urls {
			in.Impressions = append(in.Impressions, Impression{Value: u})
		}
	}
	return b
}

// WithErrors adds error tracking URLs
func (b *Builder) WithErrors(urls ...string) *Builder {
	if in := b.inline(); in != nil {
		for _, u := range urls {
			in.Error = append(in.Error, URL{Value: u})
		}
	}
	return b
}

// WithLinearCreative adds a linear creative to the current ad
func (b *Builder) WithLinearCreative(id, duration string) *LinearBuilder {
	in := b.inline()
	if in == nil {
		return &LinearBuilder{parent: b, linear: &Linear{}}
	}
	linear := &Linear{
		Duration:   duration,
		MediaFiles: MediaFiles{MediaFile: make([]MediaFile, 0)},
	}
	in.Creatives.Creative = append(in.Creatives.Creative, Creative{ID: id, Linear: linear})
	return &LinearBuilder{parent: b, linear: linear}
}

// WithNonLinearCreative adds an overlay creative to the current ad
func (b *Builder) WithNonLinearCreative(id string, nl NonLinear, tracking []Tracking) *Builder {
	if in := b.inline(); in != nil {
		ads := &NonLinearAds{NonLinear: []NonLinear{nl}}
		if len(tracking) > 0 {
			ads.TrackingEvents = &TrackingEvents{Tracking: tracking}
		}
		in.Creatives.Creative = append(in.Creatives.Creative, Creative{ID: id, NonLinearAds: ads})
	}
	return b
}

// WithCompanions adds a companion creative to the current ad
func (b *Builder) WithCompanions(companions ...Companion) *Builder {
	if len(companions) == 0 {
		return b
	}
	if in := b.inline(); in != nil {
		in.Creatives.Creative = append(in.Creatives.Creative, Creative{
			CompanionAds: &CompanionAds{Companion: companions},
		})
	}
	return b
}

// Done finalizes the current ad and adds it to the VAST
func (b *Builder) Done() *Builder {
	if b.err != nil {
		return b
	}
	if b.current != nil {
		b.vast.Ads = append(b.vast.Ads, *b.current)
		b.current = nil
	}
	return b
}

// Build returns the constructed VAST document
func (b *Builder) Build() (*VAST, error) {
	b.Done()
	if b.err != nil {
		return nil, b.err
	}
	return b.vast, nil
}

func (b *Builder) inline() *InLine {
	if b.err != nil {
		return nil
	}
	if b.current == nil || b.current.InLine == nil {
		b.err = errNoAd
		return nil
	}
	return b.current.InLine
}

// LinearBuilder provides a fluent interface for building linear creatives
type LinearBuilder struct {
	parent *Builder
	linear *Linear
}

// WithMediaFile adds a media file to the linear creative
func (lb *LinearBuilder) WithMediaFile(mf MediaFile) *LinearBuilder {
	if mf.Delivery == "" {
		mf.Delivery = "progressive"
	}
	lb.linear.MediaFiles.MediaFile = append(lb.linear.MediaFiles.MediaFile, mf)
	return lb
}

// WithTracking adds tracking URLs for event
func (lb *LinearBuilder) WithTracking(event string, urls ...string) *LinearBuilder {
	if len(urls) == 0 {
		return lb
	}
	if lb.linear.TrackingEvents == nil {
		lb.linear.TrackingEvents = &TrackingEvents{}
	}
	for _, u := range urls {
		lb.linear.TrackingEvents.Tracking = append(lb.linear.TrackingEvents.Tracking, Tracking{Event: event, Value: u})
	}
	return lb
}

// WithClickThrough sets the click-through URL
func (lb *LinearBuilder) WithClickThrough(url string) *LinearBuilder {
	if url == "" {
		return lb
	}
	lb.clicks().ClickThrough = &URL{Value: url}
	return lb
}

// WithClickTracking adds click tracking URLs
func (lb *LinearBuilder) WithClickTracking(urls ...string) *LinearBuilder {
	for _, u := range urls {
		lb.clicks().ClickTracking = append(lb.clicks().ClickTracking, URL{Value: u})
	}
	return lb
}

// WithCustomClicks adds custom click URLs
func (lb *LinearBuilder) WithCustomClicks(urls ...string) *LinearBuilder {
	for _, u := range urls {
		lb.clicks().CustomClick = append(lb.clicks().CustomClick, URL{Value: u})
	}
	return lb
}

// WithSkipOffset sets the skip offset for skippable ads
func (lb *LinearBuilder) WithSkipOffset(offset string) *LinearBuilder {
	lb.linear.SkipOffset = offset
	return lb
}

// WithAdParameters sets the parameters handed to interactive creatives
func (lb *LinearBuilder) WithAdParameters(params string) *LinearBuilder {
	if params != "" {
		lb.linear.AdParameters = &AdParameters{Value: params}
	}
	return lb
}

// EndLinear finishes the linear creative and returns to the ad builder
func (lb *LinearBuilder) EndLinear() *Builder {
	return lb.parent
}

func (lb *LinearBuilder) clicks() *VideoClicks {
	if lb.linear.VideoClicks == nil {
		lb.linear.VideoClicks = &VideoClicks{}
	}
	return lb.linear.VideoClicks
}

// CreateEmptyVAST creates an empty VAST response (no ads available)
func CreateEmptyVAST() *VAST {
	return &VAST{
		Version: DefaultVersion,
		Ads:     []Ad{},
	}
}
