// Package vastxml models VAST documents for output. The resolution engine
// reads markup through pkg/vast; this package writes it back, one InLine ad
// per playable unit, so that players which cannot follow wrappers still get
// every tracking URL of the chain.
package vastxml

import (
	"encoding/xml"
	"fmt"
)

// VAST represents the root VAST document
type VAST struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []Ad     `xml:"Ad"`
}

// Ad represents a single ad
type Ad struct {
	ID       string  `xml:"id,attr,omitempty"`
	Sequence int     `xml:"sequence,attr,omitempty"`
	InLine   *InLine `xml:"InLine,omitempty"`
}

// InLine represents an inline ad
type InLine struct {
	AdSystem    AdSystem     `xml:"AdSystem"`
	AdTitle     string       `xml:"AdTitle"`
	Error       []URL        `xml:"Error,omitempty"`
	Impressions []Impression `xml:"Impression"`
	Creatives   Creatives    `xml:"Creatives"`
}

// AdSystem identifies the ad server
type AdSystem struct {
	Version string `xml:"version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// URL is a bare CDATA URL element
type URL struct {
	Value string `xml:",cdata"`
}

// Impression represents an impression tracking URL
type Impression struct {
	ID    string `xml:"id,attr,omitempty"`
	Value string `xml:",cdata"`
}

// Creatives contains the creative elements
type Creatives struct {
	Creative []Creative `xml:"Creative"`
}

// Creative represents a single creative
type Creative struct {
	ID           string        `xml:"id,attr,omitempty"`
	Sequence     int           `xml:"sequence,attr,omitempty"`
	Linear       *Linear       `xml:"Linear,omitempty"`
	NonLinearAds *NonLinearAds `xml:"NonLinearAds,omitempty"`
	CompanionAds *CompanionAds `xml:"CompanionAds,omitempty"`
}

// Linear represents a linear (video) creative
type Linear struct {
	SkipOffset     string          `xml:"skipoffset,attr,omitempty"`
	Duration       string          `xml:"Duration"`
	AdParameters   *AdParameters   `xml:"AdParameters,omitempty"`
	MediaFiles     MediaFiles      `xml:"MediaFiles"`
	TrackingEvents *TrackingEvents `xml:"TrackingEvents,omitempty"`
	VideoClicks    *VideoClicks    `xml:"VideoClicks,omitempty"`
}

// AdParameters contains parameters for interactive creatives
type AdParameters struct {
	Value string `xml:",cdata"`
}

// MediaFiles contains the media file elements
type MediaFiles struct {
	MediaFile []MediaFile `xml:"MediaFile"`
}

// MediaFile represents a single media file. Numeric attributes are kept as
// written in the source markup.
type MediaFile struct {
	Delivery     string `xml:"delivery,attr"`
	Type         string `xml:"type,attr"`
	Bitrate      string `xml:"bitrate,attr,omitempty"`
	Width        string `xml:"width,attr,omitempty"`
	Height       string `xml:"height,attr,omitempty"`
	APIFramework string `xml:"apiFramework,attr,omitempty"`
	Value        string `xml:",cdata"`
}

// TrackingEvents contains tracking event elements
type TrackingEvents struct {
	Tracking []Tracking `xml:"Tracking"`
}

// Tracking represents a single tracking event
type Tracking struct {
	Event string `xml:"event,attr"`
	Value string `xml:",cdata"`
}

// VideoClicks contains click elements of a linear creative
type VideoClicks struct {
	ClickThrough  *URL  `xml:"ClickThrough,omitempty"`
	ClickTracking []URL `xml:"ClickTracking,omitempty"`
	CustomClick   []URL `xml:"CustomClick,omitempty"`
}

// NonLinearAds contains non-linear ad elements
type NonLinearAds struct {
	NonLinear      []NonLinear     `xml:"NonLinear"`
	TrackingEvents *TrackingEvents `xml:"TrackingEvents,omitempty"`
}

// NonLinear represents an overlay
type NonLinear struct {
	Width                  string          `xml:"width,attr,omitempty"`
	Height                 string          `xml:"height,attr,omitempty"`
	MinSuggestedDuration   string          `xml:"minSuggestedDuration,attr,omitempty"`
	APIFramework           string          `xml:"apiFramework,attr,omitempty"`
	StaticResource         *StaticResource `xml:"StaticResource,omitempty"`
	IFrameResource         *URL            `xml:"IFrameResource,omitempty"`
	HTMLResource           *URL            `xml:"HTMLResource,omitempty"`
	NonLinearClickThrough  *URL            `xml:"NonLinearClickThrough,omitempty"`
	NonLinearClickTracking []URL           `xml:"NonLinearClickTracking,omitempty"`
}

// StaticResource represents a static image or script resource
type StaticResource struct {
	CreativeType string `xml:"creativeType,attr,omitempty"`
	Value        string `xml:",cdata"`
}

// CompanionAds contains companion ad elements
type CompanionAds struct {
	Companion []Companion `xml:"Companion"`
}

// Companion represents a companion banner
type Companion struct {
	ID                     string          `xml:"id,attr,omitempty"`
	Width                  string          `xml:"width,attr,omitempty"`
	Height                 string          `xml:"height,attr,omitempty"`
	StaticResource         *StaticResource `xml:"StaticResource,omitempty"`
	IFrameResource         *URL            `xml:"IFrameResource,omitempty"`
	HTMLResource           *URL            `xml:"HTMLResource,omitempty"`
	CompanionClickThrough  *URL            `xml:"CompanionClickThrough,omitempty"`
	CompanionClickTracking []URL           `xml:"CompanionClickTracking,omitempty"`
	TrackingEvents         *TrackingEvents `xml:"TrackingEvents,omitempty"`
}

// Marshal serializes a VAST document to XML
func (v *VAST) Marshal() ([]byte, error) {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal VAST: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// IsEmpty returns true if the VAST has no ads
func (v *VAST) IsEmpty() bool {
	return len(v.Ads) == 0
}

// TrackingURLs returns the URLs of event across every creative of ad i, in
// document order.
func (v *VAST) TrackingURLs(i int, event string) []string {
	if i < 0 || i >= len(v.Ads) || v.Ads[i].InLine == nil {
		return nil
	}
	var out []string
	collect := func(te *TrackingEvents) {
		if te == nil {
			return
		}
		for _, t := range te.Tracking {
			if t.Event == event {
				out = append(out, t.Value)
			}
		}
	}
	for _, c := range v.Ads[i].InLine.Creatives.Creative {
		if c.Linear != nil {
			collect(c.Linear.TrackingEvents)
		}
		if c.NonLinearAds != nil {
			collect(c.NonLinearAds.TrackingEvents)
		}
	}
	return out
}
