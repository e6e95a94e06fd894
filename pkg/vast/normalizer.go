package vast

import (
	"strconv"
	"strings"
)

// NormalizeAd turns one Ad element into an AdTemplate. It returns
// ErrUnparsableAd when the element has neither an InLine nor a Wrapper child.
func NormalizeAd(ad Node, version string) (*AdTemplate, error) {
	if ad == nil {
		return nil, ErrUnparsableAd
	}

	t := &AdTemplate{Version: version}

	var body Node
	if el := first(ad, "InLine"); el != nil {
		t.Kind = KindInline
		body = el
	} else if el := first(ad, "Wrapper"); el != nil {
		t.Kind = KindWrapper
		body = el
		t.WrapperTagURI = textOf(el, "VASTAdTagURI")
	} else {
		return nil, ErrUnparsableAd
	}

	t.ID = attrOf(ad, "id")
	if seq, ok := ad.Attr("sequence"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(seq)); err == nil && n > 0 {
			t.Sequence = n
		}
	}

	t.AdSystem = textOf(body, "AdSystem")
	t.AdTitle = textOf(body, "AdTitle")
	t.ErrorURLs = textsOf(body, "Error")
	t.ImpressionURLs = textsOf(body, "Impression")

	if el := first(body, "Linear"); el != nil {
		t.Linear = normalizeLinear(el)
	}
	if el := first(body, "NonLinearAds"); el != nil {
		t.NonLinear = normalizeNonLinear(el)
	}
	for _, el := range body.FindAll("Companion") {
		t.Companions = append(t.Companions, normalizeCompanion(el))
	}

	return t, nil
}

// ErrorURLsOf reads the error URLs of a raw Ad element without normalizing it.
// Used to register chain links before the full parse runs.
func ErrorURLsOf(ad Node) []string {
	for _, tag := range []string{"InLine", "Wrapper"} {
		if el := first(ad, tag); el != nil {
			return textsOf(el, "Error")
		}
	}
	return textsOf(ad, "Error")
}

func normalizeLinear(el Node) *Linear {
	l := &Linear{
		Duration:          textOf(el, "Duration"),
		ClickThrough:      textOf(el, "ClickThrough"),
		ClickTrackingURLs: textsOf(el, "ClickTracking"),
		CustomClickURLs:   textsOf(el, "CustomClick"),
		SkipOffset:        strings.TrimSpace(attrOf(el, "skipoffset")),
		AdParameters:      textOf(el, "AdParameters"),
		Tracking:          trackingOf(first(el, "TrackingEvents")),
	}
	for _, mf := range el.FindAll("MediaFile") {
		l.MediaFiles = append(l.MediaFiles, MediaFile{
			URL:          strings.TrimSpace(mf.Text()),
			Type:         attrOf(mf, "type"),
			Delivery:     attrOf(mf, "delivery"),
			APIFramework: attrOf(mf, "apiFramework"),
			Bitrate:      attrOf(mf, "bitrate"),
			Width:        attrOf(mf, "width"),
			Height:       attrOf(mf, "height"),
		})
	}
	return l
}

func normalizeNonLinear(ads Node) *NonLinear {
	n := &NonLinear{
		ClickTrackingURLs: []string{},
		Tracking:          trackingOf(first(ads, "TrackingEvents")),
	}
	el := first(ads, "NonLinear")
	if el == nil {
		return n
	}
	n.Width = attrOf(el, "width")
	n.Height = attrOf(el, "height")
	n.MinSuggestedDuration = attrOf(el, "minSuggestedDuration")
	n.APIFramework = attrOf(el, "apiFramework")
	n.Resource, n.URL, n.CreativeType, n.Data = resourceOf(el)
	n.ClickThrough = textOf(el, "NonLinearClickThrough")
	n.ClickTrackingURLs = textsOf(el, "NonLinearClickTracking")
	return n
}

func normalizeCompanion(el Node) Companion {
	c := Companion{
		ID:                attrOf(el, "id"),
		Width:             attrOf(el, "width"),
		Height:            attrOf(el, "height"),
		ClickThrough:      textOf(el, "CompanionClickThrough"),
		ClickTrackingURLs: textsOf(el, "CompanionClickTracking"),
		Tracking:          trackingOf(first(el, "TrackingEvents")),
	}
	c.Resource, c.URL, c.CreativeType, c.Data = resourceOf(el)
	return c
}

// resourceOf picks the first available resource in static, iframe, html order.
func resourceOf(el Node) (ResourceKind, string, string, string) {
	if r := first(el, "StaticResource"); r != nil {
		return ResourceStatic, strings.TrimSpace(r.Text()), attrOf(r, "creativeType"), ""
	}
	if r := first(el, "IFrameResource"); r != nil {
		return ResourceIFrame, strings.TrimSpace(r.Text()), "", ""
	}
	if r := first(el, "HTMLResource"); r != nil {
		return ResourceHTML, "", "text/html", strings.TrimSpace(r.Text())
	}
	return ResourceNone, "", "", ""
}

// trackingOf builds the per-event URL map. Every tracked event gets a key,
// an empty slice when nothing is configured for it.
func trackingOf(events Node) map[string][]string {
	out := make(map[string][]string, len(TrackedEvents))
	for _, name := range TrackedEvents {
		out[name] = []string{}
	}
	if events == nil {
		return out
	}
	for _, tr := range events.FindAll("Tracking") {
		name, _ := tr.Attr("event")
		urls, tracked := out[name]
		if !tracked {
			continue
		}
		if u := strings.TrimSpace(tr.Text()); u != "" {
			out[name] = append(urls, u)
		}
	}
	return out
}
