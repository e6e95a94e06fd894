package wrapper

import (
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// merge folds the wrapper ancestors of a leaf into a copy of the leaf.
// ancestors are ordered nearest first.
//
// Error, impression, companion and click tracking lists come out root first
// with the leaf last. Per-event tracking lists come out leaf first, then each
// ancestor nearest first.
func merge(leaf *vast.AdTemplate, ancestors []*vast.AdTemplate) *vast.AdTemplate {
	out := leaf.Clone()

	nearest := make([]*vast.AdTemplate, 0, len(ancestors))
	for _, a := range ancestors {
		if a != nil {
			nearest = append(nearest, a.Clone())
		}
	}
	if len(nearest) == 0 {
		return out
	}
	rootFirst := make([]*vast.AdTemplate, len(nearest))
	for i, a := range nearest {
		rootFirst[len(nearest)-1-i] = a
	}

	var errs, imps []string
	var companions []vast.Companion
	for _, a := range rootFirst {
		errs = append(errs, a.ErrorURLs...)
		imps = append(imps, a.ImpressionURLs...)
		companions = append(companions, a.Companions...)
	}
	out.ErrorURLs = append(errs, out.ErrorURLs...)
	out.ImpressionURLs = append(imps, out.ImpressionURLs...)
	if len(companions) > 0 {
		out.Companions = append(companions, out.Companions...)
	}

	if out.Linear != nil {
		var clicks, custom []string
		for _, a := range rootFirst {
			if a.Linear != nil {
				clicks = append(clicks, a.Linear.ClickTrackingURLs...)
				custom = append(custom, a.Linear.CustomClickURLs...)
			}
		}
		out.Linear.ClickTrackingURLs = append(clicks, out.Linear.ClickTrackingURLs...)
		out.Linear.CustomClickURLs = append(custom, out.Linear.CustomClickURLs...)

		for _, a := range nearest {
			if a.Linear != nil {
				appendTracking(out.Linear.Tracking, a.Linear.Tracking)
			}
		}
	}

	if out.NonLinear != nil {
		var clicks []string
		for _, a := range rootFirst {
			if a.NonLinear != nil {
				clicks = append(clicks, a.NonLinear.ClickTrackingURLs...)
			}
		}
		out.NonLinear.ClickTrackingURLs = append(clicks, out.NonLinear.ClickTrackingURLs...)

		for _, a := range nearest {
			if a.NonLinear != nil {
				appendTracking(out.NonLinear.Tracking, a.NonLinear.Tracking)
			}
		}
	}

	return out
}

// appendTracking appends src per event onto dst, leaving dst's own URLs first.
func appendTracking(dst, src map[string][]string) {
	if dst == nil {
		return
	}
	for _, name := range vast.TrackedEvents {
		if urls := src[name]; len(urls) > 0 {
			dst[name] = append(dst[name], urls...)
		}
	}
}
