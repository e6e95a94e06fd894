package vast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Classification describes the mix of ads found in a document
type Classification int

const (
	ClassEmpty Classification = iota
	ClassAllWrapper
	ClassAllInline
	ClassMixed
)

func (c Classification) String() string {
	switch c {
	case ClassAllWrapper:
		return "all_wrapper"
	case ClassAllInline:
		return "all_inline"
	case ClassMixed:
		return "mixed"
	default:
		return "empty"
	}
}

// Features are the protocol capabilities gated by the major version.
type Features struct {
	Podded   bool
	Fallback bool
}

// supportedMajors maps a supported major version to its features.
var supportedMajors = map[int]Features{
	2: {},
	3: {Podded: true, Fallback: true},
}

// FeaturesFor returns the features of a major version and whether the
// version is supported at all.
func FeaturesFor(major int) (Features, bool) {
	f, ok := supportedMajors[major]
	return f, ok
}

// MajorVersion returns the leading numeric segment of a version string.
func MajorVersion(version string) (int, error) {
	head, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("invalid VAST version %q", version)
	}
	return major, nil
}

// Document is one fetched VAST document after classification and normalization.
type Document struct {
	Version  string
	Major    int
	Features Features
	Class    Classification

	// ErrorURLs are the document level Error elements of a no-ads response.
	ErrorURLs []string

	// AdElements holds every raw Ad element in document order.
	AdElements []Node

	// Podded is indexed by sequence-1 and may contain nil holes.
	Podded     []*AdTemplate
	Standalone []*AdTemplate

	// Skipped lists the positions of Ad elements that failed to normalize.
	Skipped []int
}

// Templates returns every normalized ad, podded slots first in sequence order.
func (d *Document) Templates() []*AdTemplate {
	out := make([]*AdTemplate, 0, len(d.Podded)+len(d.Standalone))
	for _, t := range d.Podded {
		if t != nil {
			out = append(out, t)
		}
	}
	return append(out, d.Standalone...)
}

// AdElements returns every Ad element of a document in order.
func AdElements(doc Node) []Node {
	if doc == nil {
		return nil
	}
	return doc.FindAll("Ad")
}

// ResolveDocument classifies a fetched document and normalizes its ads.
//
// A document without Ad elements fails with CodeWrapperNoAds before any
// validity check; the returned Document still carries the top-level Error
// URLs so the caller can ping them.
func ResolveDocument(doc Node) (*Document, error) {
	d := &Document{}
	if doc == nil {
		return d, NewError(CodeXMLParsing, "empty document", nil)
	}

	d.AdElements = AdElements(doc)
	if len(d.AdElements) == 0 {
		// with no Ad elements every Error element is document level
		d.ErrorURLs = textsOf(doc, "Error")
		return d, NewError(CodeWrapperNoAds, "document contains no ads", nil)
	}

	roots := doc.FindAll("VAST")
	switch {
	case len(roots) == 0:
		return d, NewError(CodeSchemaValidation, "missing VAST root element", nil)
	case len(roots) > 1:
		return d, NewError(CodeSchemaValidation, fmt.Sprintf("found %d VAST root elements", len(roots)), nil)
	}

	d.Version = strings.TrimSpace(attrOf(roots[0], "version"))
	major, err := MajorVersion(d.Version)
	if err != nil {
		return d, NewError(CodeVersionUnsupported, "unreadable version", err)
	}
	features, ok := FeaturesFor(major)
	if !ok {
		return d, NewError(CodeVersionUnsupported, fmt.Sprintf("unsupported VAST version: %s", d.Version), nil)
	}
	d.Major = major
	d.Features = features

	var inline, wrappers int
	for i, el := range d.AdElements {
		t, err := NormalizeAd(el, d.Version)
		if err != nil {
			log.Warn().Err(err).Int("position", i).Str("ad_id", attrOf(el, "id")).Msg("Skipping unparsable ad")
			d.Skipped = append(d.Skipped, i)
			continue
		}
		t.Position = i
		if t.Kind == KindWrapper {
			wrappers++
		} else {
			inline++
		}
		d.place(t)
	}

	switch {
	case inline == 0 && wrappers == 0:
		d.Class = ClassEmpty
	case inline == 0:
		d.Class = ClassAllWrapper
	case wrappers == 0:
		d.Class = ClassAllInline
	default:
		d.Class = ClassMixed
	}

	return d, nil
}

// maxSequence bounds the podded slice a single document can allocate.
const maxSequence = 1024

// place routes a template into the podded or standalone bucket.
func (d *Document) place(t *AdTemplate) {
	if t.Sequence == 0 || t.Sequence > maxSequence || !d.Features.Podded {
		d.Standalone = append(d.Standalone, t)
		return
	}
	idx := t.Sequence - 1
	if idx >= len(d.Podded) {
		grown := make([]*AdTemplate, idx+1)
		copy(grown, d.Podded)
		d.Podded = grown
	}
	if d.Podded[idx] != nil {
		log.Warn().Int("sequence", t.Sequence).Str("ad_id", t.ID).Msg("Duplicate ad sequence, treating as standalone")
		d.Standalone = append(d.Standalone, t)
		return
	}
	d.Podded[idx] = t
}
