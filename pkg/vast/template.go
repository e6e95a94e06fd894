package vast

// Kind distinguishes inline ads from wrappers
type Kind int

const (
	KindInline Kind = iota
	KindWrapper
)

func (k Kind) String() string {
	if k == KindWrapper {
		return "wrapper"
	}
	return "inline"
}

// Tracking event names recognised in TrackingEvents blocks
const (
	EventCreativeView     = "creativeView"
	EventStart            = "start"
	EventFirstQuartile    = "firstQuartile"
	EventMidpoint         = "midpoint"
	EventThirdQuartile    = "thirdQuartile"
	EventComplete         = "complete"
	EventMute             = "mute"
	EventUnmute           = "unmute"
	EventPause            = "pause"
	EventRewind           = "rewind"
	EventResume           = "resume"
	EventFullscreen       = "fullscreen"
	EventExitFullscreen   = "exitFullscreen"
	EventExpand           = "expand"
	EventCollapse         = "collapse"
	EventAcceptInvitation = "acceptInvitation"
	EventClose            = "close"
	EventSkip             = "skip"
)

// TrackedEvents is the closed list of events extracted for every creative.
var TrackedEvents = []string{
	EventCreativeView,
	EventStart,
	EventMidpoint,
	EventFirstQuartile,
	EventThirdQuartile,
	EventComplete,
	EventMute,
	EventUnmute,
	EventPause,
	EventRewind,
	EventResume,
	EventFullscreen,
	EventExitFullscreen,
	EventExpand,
	EventCollapse,
	EventAcceptInvitation,
	EventClose,
	EventSkip,
}

// AdTemplate is the normalized form of one Ad element.
type AdTemplate struct {
	Kind     Kind
	Version  string
	ID       string
	Key      string // registry key: ID, or a synthetic key when ID is empty
	Sequence int    // 0 when absent
	Position int    // index of the Ad element within its document

	AdSystem string
	AdTitle  string

	ErrorURLs      []string
	ImpressionURLs []string

	Linear     *Linear
	NonLinear  *NonLinear
	Companions []Companion

	WrapperTagURI string
}

// Linear is a linear (in-stream video) creative
type Linear struct {
	MediaFiles        []MediaFile
	Duration          string // raw HH:MM:SS[.mmm]
	ClickThrough      string
	ClickTrackingURLs []string
	CustomClickURLs   []string
	SkipOffset        string
	AdParameters      string
	Tracking          map[string][]string
}

// MediaFile keeps attribute values as they appear in the markup.
type MediaFile struct {
	URL          string
	Type         string
	Delivery     string
	APIFramework string
	Bitrate      string
	Width        string
	Height       string
}

// ResourceKind is the resource flavour of a nonlinear or companion creative
type ResourceKind int

const (
	ResourceNone ResourceKind = iota
	ResourceStatic
	ResourceIFrame
	ResourceHTML
)

func (r ResourceKind) String() string {
	switch r {
	case ResourceStatic:
		return "static"
	case ResourceIFrame:
		return "iframe"
	case ResourceHTML:
		return "html"
	default:
		return "none"
	}
}

// NonLinear is an overlay creative
type NonLinear struct {
	Resource             ResourceKind
	URL                  string
	CreativeType         string
	Data                 string
	Width                string
	Height               string
	MinSuggestedDuration string
	APIFramework         string
	ClickThrough         string
	ClickTrackingURLs    []string
	Tracking             map[string][]string
}

// Companion is a companion banner attached to an ad
type Companion struct {
	ID                string
	Width             string
	Height            string
	Resource          ResourceKind
	URL               string
	CreativeType      string
	Data              string
	ClickThrough      string
	ClickTrackingURLs []string
	Tracking          map[string][]string
}

// IsHybrid reports whether the template carries both creative types.
func (t *AdTemplate) IsHybrid() bool {
	return t.Linear != nil && t.NonLinear != nil
}

// IsInteractive reports whether the linear creative is an externally hosted
// interactive unit (VPAID).
func (t *AdTemplate) IsInteractive() bool {
	if t.Linear == nil {
		return false
	}
	for _, mf := range t.Linear.MediaFiles {
		if mf.APIFramework == "VPAID" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so merged and split templates never share slices.
func (t *AdTemplate) Clone() *AdTemplate {
	if t == nil {
		return nil
	}
	c := *t
	c.ErrorURLs = cloneStrings(t.ErrorURLs)
	c.ImpressionURLs = cloneStrings(t.ImpressionURLs)
	if t.Linear != nil {
		l := *t.Linear
		l.MediaFiles = append([]MediaFile(nil), t.Linear.MediaFiles...)
		l.ClickTrackingURLs = cloneStrings(t.Linear.ClickTrackingURLs)
		l.CustomClickURLs = cloneStrings(t.Linear.CustomClickURLs)
		l.Tracking = cloneTracking(t.Linear.Tracking)
		c.Linear = &l
	}
	if t.NonLinear != nil {
		n := *t.NonLinear
		n.ClickTrackingURLs = cloneStrings(t.NonLinear.ClickTrackingURLs)
		n.Tracking = cloneTracking(t.NonLinear.Tracking)
		c.NonLinear = &n
	}
	if t.Companions != nil {
		c.Companions = make([]Companion, len(t.Companions))
		for i, comp := range t.Companions {
			comp.ClickTrackingURLs = cloneStrings(comp.ClickTrackingURLs)
			comp.Tracking = cloneTracking(comp.Tracking)
			c.Companions[i] = comp
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func cloneTracking(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = cloneStrings(v)
	}
	return out
}
