package vast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// OffsetKind identifies how an ad break time offset is expressed
type OffsetKind int

const (
	OffsetStart OffsetKind = iota
	OffsetEnd
	OffsetTime
	OffsetPercent
	OffsetPosition
)

func (k OffsetKind) String() string {
	switch k {
	case OffsetStart:
		return "start"
	case OffsetEnd:
		return "end"
	case OffsetTime:
		return "time"
	case OffsetPercent:
		return "percent"
	default:
		return "position"
	}
}

// Offset is a parsed VMAP timeOffset value.
type Offset struct {
	Kind     OffsetKind
	Millis   int64   // OffsetTime
	Percent  float64 // OffsetPercent
	Position int     // OffsetPosition, 1-based
	Raw      string
}

// ParseOffset parses "start", "end", "HH:MM:SS[.mmm]", "N%" and "#N".
func ParseOffset(raw string) (Offset, error) {
	s := strings.TrimSpace(raw)
	o := Offset{Raw: s}
	switch {
	case s == "":
		return o, fmt.Errorf("empty time offset")
	case strings.EqualFold(s, "start"):
		o.Kind = OffsetStart
	case strings.EqualFold(s, "end"):
		o.Kind = OffsetEnd
	case strings.HasPrefix(s, "#"):
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 1 {
			return o, fmt.Errorf("invalid position offset %q", s)
		}
		o.Kind = OffsetPosition
		o.Position = n
	case IsPercent(s):
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil || n < 0 || n > 100 {
			return o, fmt.Errorf("invalid percent offset %q", s)
		}
		o.Kind = OffsetPercent
		o.Percent = n
	default:
		ms, ok := ConvertTimestamp(s)
		if !ok {
			return o, fmt.Errorf("invalid time offset %q", s)
		}
		o.Kind = OffsetTime
		o.Millis = ms
	}
	return o, nil
}

// Resolve places the offset on a content timeline of contentMs. Position
// offsets, and end or percent offsets with an unknown duration, have no value.
func (o Offset) Resolve(contentMs int64) (int64, bool) {
	switch o.Kind {
	case OffsetStart:
		return 0, true
	case OffsetTime:
		return o.Millis, true
	case OffsetEnd:
		return contentMs, contentMs > 0
	case OffsetPercent:
		if contentMs <= 0 {
			return 0, false
		}
		return ConvertPercent(o.Raw, contentMs)
	default:
		return 0, false
	}
}

// VMAP break tracking event names
const (
	BreakEventStart = "breakStart"
	BreakEventEnd   = "breakEnd"
	BreakEventError = "error"
)

// BreakTracking holds the break level tracking URLs
type BreakTracking struct {
	BreakStart []string
	BreakEnd   []string
	Error      []string
}

// ScheduleEntry is one normalized AdBreak.
type ScheduleEntry struct {
	BreakID       string
	BreakTypes    []string
	Offset        Offset
	RepeatAfterMs int64

	SourceID         string
	AllowMultipleAds bool
	FollowRedirects  bool

	// Exactly one of AdTagURI or InlineVAST is set for a usable entry.
	AdTagURI     string
	TemplateType string
	InlineVAST   Node

	Tracking BreakTracking
}

// Roll names the break slot: preroll, midroll or postroll.
func (e *ScheduleEntry) Roll() string {
	switch {
	case e.Offset.Kind == OffsetStart, e.Offset.Kind == OffsetTime && e.Offset.Millis == 0:
		return "preroll"
	case e.Offset.Kind == OffsetEnd:
		return "postroll"
	case e.Offset.Kind == OffsetPercent && e.Offset.Percent == 0:
		return "preroll"
	case e.Offset.Kind == OffsetPercent && e.Offset.Percent == 100:
		return "postroll"
	case e.Offset.Kind == OffsetPosition && e.Offset.Position == 1:
		return "preroll"
	default:
		return "midroll"
	}
}

// HasBreakType reports whether the break allows the given type (linear,
// nonlinear, display). An entry without types allows everything.
func (e *ScheduleEntry) HasBreakType(kind string) bool {
	if len(e.BreakTypes) == 0 {
		return true
	}
	for _, t := range e.BreakTypes {
		if strings.EqualFold(t, kind) {
			return true
		}
	}
	return false
}

// Schedule is a parsed VMAP document. It carries no ad content.
type Schedule struct {
	Version string
	Entries []ScheduleEntry
}

// Occurrence is one concrete play point of a schedule entry
type Occurrence struct {
	Entry    *ScheduleEntry
	OffsetMs int64
}

// Occurrences expands the schedule over contentMs of content, repeating
// entries with a repeatAfter cadence. Entries that cannot be placed are left
// out. The result is ordered by offset, document order breaking ties.
func (s *Schedule) Occurrences(contentMs int64) []Occurrence {
	var out []Occurrence
	for i := range s.Entries {
		e := &s.Entries[i]
		at, ok := e.Offset.Resolve(contentMs)
		if !ok {
			continue
		}
		out = append(out, Occurrence{Entry: e, OffsetMs: at})
		if e.RepeatAfterMs <= 0 || contentMs <= 0 {
			continue
		}
		for next := at + e.RepeatAfterMs; next < contentMs; next += e.RepeatAfterMs {
			out = append(out, Occurrence{Entry: e, OffsetMs: next})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetMs < out[j].OffsetMs })
	return out
}

// ParseSchedule reads every AdBreak of a VMAP document. Breaks with an
// unreadable timeOffset or without an ad source are skipped and logged.
func ParseSchedule(doc Node) (*Schedule, error) {
	if doc == nil {
		return nil, NewError(CodeXMLParsing, "empty document", nil)
	}
	roots := doc.FindAll("VMAP")
	if len(roots) != 1 {
		return nil, NewError(CodeSchemaValidation, fmt.Sprintf("expected one VMAP root element, found %d", len(roots)), nil)
	}

	s := &Schedule{Version: strings.TrimSpace(attrOf(roots[0], "version"))}
	for i, br := range roots[0].FindAll("AdBreak") {
		entry, err := parseBreak(br)
		if err != nil {
			log.Warn().Err(err).Int("position", i).Str("break_id", attrOf(br, "breakId")).Msg("Skipping ad break")
			continue
		}
		s.Entries = append(s.Entries, entry)
	}
	return s, nil
}

func parseBreak(br Node) (ScheduleEntry, error) {
	e := ScheduleEntry{
		BreakID:          strings.TrimSpace(attrOf(br, "breakId")),
		AllowMultipleAds: true,
		FollowRedirects:  true,
	}

	offset, err := ParseOffset(attrOf(br, "timeOffset"))
	if err != nil {
		return e, err
	}
	e.Offset = offset

	for _, t := range strings.Split(attrOf(br, "breakType"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			e.BreakTypes = append(e.BreakTypes, strings.ToLower(t))
		}
	}

	if raw := strings.TrimSpace(attrOf(br, "repeatAfter")); raw != "" {
		ms, ok := ConvertTimestamp(raw)
		if !ok {
			return e, fmt.Errorf("invalid repeatAfter %q", raw)
		}
		e.RepeatAfterMs = ms
	}

	src := first(br, "AdSource")
	if src == nil {
		return e, fmt.Errorf("ad break has no AdSource")
	}
	e.SourceID = attrOf(src, "id")
	if v, ok := src.Attr("allowMultipleAds"); ok {
		e.AllowMultipleAds = parseBool(v, true)
	}
	if v, ok := src.Attr("followRedirects"); ok {
		e.FollowRedirects = parseBool(v, true)
	}

	if tag := first(src, "AdTagURI"); tag != nil {
		e.AdTagURI = strings.TrimSpace(tag.Text())
		e.TemplateType = attrOf(tag, "templateType")
	} else if data := first(src, "VASTAdData"); data != nil {
		e.InlineVAST = data
		e.TemplateType = "vast3"
	}
	if e.AdTagURI == "" && e.InlineVAST == nil {
		return e, fmt.Errorf("ad source has neither AdTagURI nor VASTAdData")
	}

	// break tracking lives under the AdBreak, VAST tracking uses other names
	for _, tr := range br.FindAll("Tracking") {
		name, _ := tr.Attr("event")
		url := strings.TrimSpace(tr.Text())
		if url == "" {
			continue
		}
		switch name {
		case BreakEventStart:
			e.Tracking.BreakStart = append(e.Tracking.BreakStart, url)
		case BreakEventEnd:
			e.Tracking.BreakEnd = append(e.Tracking.BreakEnd, url)
		case BreakEventError:
			e.Tracking.Error = append(e.Tracking.Error, url)
		}
	}

	return e, nil
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
