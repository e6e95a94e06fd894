package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/ctv"
	"github.com/thenexusengine/tne_vastplayer/internal/engine"
	"github.com/thenexusengine/tne_vastplayer/internal/pod"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
	"github.com/thenexusengine/tne_vastplayer/pkg/vastxml"
)

// EngineFactory creates a fresh engine for one request
type EngineFactory func() (*engine.Engine, error)

// ResolveHandler resolves VAST tags and VMAP schedules on behalf of players
// that cannot follow wrapper chains themselves.
type ResolveHandler struct {
	newEngine EngineFactory
}

// NewResolveHandler creates a new resolve handler
func NewResolveHandler(factory EngineFactory) *ResolveHandler {
	return &ResolveHandler{newEngine: factory}
}

// SkipSummary describes the skip button of a member
type SkipSummary struct {
	Allowed   bool    `json:"allowed"`
	Offset    float64 `json:"offset"`
	IsPercent bool    `json:"is_percent,omitempty"`
}

// MemberSummary describes one pod member
type MemberSummary struct {
	ID           string      `json:"id"`
	Key          string      `json:"key"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	Length       int         `json:"length"`
	DurationMs   int64       `json:"duration_ms,omitempty"`
	Interactive  bool        `json:"interactive,omitempty"`
	Skip         SkipSummary `json:"skip"`
	MediaFiles   []string    `json:"media_files,omitempty"`
	ClickThrough string      `json:"click_through,omitempty"`
}

// RejectionSummary describes an ad left out of the pod
type RejectionSummary struct {
	ID    string `json:"id"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// PodSummary is the response of GET /api/v1/resolve
type PodSummary struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Version   string             `json:"version"`
	Members   []MemberSummary    `json:"members"`
	Fallback  *MemberSummary     `json:"fallback,omitempty"`
	Rejected  []RejectionSummary `json:"rejected,omitempty"`
}

// BreakSummary describes one VMAP break
type BreakSummary struct {
	ID         string   `json:"id,omitempty"`
	Types      []string `json:"types,omitempty"`
	Roll       string   `json:"roll"`
	Offset     string   `json:"offset"`
	OffsetKind string   `json:"offset_kind"`
	RepeatMs   int64    `json:"repeat_after_ms,omitempty"`
	AdTagURI   string   `json:"ad_tag_uri,omitempty"`
	InlineVAST bool     `json:"inline_vast,omitempty"`
}

// OccurrenceSummary is one play point of a break
type OccurrenceSummary struct {
	BreakID  string `json:"break_id,omitempty"`
	OffsetMs int64  `json:"offset_ms"`
}

// ScheduleSummary is the response of GET /api/v1/schedule
type ScheduleSummary struct {
	Version     string              `json:"version"`
	Breaks      []BreakSummary      `json:"breaks"`
	Occurrences []OccurrenceSummary `json:"occurrences,omitempty"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// HandleResolve handles GET /api/v1/resolve?tag=<url>[&format=vast]. The
// vast format answers with a flattened VAST document instead of a summary.
func (h *ResolveHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	tag, err := urlParam(r, "tag")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	asVAST := false
	switch f := r.URL.Query().Get("format"); f {
	case "", "json":
	case "vast":
		asVAST = true
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unsupported format " + f})
		return
	}

	e, err := h.newEngine()
	if err != nil {
		log.Error().Err(err).Msg("Failed to create engine")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "engine unavailable"})
		return
	}
	defer e.Destroy()

	p, err := e.Resolve(r.Context(), tag)
	if err != nil {
		if vast.IsCode(err, vast.CodeWrapperNoAds) {
			log.Info().Str("tag", tag).Msg("No ads for tag")
		} else {
			log.Warn().Err(err).Str("tag", tag).Msg("Tag resolution failed")
		}
		if asVAST {
			writeVAST(w, vastxml.CreateEmptyVAST())
			return
		}
		writeResolveError(w, err)
		return
	}

	if asVAST {
		doc, err := FlattenPod(p, flattenOptionsFor(r))
		if err != nil {
			log.Error().Err(err).Str("session_id", p.SessionID).Msg("Failed to flatten pod")
			doc = vastxml.CreateEmptyVAST()
		}
		writeVAST(w, doc)
	} else {
		writeJSON(w, http.StatusOK, summarizePod(p))
	}

	log.Info().
		Str("session_id", p.SessionID).
		Int("members", p.Len()).
		Bool("has_fallback", p.Fallback != nil).
		Msg("Pod resolved")
}

// HandleSchedule handles GET /api/v1/schedule?url=<url>[&content_ms=<n>]
func (h *ResolveHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleURL, err := urlParam(r, "url")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var contentMs int64
	if v := r.URL.Query().Get("content_ms"); v != "" {
		contentMs, err = strconv.ParseInt(v, 10, 64)
		if err != nil || contentMs < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid content_ms"})
			return
		}
	}

	e, err := h.newEngine()
	if err != nil {
		log.Error().Err(err).Msg("Failed to create engine")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "engine unavailable"})
		return
	}
	defer e.Destroy()

	s, err := e.ResolveSchedule(r.Context(), scheduleURL)
	if err != nil {
		log.Warn().Err(err).Str("url", scheduleURL).Msg("Schedule resolution failed")
		writeResolveError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summarizeSchedule(s, contentMs))
}

func urlParam(r *http.Request, name string) (string, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", errors.New("missing " + name + " parameter")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("invalid " + name + " parameter")
	}
	return raw, nil
}

func writeResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrDestroyed) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "engine unavailable"})
		return
	}
	writeJSON(w, http.StatusBadGateway, ErrorResponse{
		Error: err.Error(),
		Code:  int(vast.CodeOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// flattenOptionsFor narrows media files for recognised CTV players
func flattenOptionsFor(r *http.Request) FlattenOptions {
	q := r.URL.Query()
	info := ctv.DetectDevice(ctv.Device{
		UA:    r.UserAgent(),
		Make:  q.Get("device_make"),
		Model: q.Get("device_model"),
	})
	if !info.IsCTV {
		return FlattenOptions{}
	}
	caps := ctv.GetCapabilities(info.Type)
	log.Debug().Str("device", string(info.Type)).Int("max_bitrate", caps.MaxBitrate).Msg("Filtering media files for device")
	return FlattenOptions{Device: &caps}
}

// writeVAST always answers 200; players treat an empty document as no ad.
func writeVAST(w http.ResponseWriter, doc *vastxml.VAST) {
	data, err := doc.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal VAST")
		data, _ = vastxml.CreateEmptyVAST().Marshal()
	}
	if doc.IsEmpty() {
		log.Debug().Msg("Serving empty VAST")
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func summarizePod(p *pod.Pod) PodSummary {
	out := PodSummary{
		ID:        p.ID,
		SessionID: p.SessionID,
		Version:   p.Version,
		Members:   make([]MemberSummary, 0, p.Len()),
	}
	for _, m := range p.Members {
		out.Members = append(out.Members, summarizeMember(m))
	}
	if p.Fallback != nil {
		fb := summarizeMember(p.Fallback)
		out.Fallback = &fb
	}
	for _, rej := range p.Rejected {
		out.Rejected = append(out.Rejected, RejectionSummary{
			ID:    rej.Member.ID(),
			Code:  int(vast.CodeOf(rej.Err)),
			Error: rej.Err.Error(),
		})
	}
	return out
}

func summarizeMember(m *pod.Member) MemberSummary {
	s := MemberSummary{
		ID:          m.ID(),
		Key:         m.Key,
		Name:        m.Name(),
		Type:        m.Type.String(),
		Index:       m.Index,
		Length:      m.Length,
		DurationMs:  m.DurationMs,
		Interactive: m.Interactive,
		Skip: SkipSummary{
			Allowed:   m.Skip.Allowed,
			Offset:    m.Skip.Offset,
			IsPercent: m.Skip.IsPercent,
		},
	}
	if l := m.Template.Linear; l != nil {
		for _, mf := range l.MediaFiles {
			s.MediaFiles = append(s.MediaFiles, mf.URL)
		}
		s.ClickThrough = l.ClickThrough
	}
	if nl := m.Template.NonLinear; nl != nil {
		if nl.URL != "" {
			s.MediaFiles = append(s.MediaFiles, nl.URL)
		}
		s.ClickThrough = nl.ClickThrough
	}
	return s
}

func summarizeSchedule(s *vast.Schedule, contentMs int64) ScheduleSummary {
	out := ScheduleSummary{
		Version: s.Version,
		Breaks:  make([]BreakSummary, 0, len(s.Entries)),
	}
	for _, e := range s.Entries {
		out.Breaks = append(out.Breaks, BreakSummary{
			ID:         e.BreakID,
			Types:      e.BreakTypes,
			Roll:       e.Roll(),
			Offset:     e.Offset.Raw,
			OffsetKind: e.Offset.Kind.String(),
			RepeatMs:   e.RepeatAfterMs,
			AdTagURI:   e.AdTagURI,
			InlineVAST: e.InlineVAST != nil,
		})
	}
	if contentMs > 0 {
		for _, occ := range s.Occurrences(contentMs) {
			out.Occurrences = append(out.Occurrences, OccurrenceSummary{
				BreakID:  occ.Entry.BreakID,
				OffsetMs: occ.OffsetMs,
			})
		}
	}
	return out
}
