// Package wrapper follows VAST wrapper chains down to inline ads.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/chain"
	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// ErrSuperseded is returned when the session context was cancelled by a reset,
// an explicit cancel or a newer request. Nothing is pinged in that case.
var ErrSuperseded = errors.New("resolution superseded")

// Fetcher retrieves and parses the document behind a tag URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (vast.Node, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, url string) (vast.Node, error)

// Fetch calls f(ctx, url)
func (f FetcherFunc) Fetch(ctx context.Context, url string) (vast.Node, error) {
	return f(ctx, url)
}

// Reporter receives error cascades. docURLs are document level error URLs of
// the failing response; key is the registry key of the nearest ad to blame
// ("" when the root request failed).
type Reporter interface {
	ReportError(ctx context.Context, reg *chain.Registry, key string, docURLs []string, code vast.ErrorCode)
}

// Options configures a Session
type Options struct {
	// MaxDepth caps wrapper nesting. 0 means unlimited.
	MaxDepth    int
	// NoRedirects fails every wrapper instead of following it.
	NoRedirects bool
	Metrics     *metrics.Metrics
}

// Ad is one resolved inline ad with its merged template.
type Ad struct {
	Template *vast.AdTemplate
	Key      string
	Depth    int

	order  []placement
	podded bool
}

// placement is the bucket position of an ad or one of its ancestors within
// its own document.
type placement struct {
	bucket int // 0 podded, 1 standalone
	index  int // sequence for podded, position for standalone
}

// Failure records a chain that could not be resolved.
type Failure struct {
	URL       string
	ParentKey string
	Depth     int
	Code      vast.ErrorCode
	Err       error
}

// Result is the outcome of a resolution.
type Result struct {
	SessionID string
	TagURL    string
	Version   string
	Features  vast.Features

	// Podded ads in pod order; Standalone ads in document order.
	Podded     []*Ad
	Standalone []*Ad

	MaxDepth int
	Failures []Failure
	Registry *chain.Registry
}

// Len returns the number of resolved ads
func (r *Result) Len() int {
	return len(r.Podded) + len(r.Standalone)
}

// step is one pending document fetch.
type step struct {
	url       string
	inline    vast.Node
	parentKey string
	depth     int
	order     []placement
	podded    bool
}

// outcomeKind tags what a processed ad turned out to be
type outcomeKind int

const (
	outcomeInline outcomeKind = iota
	outcomeWrapper
	outcomeFailure
)

// Session resolves one tag. It owns the chain registry of that tag.
type Session struct {
	ID       string
	fetcher  Fetcher
	reporter Reporter
	registry *chain.Registry
	opts     Options
	logger   zerolog.Logger
}

// NewSession creates a session with a fresh registry. reporter may be nil.
func NewSession(fetcher Fetcher, reporter Reporter, opts Options) *Session {
	id := uuid.New().String()
	return &Session{
		ID:       id,
		fetcher:  fetcher,
		reporter: reporter,
		registry: chain.NewRegistry(),
		opts:     opts,
		logger:   log.With().Str("component", "wrapper").Str("session_id", id).Logger(),
	}
}

// Registry returns the session's chain registry
func (s *Session) Registry() *chain.Registry {
	return s.registry
}

// Resolve fetches tagURL and follows every wrapper until each chain ends in
// an inline ad or fails.
func (s *Session) Resolve(ctx context.Context, tagURL string) (*Result, error) {
	return s.run(ctx, step{url: tagURL}, tagURL)
}

// ResolveDocument resolves an already parsed document, such as inline VAST
// data of a VMAP break. Wrappers inside it are fetched as usual.
func (s *Session) ResolveDocument(ctx context.Context, doc vast.Node) (*Result, error) {
	return s.run(ctx, step{inline: doc}, "")
}

func (s *Session) run(ctx context.Context, root step, tagURL string) (*Result, error) {
	start := time.Now()
	res := &Result{
		SessionID: s.ID,
		TagURL:    tagURL,
		Registry:  s.registry,
	}

	var ads []*Ad
	queue := []step{root}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return nil, ErrSuperseded
		}
		st := queue[0]
		queue = queue[1:]

		if st.depth > res.MaxDepth {
			res.MaxDepth = st.depth
		}

		next, leaves, failure := s.step(ctx, st, res)
		if errors.Is(failure, ErrSuperseded) {
			return nil, ErrSuperseded
		}
		if failure != nil {
			var f *Failure
			if errors.As(failure, &f) {
				res.Failures = append(res.Failures, *f)
			}
			continue
		}
		ads = append(ads, leaves...)
		queue = append(queue, next...)
	}

	s.place(res, ads)

	outcome := "success"
	var err error
	switch {
	case res.Len() > 0 && len(res.Failures) > 0:
		outcome = "partial"
	case res.Len() == 0 && len(res.Failures) > 0:
		outcome = "failed"
		f := res.Failures[0]
		err = vast.NewError(f.Code, fmt.Sprintf("resolving %s", tagURL), f.Err)
	case res.Len() == 0:
		outcome = "empty"
		err = vast.NewError(vast.CodeWrapperNoAds, "no playable ads", nil)
	}
	s.opts.Metrics.RecordResolution(outcome, time.Since(start), res.MaxDepth)

	s.logger.Debug().
		Str("tag_url", tagURL).
		Str("outcome", outcome).
		Int("ads", res.Len()).
		Int("failures", len(res.Failures)).
		Int("max_depth", res.MaxDepth).
		Msg("Resolution finished")

	return res, err
}

// step processes one document: fetch, classify, register every ad and turn
// each into an inline leaf or a follow-up step.
func (s *Session) step(ctx context.Context, st step, res *Result) ([]step, []*Ad, error) {
	if s.opts.MaxDepth > 0 && st.depth > s.opts.MaxDepth {
		return nil, nil, s.fail(ctx, st, nil, vast.NewError(vast.CodeWrapperLimitReached,
			fmt.Sprintf("wrapper depth %d exceeds limit %d", st.depth, s.opts.MaxDepth), nil))
	}
	if s.opts.NoRedirects && st.depth > 0 {
		return nil, nil, s.fail(ctx, st, nil, vast.NewError(vast.CodeWrapperLimitReached, "redirects are disabled", nil))
	}

	node := st.inline
	if node == nil {
		fetched, err := s.fetcher.Fetch(ctx, st.url)
		if ctx.Err() != nil {
			return nil, nil, ErrSuperseded
		}
		if err != nil {
			if !isCoded(err) {
				err = vast.NewError(vast.CodeWrapperTimeout, "fetch failed", err)
			}
			return nil, nil, s.fail(ctx, st, nil, err)
		}
		node = fetched
	}

	doc, err := vast.ResolveDocument(node)
	if err != nil {
		return nil, nil, s.fail(ctx, st, doc.ErrorURLs, err)
	}

	if st.depth == 0 {
		res.Version = doc.Version
		res.Features = doc.Features
	}

	keys := make([]string, len(doc.AdElements))
	for i, el := range doc.AdElements {
		link := s.registry.Register(attrValue(el, "id"), st.parentKey, vast.ErrorURLsOf(el), st.depth)
		keys[i] = link.Key
	}

	var next []step
	var leaves []*Ad
	for _, t := range doc.Templates() {
		t.Key = keys[t.Position]
		s.registry.SetTemplate(t.Key, t)

		podded := isPodded(doc, t)
		order := append(append([]placement(nil), st.order...), placementOf(t, podded))

		switch s.classify(t) {
		case outcomeInline:
			anc := s.ancestorTemplates(t.Key)
			merged := merge(t, anc)
			merged.Key = t.Key
			s.registry.SetResolved(t.Key, merged)
			leaves = append(leaves, &Ad{
				Template: merged,
				Key:      t.Key,
				Depth:    st.depth,
				order:    order,
				podded:   st.podded || podded,
			})
		case outcomeWrapper:
			next = append(next, step{
				url:       t.WrapperTagURI,
				parentKey: t.Key,
				depth:     st.depth + 1,
				order:     order,
				podded:    st.podded || podded,
			})
		default:
			f := s.fail(ctx, step{url: st.url, parentKey: t.Key, depth: st.depth + 1}, nil,
				vast.NewError(vast.CodeSchemaValidation, "wrapper has no VASTAdTagURI", nil))
			var failure *Failure
			if errors.As(f, &failure) {
				res.Failures = append(res.Failures, *failure)
			}
		}
	}

	return next, leaves, nil
}

func (s *Session) classify(t *vast.AdTemplate) outcomeKind {
	switch {
	case t.Kind == vast.KindInline:
		return outcomeInline
	case t.WrapperTagURI != "":
		return outcomeWrapper
	default:
		return outcomeFailure
	}
}

// ancestorTemplates returns the own templates of every ancestor, nearest first.
func (s *Session) ancestorTemplates(key string) []*vast.AdTemplate {
	links := s.registry.Ancestors(key)
	out := make([]*vast.AdTemplate, 0, len(links))
	for _, l := range links {
		out = append(out, l.Template)
	}
	return out
}

// fail reports a failed chain: the failing response's own error URLs, then
// the wrapper that led to it and each ancestor above, all with one code.
func (s *Session) fail(ctx context.Context, st step, docURLs []string, err error) error {
	code := vast.CodeOf(err)
	s.logger.Warn().
		Err(err).
		Str("url", st.url).
		Str("parent_key", st.parentKey).
		Int("depth", st.depth).
		Int("code", int(code)).
		Msg("Wrapper chain failed")

	s.opts.Metrics.RecordVASTError(int(code))
	if s.reporter != nil {
		s.reporter.ReportError(ctx, s.registry, st.parentKey, docURLs, code)
	}

	return &Failure{URL: st.url, ParentKey: st.parentKey, Depth: st.depth, Code: code, Err: err}
}

// Error implements error so failures can travel through step's error return.
func (f *Failure) Error() string {
	return fmt.Sprintf("chain failed at depth %d (%s): %v", f.Depth, f.URL, f.Err)
}

// Unwrap exposes the underlying cause
func (f *Failure) Unwrap() error {
	return f.Err
}

// place sorts leaves into pod order and standalone order. A leaf is podded
// when it or any of its ancestors sat in a podded bucket.
func (s *Session) place(res *Result, ads []*Ad) {
	sort.SliceStable(ads, func(i, j int) bool {
		return lessOrder(ads[i].order, ads[j].order)
	})
	for _, ad := range ads {
		if ad.podded {
			res.Podded = append(res.Podded, ad)
		} else {
			res.Standalone = append(res.Standalone, ad)
		}
	}
	if len(res.Podded) > 0 {
		// only a pod-capable document can place an ad in a podded bucket
		res.Features = vast.Features{Podded: true, Fallback: true}
	}
}

func isPodded(doc *vast.Document, t *vast.AdTemplate) bool {
	if t.Sequence == 0 || t.Sequence > len(doc.Podded) {
		return false
	}
	return doc.Podded[t.Sequence-1] == t
}

func placementOf(t *vast.AdTemplate, podded bool) placement {
	if podded {
		return placement{bucket: 0, index: t.Sequence}
	}
	return placement{bucket: 1, index: t.Position}
}

func lessOrder(a, b []placement) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].bucket != b[i].bucket {
			return a[i].bucket < b[i].bucket
		}
		if a[i].index != b[i].index {
			return a[i].index < b[i].index
		}
	}
	return len(a) < len(b)
}

func isCoded(err error) bool {
	var vErr *vast.Error
	return errors.As(err, &vErr)
}

func attrValue(n vast.Node, name string) string {
	v, _ := n.Attr(name)
	return v
}
