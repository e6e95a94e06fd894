// Package chain keeps the wrapper ancestry of every ad seen by a resolution
// session so events and errors can be cascaded up to the root wrapper.
package chain

import (
	"strconv"
	"sync"

	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// Link is the registry record of one ad element.
type Link struct {
	Key       string
	ParentKey string // "" at the chain root
	ErrorURLs []string
	Depth     int

	// Template is the ad's own normalized template, nil until it parses.
	Template *vast.AdTemplate
	// Resolved is the merged leaf template once the chain completes.
	Resolved *vast.AdTemplate
}

// Registry maps ad keys to links. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	links map[string]*Link
	seq   int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{links: make(map[string]*Link)}
}

// Register records an ad element as soon as its document is fetched and
// returns its link. The ad id becomes the key unless it is empty or already
// taken, in which case a registry-unique synthetic key is assigned.
func (r *Registry) Register(id, parentKey string, errorURLs []string, depth int) Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id
	if _, taken := r.links[key]; key == "" || taken {
		r.seq++
		if id == "" {
			key = "_ad" + strconv.Itoa(r.seq)
		} else {
			key = id + "#" + strconv.Itoa(r.seq)
		}
	}

	link := &Link{
		Key:       key,
		ParentKey: parentKey,
		ErrorURLs: append([]string(nil), errorURLs...),
		Depth:     depth,
	}
	r.links[key] = link
	return *link
}

// SetTemplate stores the ad's own normalized template.
func (r *Registry) SetTemplate(key string, t *vast.AdTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link, ok := r.links[key]; ok {
		link.Template = t
	}
}

// SetResolved stores the merged leaf template of a completed chain.
func (r *Registry) SetResolved(key string, t *vast.AdTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link, ok := r.links[key]; ok {
		link.Resolved = t
	}
}

// Get returns a copy of the link for key.
func (r *Registry) Get(key string) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[key]
	if !ok {
		return Link{}, false
	}
	return *link, true
}

// Chain returns the link for key followed by each ancestor, nearest first.
// A parent cycle stops the walk.
func (r *Registry) Chain(key string) []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Link
	seen := make(map[string]bool)
	for key != "" && !seen[key] {
		link, ok := r.links[key]
		if !ok {
			break
		}
		seen[key] = true
		out = append(out, *link)
		key = link.ParentKey
	}
	return out
}

// Ancestors returns the ancestors of key, nearest first, excluding key itself.
func (r *Registry) Ancestors(key string) []Link {
	c := r.Chain(key)
	if len(c) == 0 {
		return nil
	}
	return c[1:]
}

// Len returns the number of registered links
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Reset drops every link.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = make(map[string]*Link)
	r.seq = 0
}
