// Package backup reconciles detected games against the remote profile
// registry and uploads their saves. Each game succeeds or fails on its own;
// one failure never stops the rest of a batch.
package backup

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/saveknight/saveknight-go/internal/api"
)

// ProfileKey is the identity used to match a game to a profile: the
// trimmed, NFC-normalized, case-folded name.
func ProfileKey(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// ProfileCache is the session's view of remote profiles. Entries are only
// ever added; the first profile stored for a key wins.
type ProfileCache struct {
	mu     sync.RWMutex
	byKey  map[string]api.GameProfile
	order  []string
	loaded bool
}

// NewProfileCache returns an empty cache.
func NewProfileCache() *ProfileCache {
	return &ProfileCache{byKey: make(map[string]api.GameProfile)}
}

// Lookup finds a profile by case-insensitive name.
func (c *ProfileCache) Lookup(name string) (api.GameProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byKey[ProfileKey(name)]

	return p, ok
}

// Add stores p unless a profile with the same key exists, and returns the
// profile now cached for that key.
func (c *ProfileCache) Add(p api.GameProfile) api.GameProfile {
	k := ProfileKey(p.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byKey[k]; ok {
		return existing
	}

	c.byKey[k] = p
	c.order = append(c.order, k)

	return p
}

// Merge adds every profile from a remote listing and marks the cache as
// loaded.
func (c *ProfileCache) Merge(profiles []api.GameProfile) {
	for _, p := range profiles {
		c.Add(p)
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
}

// Loaded reports whether a remote listing has been merged.
func (c *ProfileCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.loaded
}

// Profiles returns cached profiles in insertion order.
func (c *ProfileCache) Profiles() []api.GameProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]api.GameProfile, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}

	return out
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Selection is the set of games picked for the next backup.
type Selection struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewSelection returns a selection holding names.
func NewSelection(names ...string) *Selection {
	s := &Selection{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}

	return s
}

func (s *Selection) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names[name] = struct{}{}
}

func (s *Selection) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.names, name)
}

// Toggle flips membership and reports whether name is now selected.
func (s *Selection) Toggle(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[name]; ok {
		delete(s.names, name)
		return false
	}

	s.names[name] = struct{}{}

	return true
}

func (s *Selection) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.names[name]

	return ok
}

// Names returns the selected names sorted.
func (s *Selection) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}

	slices.Sort(out)

	return out
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.names)
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.names)
}
