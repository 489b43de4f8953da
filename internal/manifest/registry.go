// Package manifest loads the catalog of known games and the path patterns
// where each one keeps its saves. The catalog is ludusavi-format YAML; it is
// parsed once and held in an immutable Registry.
package manifest

import (
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidManifest is returned when the catalog cannot be decoded.
var ErrInvalidManifest = errors.New("manifest: invalid manifest")

// Entry is one game and its save path patterns, in manifest order.
type Entry struct {
	GameName     string   `json:"game_name"`
	PathPatterns []string `json:"path_patterns"`
}

// CustomPath is a user-supplied pattern for a game. The game need not exist
// in the upstream catalog.
type CustomPath struct {
	Game string
	Path string
}

// Registry indexes entries by game name. It is never mutated after
// construction and is safe for concurrent reads.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// NewRegistry builds a registry from entries. Entries with the same name are
// merged, keeping the first occurrence's position and appending new patterns.
func NewRegistry(entries []Entry) *Registry {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		r.add(e)
	}

	return r
}

func (r *Registry) add(e Entry) {
	name := strings.TrimSpace(e.GameName)
	if name == "" {
		return
	}

	idx, ok := r.byName[name]
	if !ok {
		r.byName[name] = len(r.entries)
		r.entries = append(r.entries, Entry{GameName: name})
		idx = len(r.entries) - 1
	}

	existing := &r.entries[idx]
	for _, p := range e.PathPatterns {
		if p == "" || slices.Contains(existing.PathPatterns, p) {
			continue
		}

		existing.PathPatterns = append(existing.PathPatterns, p)
	}
}

// WithCustomPaths returns a new registry with extra patterns merged in.
// Games not present in r are appended.
func (r *Registry) WithCustomPaths(custom []CustomPath) *Registry {
	merged := make([]Entry, 0, len(r.entries)+len(custom))
	merged = append(merged, r.Entries()...)

	for _, c := range custom {
		merged = append(merged, Entry{GameName: c.Game, PathPatterns: []string{c.Path}})
	}

	return NewRegistry(merged)
}

// Len returns the number of games.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries returns a copy of all entries in load order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = Entry{GameName: e.GameName, PathPatterns: slices.Clone(e.PathPatterns)}
	}

	return out
}

// Lookup finds a game by exact name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}

	e := r.entries[idx]

	return Entry{GameName: e.GameName, PathPatterns: slices.Clone(e.PathPatterns)}, true
}

// Names returns all game names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.GameName
	}

	slices.Sort(names)

	return names
}

// Search returns entries whose name contains query, ignoring case. An empty
// query matches nothing.
func (r *Registry) Search(query string) []Entry {
	q := foldName(query)
	if q == "" {
		return nil
	}

	var out []Entry

	for _, e := range r.entries {
		if strings.Contains(foldName(e.GameName), q) {
			out = append(out, Entry{GameName: e.GameName, PathPatterns: slices.Clone(e.PathPatterns)})
		}
	}

	return out
}

func foldName(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}
