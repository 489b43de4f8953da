package pathexpand

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ResolvedPath is one concrete path produced from a pattern. It is derived
// on every scan and never persisted.
type ResolvedPath struct {
	Pattern      string `json:"pattern"`
	AbsolutePath string `json:"absolute_path"`
	Exists       bool   `json:"exists"`
}

// Resolver expands patterns for a single platform and matching policy.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	platform Platform
	policy   Policy
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(platform Platform, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Resolver{
		platform: platform,
		policy:   policy,
		logger:   logger,
	}
}

// Policy returns the matching policy fixed at construction.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve expands one pattern. Missing paths are reported with Exists=false;
// the only errors are *PatternError values for malformed syntax or unknown
// variables. A pattern whose variables are unavailable here yields nil.
func (r *Resolver) Resolve(pattern string) ([]ResolvedPath, error) {
	return r.resolveInto(pattern, make(map[string]bool), nil)
}

// ResolveAll expands the patterns of one game in order, keeping only the
// first occurrence of each absolute path so totals are never counted twice.
func (r *Resolver) ResolveAll(patterns []string) ([]ResolvedPath, error) {
	seen := make(map[string]bool)

	var out []ResolvedPath

	for _, p := range patterns {
		var err error

		out, err = r.resolveInto(p, seen, out)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (r *Resolver) resolveInto(pattern string, seen map[string]bool, out []ResolvedPath) ([]ResolvedPath, error) {
	if err := validateSyntax(pattern); err != nil {
		return out, err
	}

	candidates, err := r.substitute(pattern)
	if err != nil {
		return out, err
	}

	if len(candidates) == 0 {
		r.logger.Debug("pattern uses a variable unavailable on this platform",
			slog.String("pattern", pattern),
		)

		return out, nil
	}

	for _, c := range candidates {
		root, segs, splitErr := splitPath(pattern, c)
		if splitErr != nil {
			return out, splitErr
		}

		joined := filepath.Join(append([]string{root}, segs...)...)

		literal := !hasWildcard(segs)
		if literal && (!r.policy.CaseInsensitive || pathExists(joined)) {
			out = r.add(out, seen, ResolvedPath{
				Pattern:      pattern,
				AbsolutePath: joined,
				Exists:       pathExists(joined),
			})

			continue
		}

		// Wildcards, or a literal path whose case differs from the disk.
		var matches []string
		r.expand(root, segs, &matches)

		if len(matches) == 0 {
			out = r.add(out, seen, ResolvedPath{Pattern: pattern, AbsolutePath: joined})

			continue
		}

		for _, m := range matches {
			out = r.add(out, seen, ResolvedPath{Pattern: pattern, AbsolutePath: m, Exists: true})
		}
	}

	r.logger.Debug("resolved pattern",
		slog.String("pattern", pattern),
		slog.Int("paths", len(out)),
	)

	return out, nil
}

func (r *Resolver) add(out []ResolvedPath, seen map[string]bool, rp ResolvedPath) []ResolvedPath {
	k := r.key(rp.AbsolutePath)
	if seen[k] {
		return out
	}

	seen[k] = true

	return append(out, rp)
}

// key is the dedupe identity of a path under the resolver's case policy.
func (r *Resolver) key(p string) string {
	k := norm.NFC.String(filepath.Clean(p))
	if r.policy.CaseInsensitive {
		k = cases.Fold().String(k)
	}

	return k
}

// expand walks dir matching segs and appends every existing match to out.
func (r *Resolver) expand(dir string, segs []string, out *[]string) {
	if len(segs) == 0 {
		*out = append(*out, dir)

		return
	}

	seg, rest := segs[0], segs[1:]

	switch {
	case seg == doubleStar && len(rest) == 0:
		// A trailing ** is the directory itself (scans are recursive) or,
		// when zero segments are not allowed, each of its entries.
		if r.policy.DoubleStarMatchesZero {
			if pathExists(dir) {
				*out = append(*out, dir)
			}

			return
		}

		for _, name := range r.children(dir, false, true) {
			*out = append(*out, filepath.Join(dir, name))
		}
	case seg == doubleStar:
		r.expandDoubleStar(dir, rest, r.policy.DoubleStarMatchesZero, out)
	case hasMeta(seg):
		for _, name := range r.children(dir, len(rest) > 0, true) {
			if matchSegment(seg, name, r.policy.CaseInsensitive) {
				r.expand(filepath.Join(dir, name), rest, out)
			}
		}
	default:
		r.expandLiteral(dir, seg, rest, out)
	}
}

// expandDoubleStar descends into real subdirectories only; following
// symlinked directories here could loop forever.
func (r *Resolver) expandDoubleStar(dir string, rest []string, allowZero bool, out *[]string) {
	if allowZero {
		r.expand(dir, rest, out)
	}

	for _, name := range r.children(dir, true, false) {
		r.expandDoubleStar(filepath.Join(dir, name), rest, true, out)
	}
}

func (r *Resolver) expandLiteral(dir, seg string, rest []string, out *[]string) {
	candidate := filepath.Join(dir, seg)
	if _, err := os.Lstat(candidate); err == nil {
		r.expand(candidate, rest, out)

		return
	}

	if !r.policy.CaseInsensitive {
		return
	}

	for _, name := range r.children(dir, len(rest) > 0, true) {
		if strings.EqualFold(name, seg) {
			r.expand(filepath.Join(dir, name), rest, out)
		}
	}
}

// children lists entry names of dir. dirsOnly restricts the list to
// directories; followLinks decides whether a symlink to a directory counts.
func (r *Resolver) children(dir string, dirsOnly, followLinks bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Debug("cannot list directory during expansion",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if dirsOnly && !isDirEntry(dir, e, followLinks) {
			continue
		}

		names = append(names, e.Name())
	}

	return names
}

func isDirEntry(dir string, e os.DirEntry, followLinks bool) bool {
	if e.IsDir() {
		return true
	}

	if !followLinks || e.Type()&os.ModeSymlink == 0 {
		return false
	}

	info, err := os.Stat(filepath.Join(dir, e.Name()))

	return err == nil && info.IsDir()
}

func pathExists(p string) bool {
	_, err := os.Stat(p)

	return err == nil
}

// matchSegment reports whether name matches a single-segment glob where *
// matches any run of characters and ? matches exactly one.
func matchSegment(pattern, name string, fold bool) bool {
	star, mark := -1, 0
	pi, ni := 0, 0

	for ni < len(name) {
		nr, nw := utf8.DecodeRuneInString(name[ni:])

		if pi < len(pattern) {
			pr, pw := utf8.DecodeRuneInString(pattern[pi:])

			switch {
			case pr == '*':
				star, mark = pi, ni
				pi += pw

				continue
			case pr == '?' || runeEqual(pr, nr, fold):
				pi += pw
				ni += nw

				continue
			}
		}

		if star < 0 {
			return false
		}

		// Backtrack: let the last * absorb one more rune.
		_, mw := utf8.DecodeRuneInString(name[mark:])
		mark += mw
		ni = mark
		pi = star + 1
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}

func runeEqual(a, b rune, fold bool) bool {
	if a == b {
		return true
	}

	if !fold {
		return false
	}

	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}
