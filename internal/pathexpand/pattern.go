package pathexpand

import (
	"fmt"
	"path/filepath"
	"strings"
)

// doubleStar is the whole-segment wildcard matching any number of segments.
const doubleStar = "**"

// validateSyntax checks wildcard placement on the raw pattern, before any
// variable substitution, so syntax errors surface even when a variable is
// unavailable on this platform.
func validateSyntax(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return malformed(pattern, "empty pattern")
	}

	for _, seg := range strings.FieldsFunc(pattern, isSlash) {
		if strings.Contains(seg, doubleStar) && seg != doubleStar {
			return malformed(pattern, "%q: '**' must be a whole path segment", seg)
		}
	}

	return nil
}

func isSlash(r rune) bool {
	return r == '/' || r == '\\'
}

// substitute replaces every <variable> in pattern. It returns one candidate
// per combination of multi-valued variables, or nil when a referenced
// variable is unavailable on this platform.
func (r *Resolver) substitute(pattern string) ([]string, error) {
	results := []string{""}
	unavailable := false
	rest := pattern

	for rest != "" {
		open := strings.IndexAny(rest, "<>")
		if open < 0 {
			results = appendSuffix(results, rest)

			break
		}

		offset := len(pattern) - len(rest) + open
		if rest[open] == '>' {
			return nil, malformed(pattern, "unbalanced '>' at offset %d", offset)
		}

		literal := rest[:open]
		after := rest[open+1:]

		end := strings.IndexAny(after, "<>")
		if end < 0 || after[end] == '<' {
			return nil, malformed(pattern, "unterminated variable at offset %d", offset)
		}

		name := after[:end]
		if name == "" {
			return nil, malformed(pattern, "empty variable name at offset %d", offset)
		}

		vals, known := r.platform.values(name)
		if !known {
			return nil, &PatternError{
				Pattern: pattern,
				Reason:  fmt.Sprintf("unknown variable <%s>", name),
				Err:     ErrUnknownVariable,
			}
		}

		if len(vals) == 0 {
			unavailable = true
		}

		next := make([]string, 0, len(results)*len(vals))
		for _, prefix := range results {
			for _, v := range vals {
				next = append(next, prefix+literal+normalizeValue(v))
			}
		}

		results = next
		rest = after[end+1:]
	}

	if unavailable {
		return nil, nil
	}

	return results, nil
}

func appendSuffix(prefixes []string, suffix string) []string {
	for i := range prefixes {
		prefixes[i] += suffix
	}

	return prefixes
}

// normalizeValue converts a directory value to forward slashes and drops
// trailing separators so "<home>/x" joins cleanly.
func normalizeValue(v string) string {
	v = filepath.ToSlash(v)
	if len(v) > 1 {
		v = strings.TrimRight(v, "/")
	}

	if v == "/" {
		return ""
	}

	return v
}

// splitPath breaks a substituted pattern into its filesystem root and the
// remaining segments. ".." pops the previous segment.
func splitPath(pattern, substituted string) (root string, segs []string, err error) {
	native := filepath.FromSlash(substituted)
	if !filepath.IsAbs(native) {
		return "", nil, malformed(pattern, "does not expand to an absolute path (got %q)", substituted)
	}

	vol := filepath.VolumeName(native)
	root = vol + string(filepath.Separator)

	for _, seg := range strings.Split(native[len(vol):], string(filepath.Separator)) {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}

			continue
		}

		segs = append(segs, seg)
	}

	return root, segs, nil
}

func hasMeta(seg string) bool {
	return strings.ContainsAny(seg, "*?")
}

func hasWildcard(segs []string) bool {
	for _, s := range segs {
		if hasMeta(s) {
			return true
		}
	}

	return false
}
