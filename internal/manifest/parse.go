package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// fileRule is the per-pattern value in a manifest "files" map.
type fileRule struct {
	Tags []string        `yaml:"tags"`
	When []fileCondition `yaml:"when"`
}

type fileCondition struct {
	OS    string `yaml:"os"`
	Store string `yaml:"store"`
}

// manifestOS maps a GOOS value to the os names used by the manifest.
func manifestOS(goos string) string {
	if goos == "darwin" {
		return "mac"
	}

	return goos
}

// appliesTo reports whether a pattern is relevant on the given os. A rule
// with no conditions, or with any condition that does not name an os,
// applies everywhere.
func (f fileRule) appliesTo(osName string) bool {
	if len(f.When) == 0 {
		return true
	}

	for _, c := range f.When {
		if c.OS == "" || c.OS == osName {
			return true
		}
	}

	return false
}

// Parse decodes a ludusavi-format manifest for the given GOOS. Patterns keep
// their document order. Patterns restricted to other operating systems are
// dropped, as are games left with no patterns.
func Parse(data []byte, goos string) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if len(doc.Content) == 0 {
		return NewRegistry(nil), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping (line %d)", ErrInvalidManifest, root.Line)
	}

	osName := manifestOS(goos)
	entries := make([]Entry, 0, len(root.Content)/2)

	for i := 0; i+1 < len(root.Content); i += 2 {
		name, game := root.Content[i], root.Content[i+1]

		patterns, err := gamePatterns(game, osName)
		if err != nil {
			return nil, fmt.Errorf("%w: game %q: %w", ErrInvalidManifest, name.Value, err)
		}

		if len(patterns) == 0 {
			continue
		}

		entries = append(entries, Entry{GameName: name.Value, PathPatterns: patterns})
	}

	return NewRegistry(entries), nil
}

func gamePatterns(game *yaml.Node, osName string) ([]string, error) {
	if game.Kind != yaml.MappingNode {
		return nil, nil
	}

	files := mappingValue(game, "files")
	if files == nil || files.Kind != yaml.MappingNode {
		return nil, nil
	}

	var patterns []string

	for i := 0; i+1 < len(files.Content); i += 2 {
		key, val := files.Content[i], files.Content[i+1]

		var rule fileRule
		if val.Kind == yaml.MappingNode {
			if err := val.Decode(&rule); err != nil {
				return nil, fmt.Errorf("pattern %q at line %d: %w", key.Value, key.Line, err)
			}
		}

		if rule.appliesTo(osName) {
			patterns = append(patterns, key.Value)
		}
	}

	return patterns, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}

	return nil
}
