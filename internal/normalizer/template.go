package normalizer

import (
	"errors"
	"strings"
)

var (
	errUnclosedPlaceholder = errors.New("unclosed ${ placeholder")
	errEmptyPlaceholder    = errors.New("empty ${} placeholder")
)

type segment struct {
	literal string
	path    string
}

// Template is a string with zero or more ${path} placeholders.
type Template struct {
	raw      string
	segments []segment
}

// ParseTemplate splits a template into literal and placeholder segments.
func ParseTemplate(s string) (Template, error) {
	t := Template{raw: s}
	rest := s
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			return t, nil
		}
		if i > 0 {
			t.segments = append(t.segments, segment{literal: rest[:i]})
		}
		end := strings.IndexByte(rest[i+2:], '}')
		if end < 0 {
			return Template{}, errUnclosedPlaceholder
		}
		path := strings.TrimSpace(rest[i+2 : i+2+end])
		if path == "" {
			return Template{}, errEmptyPlaceholder
		}
		t.segments = append(t.segments, segment{path: path})
		rest = rest[i+2+end+1:]
	}
}

// HasPlaceholders reports whether the template references any path.
func (t Template) HasPlaceholders() bool {
	for _, s := range t.segments {
		if s.path != "" {
			return true
		}
	}
	return false
}

// Render interpolates the template against root. Unresolved placeholders
// render as the empty string.
func (t Template) Render(root map[string]any) string {
	if !t.HasPlaceholders() {
		return t.raw
	}
	var b strings.Builder
	for _, s := range t.segments {
		if s.path == "" {
			b.WriteString(s.literal)
			continue
		}
		if v, ok := Lookup(root, s.path); ok {
			b.WriteString(Stringify(v))
		}
	}
	return b.String()
}

func (t Template) String() string { return t.raw }
