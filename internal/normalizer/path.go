package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Lookup resolves a dotted path against a nested map. At each level the
// longest run of remaining segments joined by "." is tried as a key first,
// then shorter runs, so keys that themselves contain dots (SNMP OIDs) stay
// reachable. Missing keys and non-map intermediates yield false.
func Lookup(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	v, ok := resolve(root, strings.Split(path, "."))
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func resolve(node any, segs []string) (any, bool) {
	if len(segs) == 0 {
		return node, true
	}
	switch m := node.(type) {
	case map[string]any:
		for n := len(segs); n >= 1; n-- {
			v, ok := m[strings.Join(segs[:n], ".")]
			if !ok {
				continue
			}
			if out, ok := resolve(v, segs[n:]); ok {
				return out, true
			}
		}
	case map[string]string:
		// string leaves end the walk, so the rest of the path is the key
		v, ok := m[strings.Join(segs, ".")]
		return v, ok
	}
	return nil, false
}

// Stringify renders a resolved value the way templates and matchers see it.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// isBlank reports whether a resolved value is missing or whitespace only.
func isBlank(v any, ok bool) bool {
	return !ok || strings.TrimSpace(Stringify(v)) == ""
}

// eventContext builds the root that match paths and templates resolve
// against.
func eventContext(e model.NormalizedEvent, tags map[string]string, attrs map[string]any, captures map[string]string) map[string]any {
	caps := make(map[string]any, len(captures))
	for k, v := range captures {
		caps[k] = v
	}
	return map[string]any{
		"captures": caps,
		"source": map[string]any{
			"ip":        e.Source.Host,
			"host":      e.Source.Host,
			"port":      e.Source.Port,
			"hostname":  e.Source.Hostname,
			"transport": string(e.Source.Transport),
		},
		"attributes": attrs,
		"tags":       tags,
		"plugin":     e.PluginID,
		"protocol":   string(e.Protocol),
		"kind":       string(e.Kind),
		"severity":   string(e.Severity),
	}
}
