package normalizer

import (
	"strings"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// TrapOIDVarbind is snmpTrapOID.0, the varbind carrying a v2c/v3 trap's
// identity.
const TrapOIDVarbind = "1.3.6.1.6.3.1.1.4.1.0"

// defaultTrapOIDPaths is the fallback chain used to find an event's trap
// OID. The first path that resolves wins.
var defaultTrapOIDPaths = []string{
	"attributes." + TrapOIDVarbind,
	"attributes.snmp.varbinds." + TrapOIDVarbind,
	"attributes.snmpTrapOID",
}

// RuleNormalizer evaluates compiled rules against events.
type RuleNormalizer struct {
	name         string
	pluginID     string
	mode         Mode
	trapOIDPaths []string
	rules        []*Rule
}

// RuleOption configures a RuleNormalizer.
type RuleOption func(*RuleNormalizer)

// WithMode sets the dispatch mode. The default is ModeCascade.
func WithMode(m Mode) RuleOption {
	return func(n *RuleNormalizer) { n.mode = m }
}

// WithTrapOIDKey puts an attribute path at the head of the trap OID
// fallback chain. Paths without an "attributes." prefix are taken relative
// to the attributes.
func WithTrapOIDKey(key string) RuleOption {
	return func(n *RuleNormalizer) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if !strings.HasPrefix(key, "attributes.") {
			key = "attributes." + key
		}
		n.trapOIDPaths = append([]string{key}, defaultTrapOIDPaths...)
	}
}

// NewRuleNormalizer creates a normalizer over compiled rules. An empty
// pluginID makes it generic: it supports every event.
func NewRuleNormalizer(name, pluginID string, rules []*Rule, opts ...RuleOption) *RuleNormalizer {
	n := &RuleNormalizer{
		name:         name,
		pluginID:     pluginID,
		mode:         ModeCascade,
		trapOIDPaths: defaultTrapOIDPaths,
		rules:        rules,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewRuleNormalizerFromFile compiles a decoded rule file. The file's mode
// and trap OID key are applied before opts, so opts win.
func NewRuleNormalizerFromFile(name, pluginID string, rf RuleFile, opts ...RuleOption) (*RuleNormalizer, error) {
	mode, err := ParseMode(rf.Mode)
	if err != nil {
		return nil, &RuleCompileError{Rule: name, Field: "mode", Err: err}
	}
	rules, err := CompileAll(rf.Rules)
	if err != nil {
		return nil, err
	}
	base := []RuleOption{WithMode(mode), WithTrapOIDKey(rf.TrapOIDKey)}
	return NewRuleNormalizer(name, pluginID, rules, append(base, opts...)...), nil
}

// Name returns the normalizer identifier.
func (n *RuleNormalizer) Name() string { return n.name }

// Mode returns the dispatch mode.
func (n *RuleNormalizer) Mode() Mode { return n.mode }

// Rules returns the number of compiled rules.
func (n *RuleNormalizer) Rules() int { return len(n.rules) }

// Supports reports whether the event belongs to this normalizer's plugin.
func (n *RuleNormalizer) Supports(e model.NormalizedEvent) bool {
	return n.pluginID == "" || e.PluginID == n.pluginID
}

// Normalize applies matching rules and returns a new event. Only tags,
// attributes and severity can differ from the input. In cascade mode every
// rule is matched and rendered against the input event, and later writes
// win.
func (n *RuleNormalizer) Normalize(e model.NormalizedEvent) model.NormalizedEvent {
	tags := model.CopyTags(e.Tags)
	attrs := model.CopyAttributes(e.Attributes)
	sev := e.Severity
	changed := false

	// Every rule sees the input event. Only the writes accumulate.
	base := eventContext(e, e.Tags, e.Attributes, nil)
	for _, r := range n.rules {
		captures, ok := n.match(r, e, base)
		if !ok {
			continue
		}
		r.apply(withCaptures(base, captures), tags, attrs, &sev)
		changed = true
		if n.mode == ModeFirstMatch {
			break
		}
	}

	if !changed {
		return e
	}
	return e.WithEnrichment(tags, attrs, sev)
}

// TrapOID resolves an event's trap OID through the fallback chain.
func (n *RuleNormalizer) TrapOID(e model.NormalizedEvent) (string, bool) {
	return n.trapOID(eventContext(e, e.Tags, e.Attributes, nil))
}

func (n *RuleNormalizer) trapOID(root map[string]any) (string, bool) {
	for _, path := range n.trapOIDPaths {
		if v, ok := Lookup(root, path); ok {
			return strings.TrimPrefix(Stringify(v), "."), true
		}
	}
	return "", false
}

func (n *RuleNormalizer) match(r *Rule, e model.NormalizedEvent, root map[string]any) (map[string]any, bool) {
	if r.protocol != "" && e.Protocol != r.protocol {
		return nil, false
	}
	if r.plugin != "" && e.PluginID != r.plugin {
		return nil, false
	}
	if r.transport != "" && !strings.EqualFold(string(e.Source.Transport), string(r.transport)) {
		return nil, false
	}
	if r.sourcePort != nil && e.Source.Port != *r.sourcePort {
		return nil, false
	}
	if r.trapOID != "" {
		oid, ok := n.trapOID(root)
		if !ok || oid != r.trapOID {
			return nil, false
		}
	}
	for _, path := range r.attrExists {
		if v, ok := Lookup(root, path); isBlank(v, ok) {
			return nil, false
		}
	}
	for _, ap := range r.attrRegex {
		v, ok := Lookup(root, ap.path)
		if !ok || !ap.re.MatchString(Stringify(v)) {
			return nil, false
		}
	}

	captures := map[string]any{}
	if r.bodyRegex != nil {
		if e.Body == "" {
			return nil, false
		}
		m := r.bodyRegex.FindStringSubmatch(e.Body)
		if m == nil {
			return nil, false
		}
		for i, name := range r.bodyRegex.SubexpNames() {
			if i == 0 || name == "" || i >= len(m) {
				continue
			}
			captures[name] = m[i]
		}
	}
	return captures, true
}

func withCaptures(base map[string]any, captures map[string]any) map[string]any {
	root := make(map[string]any, len(base))
	for k, v := range base {
		root[k] = v
	}
	root["captures"] = captures
	return root
}

// apply renders every assignment against root before writing any of them,
// so a rule never observes its own partial output.
func (r *Rule) apply(root map[string]any, tags map[string]string, attrs map[string]any, sev *model.Severity) {
	tagVals := make([]string, len(r.setTags))
	for i, a := range r.setTags {
		tagVals[i] = a.tpl.Render(root)
	}
	attrVals := make([]string, len(r.setAttrs))
	for i, a := range r.setAttrs {
		attrVals[i] = a.tpl.Render(root)
	}

	for i, a := range r.setTags {
		if strings.TrimSpace(tagVals[i]) != "" {
			tags[a.key] = tagVals[i]
		}
	}
	for i, a := range r.setAttrs {
		if strings.TrimSpace(attrVals[i]) != "" {
			attrs[a.key] = attrVals[i]
		}
	}
	if r.setSeverity != "" {
		*sev = r.setSeverity
	}
}
