package normalizer

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Mode selects how a RuleNormalizer dispatches its rules.
type Mode string

const (
	// ModeCascade applies every matching rule in order. Each rule sees the
	// tags, attributes and severity produced by the rules before it.
	ModeCascade Mode = "cascade"
	// ModeFirstMatch applies only the first matching rule.
	ModeFirstMatch Mode = "first_match"
)

// ParseMode parses a mode name. The empty string selects ModeCascade.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCascade:
		return ModeCascade, nil
	case ModeFirstMatch, "first-match", "firstmatch":
		return ModeFirstMatch, nil
	}
	return "", fmt.Errorf("unknown rule mode %q", s)
}

// RuleCompileError reports a rule that could not be compiled.
type RuleCompileError struct {
	Rule  string
	Field string
	Err   error
}

func (e *RuleCompileError) Error() string {
	return fmt.Sprintf("rule %q: %s: %v", e.Rule, e.Field, e.Err)
}

func (e *RuleCompileError) Unwrap() error { return e.Err }

// RuleFile is the on-disk form of a rule set.
type RuleFile struct {
	Mode       string     `yaml:"mode,omitempty"`
	TrapOIDKey string     `yaml:"trap_oid_key,omitempty"`
	Rules      []RuleSpec `yaml:"rules"`
}

// RuleSpec is the uncompiled form of a single rule.
type RuleSpec struct {
	Name  string    `yaml:"name,omitempty"`
	Match MatchSpec `yaml:"match"`
	Set   SetSpec   `yaml:"set"`
}

// MatchSpec lists the clauses a rule matches on. Absent clauses always match.
type MatchSpec struct {
	Protocol   string            `yaml:"protocol,omitempty"`
	Plugin     string            `yaml:"plugin,omitempty"`
	Transport  string            `yaml:"transport,omitempty"`
	SourcePort *int              `yaml:"source_port,omitempty"`
	BodyRegex  string            `yaml:"body_regex,omitempty"`
	TrapOID    string            `yaml:"trap_oid,omitempty"`
	AttrExists []string          `yaml:"attr_exists,omitempty"`
	AttrRegex  map[string]string `yaml:"attr_regex,omitempty"`
}

// SetSpec lists what a matching rule writes.
type SetSpec struct {
	Tags       map[string]string `yaml:"tags,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Severity   string            `yaml:"severity,omitempty"`
}

// LoadRuleFile reads and decodes a YAML rule file.
func LoadRuleFile(path string) (RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleFile{}, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	return ParseRuleFile(data)
}

// ParseRuleFile decodes a YAML rule set.
func ParseRuleFile(data []byte) (RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RuleFile{}, fmt.Errorf("parsing rules: %w", err)
	}
	return rf, nil
}

type attrPattern struct {
	path string
	re   *regexp.Regexp
}

type assignment struct {
	key string
	tpl Template
}

// Rule is a compiled, immutable rule.
type Rule struct {
	Name string

	protocol   model.Protocol
	plugin     string
	transport  model.Transport
	sourcePort *int
	trapOID    string
	attrExists []string
	attrRegex  []attrPattern
	bodyRegex  *regexp.Regexp

	setTags     []assignment
	setAttrs    []assignment
	setSeverity model.Severity
}

// Compile compiles a rule spec. index is used to name unnamed rules.
func Compile(spec RuleSpec, index int) (*Rule, error) {
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("rule-%d", index)
	}
	fail := func(field string, err error) (*Rule, error) {
		return nil, &RuleCompileError{Rule: name, Field: field, Err: err}
	}

	r := &Rule{
		Name:       name,
		plugin:     spec.Match.Plugin,
		trapOID:    strings.TrimPrefix(strings.TrimSpace(spec.Match.TrapOID), "."),
		attrExists: append([]string(nil), spec.Match.AttrExists...),
	}
	if spec.Match.SourcePort != nil {
		port := *spec.Match.SourcePort
		r.sourcePort = &port
	}

	if spec.Match.Protocol != "" {
		p, err := model.ParseProtocol(spec.Match.Protocol)
		if err != nil {
			return fail("match.protocol", err)
		}
		r.protocol = p
	}
	if spec.Match.Transport != "" {
		t, err := model.ParseTransport(spec.Match.Transport)
		if err != nil {
			return fail("match.transport", err)
		}
		r.transport = t
	}
	if spec.Match.BodyRegex != "" {
		re, err := regexp.Compile(spec.Match.BodyRegex)
		if err != nil {
			return fail("match.body_regex", err)
		}
		r.bodyRegex = re
	}
	for _, path := range sortedKeys(spec.Match.AttrRegex) {
		re, err := regexp.Compile(spec.Match.AttrRegex[path])
		if err != nil {
			return fail("match.attr_regex."+path, err)
		}
		r.attrRegex = append(r.attrRegex, attrPattern{path: path, re: re})
	}

	for _, key := range sortedKeys(spec.Set.Tags) {
		tpl, err := ParseTemplate(spec.Set.Tags[key])
		if err != nil {
			return fail("set.tags."+key, err)
		}
		r.setTags = append(r.setTags, assignment{key: key, tpl: tpl})
	}
	for _, key := range sortedKeys(spec.Set.Attributes) {
		tpl, err := ParseTemplate(spec.Set.Attributes[key])
		if err != nil {
			return fail("set.attributes."+key, err)
		}
		r.setAttrs = append(r.setAttrs, assignment{key: key, tpl: tpl})
	}
	if spec.Set.Severity != "" {
		sev, err := model.ParseSeverity(spec.Set.Severity)
		if err != nil {
			return fail("set.severity", err)
		}
		r.setSeverity = sev
	}
	return r, nil
}

// CompileAll compiles every rule in order, stopping at the first error.
func CompileAll(specs []RuleSpec) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := Compile(spec, i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
