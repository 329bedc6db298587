package normalizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// ParserNormalizer extracts structured fields from event bodies into
// attributes.parsed.
type ParserNormalizer struct {
	name           string
	pluginID       string
	jsonAutoDetect bool
	patterns       []*regexp.Regexp
}

// NewParserNormalizer creates a parsing normalizer.
func NewParserNormalizer(cfg config.NormalizerConfig) (*ParserNormalizer, error) {
	p := &ParserNormalizer{
		name:           cfg.Name,
		pluginID:       cfg.PluginID,
		jsonAutoDetect: cfg.JSONAutoDetect,
	}
	if p.name == "" {
		p.name = config.NormalizerParser
	}

	for i, pattern := range cfg.Patterns {
		if named, ok := CommonPatterns[pattern]; ok {
			pattern = named
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &RuleCompileError{Rule: p.name, Field: "patterns[" + itoa(i) + "]", Err: err}
		}
		p.patterns = append(p.patterns, re)
	}

	return p, nil
}

// Name returns the normalizer identifier.
func (p *ParserNormalizer) Name() string { return p.name }

// Supports claims events with a body, restricted to one plugin when
// configured.
func (p *ParserNormalizer) Supports(e model.NormalizedEvent) bool {
	if e.Body == "" {
		return false
	}
	return p.pluginID == "" || e.PluginID == p.pluginID
}

// Normalize parses the body. JSON wins over patterns; the first matching
// pattern wins among patterns.
func (p *ParserNormalizer) Normalize(e model.NormalizedEvent) model.NormalizedEvent {
	if p.jsonAutoDetect {
		if fields, ok := parseJSON(e.Body); ok {
			return withParsed(e, fields, "json", "")
		}
	}

	for _, re := range p.patterns {
		if fields, ok := parseRegex(e.Body, re); ok {
			return withParsed(e, fields, "regex", re.String())
		}
	}

	return e
}

func withParsed(e model.NormalizedEvent, fields map[string]any, format, pattern string) model.NormalizedEvent {
	attrs := model.CopyAttributes(e.Attributes)
	attrs["parsed"] = fields
	attrs["parsed_format"] = format
	if pattern != "" {
		attrs["parsed_pattern"] = pattern
	}
	return e.WithEnrichment(e.Tags, attrs, e.Severity)
}

func parseJSON(body string) (map[string]any, bool) {
	raw := strings.TrimSpace(body)
	if raw == "" || raw[0] != '{' {
		return nil, false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false
	}
	return data, true
}

// parseRegex extracts named groups. Patterns without named groups never
// match.
func parseRegex(body string, re *regexp.Regexp) (map[string]any, bool) {
	names := re.SubexpNames()
	if len(names) <= 1 {
		return nil, false
	}

	matches := re.FindStringSubmatch(body)
	if matches == nil {
		return nil, false
	}

	fields := make(map[string]any)
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		if i < len(matches) {
			fields[name] = matches[i]
		}
	}
	return fields, true
}

// CommonPatterns are pre-built patterns that can be referenced by name in
// a parser's pattern list.
var CommonPatterns = map[string]string{
	// Syslog (RFC 3164)
	"syslog": `^<(?P<priority>\d+)>(?P<timestamp>\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(?P<hostname>\S+)\s+(?P<program>[^\[:]+)(?:\[(?P<pid>\d+)\])?:\s*(?P<message>.*)`,

	// Key-Value pairs
	"kv": `(?P<key>\w+)=(?P<value>"[^"]*"|\S+)`,

	// Log level detection
	"level": `(?i)\b(?P<level>DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|CRITICAL|TRACE)\b`,

	// Cisco IOS style "%FACILITY-SEV-MNEMONIC: text"
	"cisco": `%(?P<facility>[A-Z0-9_]+)-(?P<severity>\d)-(?P<mnemonic>[A-Z0-9_]+):\s*(?P<message>.*)`,
}
