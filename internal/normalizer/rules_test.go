package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

func intPtr(i int) *int { return &i }

func TestRuleNormalizer_NamedCapture(t *testing.T) {
	rules := mustRules(t, RuleSpec{
		Match: MatchSpec{BodyRegex: "(?i)" + CPUPattern},
		Set: SetSpec{
			Tags:       map[string]string{"cpu": "${captures.pct}"},
			Attributes: map[string]string{"syslog.cpu_pct": "${captures.pct}"},
		},
	})
	n := NewRuleNormalizer("cpu", "", rules)

	out := n.Normalize(syslogEvent(t, "CPU: 87%"))

	assert.Equal(t, "87", out.Tags["cpu"])
	assert.Equal(t, "87", out.Attributes["syslog.cpu_pct"])
	v, ok := Lookup(map[string]any{"attributes": out.Attributes}, "attributes.syslog.cpu_pct")
	require.True(t, ok)
	assert.Equal(t, "87", v)
}

func TestRuleNormalizer_PythonStyleCapture(t *testing.T) {
	rules := mustRules(t, RuleSpec{
		Match: MatchSpec{BodyRegex: `user=(?P<user>\w+)`},
		Set:   SetSpec{Tags: map[string]string{"user": "${captures.user}"}},
	})
	out := NewRuleNormalizer("u", "", rules).Normalize(syslogEvent(t, "login ok user=alice"))
	assert.Equal(t, "alice", out.Tags["user"])
}

func TestRuleNormalizer_MatchClauses(t *testing.T) {
	ev := syslogEvent(t, "link flap on Gi0/1")
	ev = ev.WithEnrichment(ev.Tags, map[string]any{
		"iface":  map[string]any{"name": "Gi0/1", "blank": "  "},
		"vendor": "cisco",
	}, ev.Severity)

	tests := []struct {
		name  string
		match MatchSpec
		want  bool
	}{
		{"empty match", MatchSpec{}, true},
		{"protocol", MatchSpec{Protocol: "syslog"}, true},
		{"protocol mismatch", MatchSpec{Protocol: "SNMP_TRAP"}, false},
		{"plugin", MatchSpec{Plugin: "syslog-udp"}, true},
		{"plugin mismatch", MatchSpec{Plugin: "other"}, false},
		{"transport case-insensitive", MatchSpec{Transport: "udp"}, true},
		{"transport mismatch", MatchSpec{Transport: "TCP"}, false},
		{"source port", MatchSpec{SourcePort: intPtr(40000)}, true},
		{"source port mismatch", MatchSpec{SourcePort: intPtr(514)}, false},
		{"body regex", MatchSpec{BodyRegex: `flap`}, true},
		{"body regex mismatch", MatchSpec{BodyRegex: `^down`}, false},
		{"attr exists nested", MatchSpec{AttrExists: []string{"attributes.iface.name"}}, true},
		{"attr exists tag", MatchSpec{AttrExists: []string{"tags.source_ip"}}, true},
		{"attr exists source", MatchSpec{AttrExists: []string{"source.ip", "plugin", "protocol"}}, true},
		{"attr exists blank", MatchSpec{AttrExists: []string{"attributes.iface.blank"}}, false},
		{"attr exists missing intermediate", MatchSpec{AttrExists: []string{"attributes.nope.deeper"}}, false},
		{"attr regex", MatchSpec{AttrRegex: map[string]string{"attributes.vendor": "^cis"}}, true},
		{"attr regex mismatch", MatchSpec{AttrRegex: map[string]string{"attributes.vendor": "^juniper"}}, false},
		{"attr regex missing", MatchSpec{AttrRegex: map[string]string{"attributes.none.x": "."}}, false},
		{"trap oid on syslog", MatchSpec{TrapOID: OIDLinkDown}, false},
		{"and of clauses", MatchSpec{Protocol: "SYSLOG", BodyRegex: "flap", Plugin: "other"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := mustRules(t, RuleSpec{Match: tt.match, Set: SetSpec{Tags: map[string]string{"hit": "yes"}}})
			out := NewRuleNormalizer("t", "", rules).Normalize(ev)
			assert.Equal(t, tt.want, out.Tags["hit"] == "yes")
		})
	}
}

func TestRuleNormalizer_BodyRegexNeedsBody(t *testing.T) {
	rules := mustRules(t, RuleSpec{Match: MatchSpec{BodyRegex: `.*`}, Set: SetSpec{Severity: "WARN"}})
	out := NewRuleNormalizer("t", "", rules).Normalize(trapEvent(t, OIDLinkUp, nil))
	assert.Empty(t, out.Severity)
}

func TestRuleNormalizer_BlankTemplateKeepsValue(t *testing.T) {
	ev := syslogEvent(t, "hello")
	rules := mustRules(t, RuleSpec{
		Set: SetSpec{
			Tags:       map[string]string{"source_ip": "${captures.nothing}", "static": "fixed"},
			Attributes: map[string]string{"note": " ${attributes.missing} "},
		},
	})
	out := NewRuleNormalizer("t", "", rules).Normalize(ev)

	assert.Equal(t, "10.1.1.1", out.Tags["source_ip"], "blank interpolation must not clobber")
	assert.Equal(t, "fixed", out.Tags["static"])
	assert.NotContains(t, out.Attributes, "note")
}

func TestRuleNormalizer_TrapOIDFallbackChain(t *testing.T) {
	base := trapEvent(t, OIDLinkDown, nil)
	rules := mustRules(t, RuleSpec{
		Match: MatchSpec{TrapOID: OIDLinkDown},
		Set:   SetSpec{Severity: "ERROR"},
	})
	n := NewRuleNormalizer("t", "", rules)

	tests := []struct {
		name  string
		attrs map[string]any
	}{
		{"numeric key", map[string]any{TrapOIDVarbind: OIDLinkDown}},
		{"namespaced varbinds", map[string]any{"snmp": map[string]any{"varbinds": map[string]any{TrapOIDVarbind: OIDLinkDown}}}},
		{"alias", map[string]any{"snmpTrapOID": OIDLinkDown}},
		{"alias with leading dot", map[string]any{"snmpTrapOID": "." + OIDLinkDown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base.WithEnrichment(base.Tags, tt.attrs, "")
			out := n.Normalize(ev)
			assert.Equal(t, model.SeverityError, out.Severity)
			oid, ok := n.TrapOID(ev)
			assert.True(t, ok)
			assert.Equal(t, OIDLinkDown, oid)
		})
	}

	t.Run("first path wins", func(t *testing.T) {
		ev := base.WithEnrichment(base.Tags, map[string]any{
			TrapOIDVarbind: OIDLinkUp,
			"snmpTrapOID":  OIDLinkDown,
		}, "")
		assert.Empty(t, n.Normalize(ev).Severity)
	})

	t.Run("configured key first", func(t *testing.T) {
		custom := NewRuleNormalizer("t", "", rules, WithTrapOIDKey("vendor.trap"))
		ev := base.WithEnrichment(base.Tags, map[string]any{
			"vendor":       map[string]any{"trap": OIDLinkDown},
			TrapOIDVarbind: OIDLinkUp,
		}, "")
		assert.Equal(t, model.SeverityError, custom.Normalize(ev).Severity)
	})
}

func TestRuleNormalizer_LinkDownLeavesOtherFields(t *testing.T) {
	ev := trapEvent(t, OIDLinkDown, map[string]any{"1.3.6.1.2.1.2.2.1.1": 3})
	rules := mustRules(t, RuleSpec{
		Match: MatchSpec{TrapOID: OIDLinkDown},
		Set:   SetSpec{Severity: "ERROR"},
	})

	out := NewRuleNormalizer("t", "", rules).Normalize(ev)

	assert.Equal(t, model.SeverityError, out.Severity)
	assert.Equal(t, ev.Tags, out.Tags)
	assert.Equal(t, ev.Attributes, out.Attributes)
	assert.Equal(t, ev.ID, out.ID)
	assert.Equal(t, ev.Timestamp, out.Timestamp)
	assert.Equal(t, ev.Source, out.Source)
	assert.Empty(t, ev.Severity, "input event must not change")
}

func TestRuleNormalizer_Modes(t *testing.T) {
	specs := []RuleSpec{
		{Name: "first", Match: MatchSpec{Protocol: "SYSLOG"}, Set: SetSpec{Tags: map[string]string{"stage": "one"}, Severity: "INFO"}},
		{Name: "second", Match: MatchSpec{AttrExists: []string{"tags.stage"}}, Set: SetSpec{Tags: map[string]string{"seen": "${tags.stage}"}, Severity: "WARN"}},
	}

	t.Run("cascade", func(t *testing.T) {
		n := NewRuleNormalizer("c", "", mustRules(t, specs...))
		assert.Equal(t, ModeCascade, n.Mode())
		out := n.Normalize(syslogEvent(t, "x"))
		assert.Equal(t, "one", out.Tags["stage"])
		assert.NotContains(t, out.Tags, "seen", "rules match the input event, not earlier output")
		assert.Equal(t, model.SeverityInfo, out.Severity)
	})

	t.Run("cascade later writes win", func(t *testing.T) {
		n := NewRuleNormalizer("c", "", mustRules(t,
			RuleSpec{Match: MatchSpec{Protocol: "SYSLOG"}, Set: SetSpec{Tags: map[string]string{"stage": "one", "a": "1"}, Severity: "INFO"}},
			RuleSpec{Match: MatchSpec{BodyRegex: "x"}, Set: SetSpec{Tags: map[string]string{"stage": "two", "b": "${tags.source_ip}"}, Severity: "WARN"}},
		))
		ev := syslogEvent(t, "x")
		out := n.Normalize(ev)
		assert.Equal(t, "two", out.Tags["stage"])
		assert.Equal(t, "1", out.Tags["a"])
		assert.Equal(t, "10.1.1.1", out.Tags["b"])
		assert.Equal(t, model.SeverityWarn, out.Severity)
		assert.NotContains(t, ev.Tags, "stage")
	})

	t.Run("first match", func(t *testing.T) {
		n := NewRuleNormalizer("f", "", mustRules(t, specs...), WithMode(ModeFirstMatch))
		out := n.Normalize(syslogEvent(t, "x"))
		assert.Equal(t, "one", out.Tags["stage"])
		assert.NotContains(t, out.Tags, "seen")
		assert.Equal(t, model.SeverityInfo, out.Severity)
	})
}

func TestRuleNormalizer_Supports(t *testing.T) {
	ev := syslogEvent(t, "x")
	assert.True(t, NewRuleNormalizer("g", "", nil).Supports(ev))
	assert.True(t, NewRuleNormalizer("p", "syslog-udp", nil).Supports(ev))
	assert.False(t, NewRuleNormalizer("p", "snmp-trap", nil).Supports(ev))
}

func TestRuleNormalizer_NoMatchReturnsInput(t *testing.T) {
	ev := syslogEvent(t, "x")
	rules := mustRules(t, RuleSpec{Match: MatchSpec{Protocol: "FLOW"}, Set: SetSpec{Severity: "ERROR"}})
	out := NewRuleNormalizer("t", "", rules).Normalize(ev)
	assert.Equal(t, ev, out)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		spec  RuleSpec
		field string
	}{
		{"bad body regex", RuleSpec{Match: MatchSpec{BodyRegex: "("}}, "match.body_regex"},
		{"bad attr regex", RuleSpec{Match: MatchSpec{AttrRegex: map[string]string{"attributes.x": "[a-"}}}, "match.attr_regex.attributes.x"},
		{"bad protocol", RuleSpec{Match: MatchSpec{Protocol: "HTTP"}}, "match.protocol"},
		{"bad transport", RuleSpec{Match: MatchSpec{Transport: "QUIC"}}, "match.transport"},
		{"bad severity", RuleSpec{Set: SetSpec{Severity: "LOUD"}}, "set.severity"},
		{"bad tag template", RuleSpec{Set: SetSpec{Tags: map[string]string{"k": "${oops"}}}, "set.tags.k"},
		{"bad attr template", RuleSpec{Set: SetSpec{Attributes: map[string]string{"k": "${}"}}}, "set.attributes.k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec, 3)
			require.Error(t, err)
			var rce *RuleCompileError
			require.True(t, errors.As(err, &rce))
			assert.Equal(t, "rule-3", rce.Rule)
			assert.Equal(t, tt.field, rce.Field)
		})
	}
}

func TestParseRuleFile(t *testing.T) {
	data := []byte(`
mode: first_match
trap_oid_key: vendor.trapOid
rules:
  - name: cpu
    match:
      protocol: SYSLOG
      source_port: 514
      body_regex: 'cpu[:=]\s*(?<pct>\d{1,3})%'
      attr_exists: [tags.source_ip]
      attr_regex:
        attributes.raw: cpu
    set:
      tags: {cpu: "${captures.pct}"}
      attributes: {syslog.cpu_pct: "${captures.pct}"}
      severity: WARN
`)
	rf, err := ParseRuleFile(data)
	require.NoError(t, err)
	assert.Equal(t, "first_match", rf.Mode)
	assert.Equal(t, "vendor.trapOid", rf.TrapOIDKey)
	require.Len(t, rf.Rules, 1)
	r := rf.Rules[0]
	assert.Equal(t, "cpu", r.Name)
	require.NotNil(t, r.Match.SourcePort)
	assert.Equal(t, 514, *r.Match.SourcePort)
	assert.Equal(t, []string{"tags.source_ip"}, r.Match.AttrExists)
	assert.Equal(t, "${captures.pct}", r.Set.Attributes["syslog.cpu_pct"])

	n, err := NewRuleNormalizerFromFile("cpu", "", rf)
	require.NoError(t, err)
	assert.Equal(t, ModeFirstMatch, n.Mode())
	assert.Equal(t, 1, n.Rules())

	_, err = NewRuleNormalizerFromFile("bad", "", RuleFile{Mode: "random"})
	var rce *RuleCompileError
	assert.True(t, errors.As(err, &rce))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCascade, m)

	m, err = ParseMode("FIRST_MATCH")
	require.NoError(t, err)
	assert.Equal(t, ModeFirstMatch, m)

	_, err = ParseMode("round-robin")
	assert.Error(t, err)
}
