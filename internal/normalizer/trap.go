package normalizer

import (
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

// Well-known generic trap OIDs (SNMPv2-MIB snmpTraps).
const (
	OIDColdStart             = "1.3.6.1.6.3.1.1.5.1"
	OIDWarmStart             = "1.3.6.1.6.3.1.1.5.2"
	OIDLinkDown              = "1.3.6.1.6.3.1.1.5.3"
	OIDLinkUp                = "1.3.6.1.6.3.1.1.5.4"
	OIDAuthenticationFailure = "1.3.6.1.6.3.1.1.5.5"

	oidIfIndex = "1.3.6.1.2.1.2.2.1.1"
)

// builtinTrapRules covers the generic SNMP traps.
func builtinTrapRules() []RuleSpec {
	identity := map[string]string{
		"device":  "${source.ip}",
		"ifIndex": "${attributes.snmp.varbinds." + oidIfIndex + "}",
	}
	rule := func(name, oid, sev string) RuleSpec {
		tags := map[string]string{"trap": name}
		for k, v := range identity {
			tags[k] = v
		}
		return RuleSpec{
			Name:  name,
			Match: MatchSpec{TrapOID: oid},
			Set:   SetSpec{Tags: tags, Severity: sev},
		}
	}
	return []RuleSpec{
		rule("linkDown", OIDLinkDown, "ERROR"),
		rule("linkUp", OIDLinkUp, "INFO"),
		rule("coldStart", OIDColdStart, "WARN"),
		rule("warmStart", OIDWarmStart, "WARN"),
		rule("authenticationFailure", OIDAuthenticationFailure, "WARN"),
	}
}

// TrapNormalizer classifies generic SNMP traps. It dispatches first-match:
// a trap has exactly one identity, so at most one rule applies.
type TrapNormalizer struct {
	*RuleNormalizer
}

// NewTrapNormalizer creates the built-in trap normalizer. With an empty
// pluginID it claims every SNMP_TRAP event.
func NewTrapNormalizer(name, pluginID string, opts ...RuleOption) *TrapNormalizer {
	rules, err := CompileAll(builtinTrapRules())
	if err != nil {
		// built-in rules are static
		panic(err)
	}
	if name == "" {
		name = "snmp-trap"
	}
	opts = append([]RuleOption{WithMode(ModeFirstMatch)}, opts...)
	return &TrapNormalizer{RuleNormalizer: NewRuleNormalizer(name, pluginID, rules, opts...)}
}

// Supports claims SNMP traps, restricted to one plugin when configured.
func (n *TrapNormalizer) Supports(e model.NormalizedEvent) bool {
	if n.pluginID != "" {
		return e.PluginID == n.pluginID
	}
	return e.Protocol == model.ProtocolSNMPTrap
}

// Normalize classifies the trap. A device tag set upstream is kept.
func (n *TrapNormalizer) Normalize(e model.NormalizedEvent) model.NormalizedEvent {
	out := n.RuleNormalizer.Normalize(e)
	device, ok := e.Tags["device"]
	if !ok || out.Tags["device"] == device {
		return out
	}
	tags := model.CopyTags(out.Tags)
	tags["device"] = device
	return out.WithEnrichment(tags, out.Attributes, out.Severity)
}
