package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
)

func syslogEvent(t *testing.T, body string) model.NormalizedEvent {
	t.Helper()
	ev, err := model.NewBuilder().
		Timestamp(time.Now()).
		Protocol(model.ProtocolSyslog).
		Kind(model.KindLog).
		Source(model.Source{Host: "10.1.1.1", Port: 40000, Transport: model.TransportUDP}).
		PluginID("syslog-udp").
		Body(body).
		Bytes(len(body)).
		Tag("source_ip", "10.1.1.1").
		Build()
	require.NoError(t, err)
	return ev
}

func trapEvent(t *testing.T, oid string, extra map[string]any) model.NormalizedEvent {
	t.Helper()
	varbinds := map[string]any{TrapOIDVarbind: oid}
	for k, v := range extra {
		varbinds[k] = v
	}
	ev, err := model.NewBuilder().
		Timestamp(time.Now()).
		Protocol(model.ProtocolSNMPTrap).
		Kind(model.KindTrap).
		Source(model.Source{Host: "192.0.2.7", Port: 50123, Transport: model.TransportUDP}).
		PluginID("snmp-trap").
		Tag("pduType", "SNMPv2Trap").
		Attribute("snmpTrapOID", oid).
		Attribute("snmp", map[string]any{"varbinds": varbinds, "version": "2c"}).
		Build()
	require.NoError(t, err)
	return ev
}

func mustRules(t *testing.T, specs ...RuleSpec) []*Rule {
	t.Helper()
	rules, err := CompileAll(specs)
	require.NoError(t, err)
	return rules
}
