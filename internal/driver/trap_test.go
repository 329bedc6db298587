package driver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/enrich"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
	"github.com/GabrielNunesIT/protocol-hub/internal/normalizer"
	"github.com/GabrielNunesIT/protocol-hub/internal/testutil"
)

func trapConfig() config.TrapDriverConfig {
	return config.TrapDriverConfig{
		PluginID:       "snmp-trap",
		Address:        "127.0.0.1",
		QueueCapacity:  64,
		WorkerThreads:  2,
		OverflowPolicy: "BLOCK",
		OfferTimeoutMs: 2,
	}
}

func startTrap(t *testing.T, cfg config.TrapDriverConfig, l Listener, opts ...TrapOption) *TrapDriver {
	t.Helper()
	d, err := NewTrapDriver(cfg, testutil.NewTestLogger(), opts...)
	require.NoError(t, err)
	d.SetListener(l)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func sendTrap(t *testing.T, addr net.Addr, version gosnmp.SnmpVersion, community string, trap gosnmp.SnmpTrap) {
	t.Helper()
	client := &gosnmp.GoSNMP{
		Target:    "127.0.0.1",
		Port:      uint16(addr.(*net.UDPAddr).Port),
		Transport: "udp",
		Community: community,
		Version:   version,
		Timeout:   time.Second,
		Retries:   0,
		Logger:    snmpLogger,
	}
	require.NoError(t, client.Connect())
	defer client.Conn.Close()

	_, err := client.SendTrap(trap)
	require.NoError(t, err)
}

func linkDownTrap() gosnmp.SnmpTrap {
	return gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: "." + oidSnmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: "." + normalizer.OIDLinkDown},
			{Name: ".1.3.6.1.2.1.2.2.1.1", Type: gosnmp.Integer, Value: 3},
			{Name: ".1.3.6.1.2.1.2.2.1.2", Type: gosnmp.OctetString, Value: "GigabitEthernet0/3"},
		},
	}
}

func TestTrapDriver_LinkDownEndToEnd(t *testing.T) {
	registry := normalizer.NewRegistry(testutil.NewTestLogger(), normalizer.NewTrapNormalizer("", ""))
	events := make(chan model.NormalizedEvent, 1)

	d := startTrap(t, trapConfig(), func(ev model.NormalizedEvent) {
		events <- registry.Apply(ev)
	})

	sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "public", linkDownTrap())

	ev := waitEvent(t, events)
	assert.Equal(t, model.ProtocolSNMPTrap, ev.Protocol)
	assert.Equal(t, model.KindTrap, ev.Kind)
	assert.Equal(t, model.TransportUDP, ev.Source.Transport)
	assert.Equal(t, "127.0.0.1", ev.Source.Host)
	assert.Equal(t, "snmp-trap", ev.PluginID)
	assert.Positive(t, ev.Bytes)
	assert.NotEmpty(t, ev.Tags["pduType"])

	assert.Equal(t, model.SeverityError, ev.Severity)
	assert.Equal(t, "linkDown", ev.Tags["trap"])
	assert.Equal(t, "127.0.0.1", ev.Tags["device"])
	assert.Equal(t, "3", ev.Tags["ifIndex"])

	assert.Equal(t, normalizer.OIDLinkDown, ev.Attributes["snmpTrapOID"])
	assert.Equal(t, "GigabitEthernet0/3", ev.Attributes["1.3.6.1.2.1.2.2.1.2"])

	snmp, ok := ev.Attributes["snmp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "public", snmp["community"])
	assert.Equal(t, gosnmp.Version2c.String(), snmp["version"])
	varbinds, ok := snmp["varbinds"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, normalizer.OIDLinkDown, varbinds[oidSnmpTrapOID])

	assert.Eventually(t, func() bool {
		s := d.Stats()
		return s.Enqueued == 1 && s.Processed == 1 && s.Dropped == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTrapDriver_V1Trap(t *testing.T) {
	l, events := collect(1)
	d := startTrap(t, trapConfig(), l)

	sendTrap(t, d.LocalAddr(), gosnmp.Version1, "public", gosnmp.SnmpTrap{
		Enterprise:   ".1.3.6.1.4.1.9",
		AgentAddress: "127.0.0.1",
		GenericTrap:  2,
		Timestamp:    300,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.2.2.1.1", Type: gosnmp.Integer, Value: 7},
		},
	})

	ev := waitEvent(t, events)
	assert.Equal(t, normalizer.OIDLinkDown, ev.Attributes["snmpTrapOID"])

	snmp := ev.Attributes["snmp"].(map[string]any)
	assert.Equal(t, "1.3.6.1.4.1.9", snmp["enterprise"])
	assert.Equal(t, 2, snmp["generic_trap"])
}

func TestTrapDriver_CommunityFilter(t *testing.T) {
	cfg := trapConfig()
	cfg.Community = "secret"

	l, events := collect(1)
	d := startTrap(t, cfg, l)

	sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "public", linkDownTrap())
	assert.Eventually(t, func() bool { return d.Stats().DecodeErrors == 1 }, time.Second, 10*time.Millisecond)

	sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "secret", linkDownTrap())
	ev := waitEvent(t, events)
	assert.Equal(t, "secret", ev.Attributes["snmp"].(map[string]any)["community"])
}

func TestTrapDriver_DecodeErrors(t *testing.T) {
	cfg := trapConfig()
	cfg.MaxMessageBytes = 512

	l, _ := collect(1)
	d := startTrap(t, cfg, l)

	conn, err := net.Dial("udp", d.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	payloads := [][]byte{
		[]byte("not snmp"),
		{0x30, 0x03, 0x02, 0x01, 0x03}, // v3 header, no users configured
		make([]byte, 600),              // oversize
	}
	for _, p := range payloads {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return d.Stats().DecodeErrors == uint64(len(payloads))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, d.Stats().Enqueued)
}

func TestTrapDriver_BackpressureDrops(t *testing.T) {
	cfg := trapConfig()
	cfg.QueueCapacity = 1
	cfg.WorkerThreads = 1
	cfg.OverflowPolicy = "BLOCK"
	cfg.OfferTimeoutMs = 2

	release := make(chan struct{})
	d, err := NewTrapDriver(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	d.SetListener(func(model.NormalizedEvent) { <-release })
	require.NoError(t, d.Start(context.Background()))

	const sent = 20
	for range sent {
		sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "public", linkDownTrap())
	}

	assert.Eventually(t, func() bool {
		s := d.Stats()
		return s.Enqueued+s.Dropped == sent
	}, 2*time.Second, 10*time.Millisecond)

	s := d.Stats()
	assert.GreaterOrEqual(t, s.Dropped, uint64(1))
	assert.LessOrEqual(t, s.QueueDepth, 1)
	assert.Equal(t, 1, s.QueueCapacity)

	close(release)
	require.NoError(t, d.Stop())
}

func TestTrapDriver_ListenerPanicIsContained(t *testing.T) {
	calls := make(chan struct{}, 2)
	d := startTrap(t, trapConfig(), func(model.NormalizedEvent) {
		calls <- struct{}{}
		panic("listener failure")
	})

	sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "public", linkDownTrap())
	sendTrap(t, d.LocalAddr(), gosnmp.Version2c, "public", linkDownTrap())

	assert.Eventually(t, func() bool {
		s := d.Stats()
		return s.CallbackErrors == 2 && s.Processed == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrapDriver_BindErrorAndStop(t *testing.T) {
	busy, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := trapConfig()
	cfg.Port = busy.LocalAddr().(*net.UDPAddr).Port

	d, err := NewTrapDriver(cfg, testutil.NewTestLogger())
	require.NoError(t, err)

	err = d.Start(context.Background())
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "udp", bindErr.Network)

	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
	assert.Nil(t, d.LocalAddr())
}

func TestTrapDriver_ToEvent(t *testing.T) {
	var seen map[string]any
	enricher := enrich.Func(func(raw map[string]any) map[string]any {
		seen = raw
		out := model.CopyAttributes(raw)
		out["IF-MIB::ifIndex"] = raw["1.3.6.1.2.1.2.2.1.1"]
		return out
	})

	d, err := NewTrapDriver(trapConfig(), testutil.NewTestLogger(), WithEnricher(enricher))
	require.NoError(t, err)

	now := time.Now()
	rec := RawRecord{
		Peer:      "192.0.2.1",
		Port:      50162,
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.SNMPv2Trap,
		Varbinds: []gosnmp.SnmpPDU{
			{Name: "." + oidSnmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.6.3.1.1.5.4"},
			{Name: ".1.3.6.1.2.1.2.2.1.1", Type: gosnmp.Integer, Value: 2},
			{Name: ".1.3.6.1.2.1.2.2.1.2", Type: gosnmp.OctetString, Value: []byte("eth1")},
		},
		Size:       90,
		ReceivedAt: now,
	}

	ev, err := d.toEvent(rec, d.enricher)
	require.NoError(t, err)

	assert.NotContains(t, seen, "snmp", "enricher sees flat varbinds only")
	assert.Equal(t, "1.3.6.1.6.3.1.1.5.4", seen[oidSnmpTrapOID])

	assert.Equal(t, 2, ev.Attributes["IF-MIB::ifIndex"])
	assert.Equal(t, "eth1", ev.Attributes["1.3.6.1.2.1.2.2.1.2"])
	assert.Equal(t, "1.3.6.1.6.3.1.1.5.4", ev.Attributes["snmpTrapOID"])
	assert.Equal(t, 90, ev.Bytes)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, 50162, ev.Source.Port)
	assert.Equal(t, gosnmp.SNMPv2Trap.String(), ev.Tags["pduType"])
}

func TestV1TrapOID(t *testing.T) {
	tests := []struct {
		name       string
		enterprise string
		generic    int
		specific   int
		want       string
	}{
		{name: "coldStart", enterprise: ".1.3.6.1.4.1.9", generic: 0, want: "1.3.6.1.6.3.1.1.5.1"},
		{name: "linkUp", enterprise: ".1.3.6.1.4.1.9", generic: 3, want: "1.3.6.1.6.3.1.1.5.4"},
		{name: "enterprise specific", enterprise: ".1.3.6.1.4.1.9.9.41", generic: 6, specific: 1, want: "1.3.6.1.4.1.9.9.41.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v1TrapOID(tt.enterprise, tt.generic, tt.specific))
		})
	}
}

func TestPeekVersion(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    gosnmp.SnmpVersion
		wantErr bool
	}{
		{name: "v1", data: []byte{0x30, 0x10, 0x02, 0x01, 0x00}, want: gosnmp.Version1},
		{name: "v2c", data: []byte{0x30, 0x10, 0x02, 0x01, 0x01}, want: gosnmp.Version2c},
		{name: "v3 long length", data: []byte{0x30, 0x82, 0x01, 0x00, 0x02, 0x01, 0x03}, want: gosnmp.Version3},
		{name: "unknown version", data: []byte{0x30, 0x10, 0x02, 0x01, 0x02}, wantErr: true},
		{name: "not a sequence", data: []byte{0x04, 0x01, 0x00}, wantErr: true},
		{name: "truncated", data: []byte{0x30, 0x10, 0x02}, wantErr: true},
		{name: "empty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := peekVersion(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVarbindValue(t *testing.T) {
	assert.Equal(t, "abc", varbindValue(gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("abc")}))
	assert.Equal(t, "1.3.6.1", varbindValue(gosnmp.SnmpPDU{Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1"}))
	assert.Nil(t, varbindValue(gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}))
	assert.Equal(t, uint32(42), varbindValue(gosnmp.SnmpPDU{Type: gosnmp.TimeTicks, Value: uint32(42)}))
}
