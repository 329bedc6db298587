package emitter

import (
	"net/http"
	"testing"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/model"
	"github.com/GabrielNunesIT/protocol-hub/internal/testutil"
)

// testLogger returns a logger for tests that discards output.
func testLogger() logger.ILogger {
	return testutil.NewTestLogger()
}

// mockHTTPClient implements HTTPDoer for testing.
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func sampleEvent(t *testing.T) model.NormalizedEvent {
	t.Helper()
	ev, err := model.NewBuilder().
		ID("evt-1").
		Timestamp(time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)).
		Protocol(model.ProtocolSyslog).
		Kind(model.KindLog).
		Source(model.Source{Host: "10.0.0.1", Port: 514, Transport: model.TransportUDP}).
		PluginID("syslog-udp").
		Severity(model.SeverityWarn).
		Body("test message").
		Bytes(12).
		Tag("host", "localhost").
		Attribute("parsed", map[string]any{"foo": "bar"}).
		Build()
	require.NoError(t, err)
	return ev
}

func trapSample(t *testing.T) model.NormalizedEvent {
	t.Helper()
	ev, err := model.NewBuilder().
		Timestamp(time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)).
		Protocol(model.ProtocolSNMPTrap).
		Kind(model.KindTrap).
		Source(model.Source{Host: "192.0.2.7", Port: 162, Transport: model.TransportUDP}).
		PluginID("snmp-trap").
		Tag("trap", "linkDown").
		Attribute("snmpTrapOID", "1.3.6.1.6.3.1.1.5.3").
		Build()
	require.NoError(t, err)
	return ev
}
