package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/driver"
	"github.com/GabrielNunesIT/protocol-hub/internal/testutil"
)

type staticStats map[string]driver.Stats

func (s staticStats) DriverStats() map[string]driver.Stats { return s }

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServer_ExposesDriverAndPipelineMetrics(t *testing.T) {
	reg := NewRegistry(staticStats{
		"snmp-trap": {Enqueued: 10, Dropped: 2, Processed: 8, DecodeErrors: 1, QueueDepth: 3},
	})
	reg.HandoffDropped.Add(4)
	reg.EmitterError("stdout")

	srv := NewServer("127.0.0.1:0", "/metrics", reg, testutil.NewTestLogger())
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	body := scrape(t, "http://"+srv.Addr().String()+"/metrics")

	for _, want := range []string{
		`protocolhub_driver_enqueued_total{plugin_id="snmp-trap"} 10`,
		`protocolhub_driver_dropped_total{plugin_id="snmp-trap"} 2`,
		`protocolhub_driver_processed_total{plugin_id="snmp-trap"} 8`,
		`protocolhub_driver_decode_errors_total{plugin_id="snmp-trap"} 1`,
		`protocolhub_driver_callback_errors_total{plugin_id="snmp-trap"} 0`,
		`protocolhub_driver_queue_depth{plugin_id="snmp-trap"} 3`,
		`protocolhub_pipeline_handoff_dropped_total 4`,
		`protocolhub_emitter_errors_total{emitter="stdout"} 1`,
	} {
		assert.Contains(t, body, want)
	}

	assert.Equal(t, "OK", scrape(t, "http://"+srv.Addr().String()+"/health"))
}

func TestServer_StartTwice(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "", NewRegistry(nil), testutil.NewTestLogger())
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())
	assert.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
	assert.Nil(t, srv.Addr())
}
