package enrich

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/protocol-hub/internal/testutil"
)

const ifMIB = `
module: IF-MIB
symbols:
  ifIndex: 1.3.6.1.2.1.2.2.1.1
  ifDescr: 1.3.6.1.2.1.2.2.1.2
  ifAdminStatus: 1.3.6.1.2.1.2.2.1.7
`

const snmpv2MIB = `{
  "module": "SNMPv2-MIB",
  "symbols": {
    "snmpTrapOID": ".1.3.6.1.6.3.1.1.4.1",
    "linkDown": "1.3.6.1.6.3.1.1.5.3",
    "coldStart": "1.3.6.1.6.3.1.1.5.1"
  }
}`

func mibDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IF-MIB.yaml"), []byte(ifMIB), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SNMPv2-MIB.json"), []byte(snmpv2MIB), 0644))
	return dir
}

func newTestEnricher(t *testing.T) *MIBEnricher {
	t.Helper()
	m, err := NewMIBEnricher(MIBOptions{Dir: mibDir(t), Modules: []string{"IF-MIB", "SNMPv2-MIB"}}, testutil.NewTestLogger())
	require.NoError(t, err)
	return m
}

func TestMIBEnricher_Enrich(t *testing.T) {
	m := newTestEnricher(t)
	assert.Equal(t, []string{"IF-MIB", "SNMPv2-MIB"}, m.Modules())

	raw := map[string]any{
		"1.3.6.1.6.3.1.1.4.1.0": "1.3.6.1.6.3.1.1.5.3",
		"1.3.6.1.2.1.2.2.1.1.3": 3,
		"1.3.6.1.4.1.99999.1":   "vendor",
		"not-an-oid":            "kept",
	}

	out := m.Enrich(raw)

	for k, v := range raw {
		assert.Equal(t, v, out[k], "input key %s must pass through", k)
	}
	assert.Equal(t, "1.3.6.1.6.3.1.1.5.3", out["SNMPv2-MIB::snmpTrapOID.0"])
	assert.Equal(t, "SNMPv2-MIB::snmpTrapOID.0", out["mib.name.1.3.6.1.6.3.1.1.4.1.0"])
	assert.Equal(t, "SNMPv2-MIB::linkDown", out["mib.value.1.3.6.1.6.3.1.1.4.1.0"])
	assert.Equal(t, 3, out["IF-MIB::ifIndex.3"])
	assert.Equal(t, "IF-MIB::ifIndex.3", out["mib.name.1.3.6.1.2.1.2.2.1.1.3"])
	assert.NotContains(t, out, "mib.name.1.3.6.1.4.1.99999.1")
	assert.Len(t, raw, 4, "input must not be modified")
}

func TestMIBEnricher_Resolve(t *testing.T) {
	m := newTestEnricher(t)

	tests := []struct {
		oid    string
		want   string
		wantOK bool
	}{
		{"1.3.6.1.6.3.1.1.5.3", "SNMPv2-MIB::linkDown", true},
		{".1.3.6.1.2.1.2.2.1.2.12", "IF-MIB::ifDescr.12", true},
		{"1.3.6.1.2.1.2.2.1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.oid, func(t *testing.T) {
			got, ok := m.Resolve(tt.oid)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMIBEnricher_MissingModule(t *testing.T) {
	dir := mibDir(t)

	_, err := NewMIBEnricher(MIBOptions{Dir: dir, Modules: []string{"IF-MIB", "CISCO-MIB"}}, testutil.NewTestLogger())
	require.Error(t, err)
	var loadErr *EnrichmentLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "CISCO-MIB", loadErr.Module)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	m, err := NewMIBEnricher(MIBOptions{Dir: dir, Modules: []string{"IF-MIB", "CISCO-MIB"}, TolerateMissing: true}, testutil.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"IF-MIB"}, m.Modules())
}

func TestMIBEnricher_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BROKEN.yaml"), []byte("symbols: [unclosed"), 0644))

	_, err := NewMIBEnricher(MIBOptions{Dir: dir, Modules: []string{"BROKEN"}}, testutil.NewTestLogger())
	var loadErr *EnrichmentLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestMIBEnricher_Concurrent(t *testing.T) {
	m := newTestEnricher(t)
	raw := map[string]any{"1.3.6.1.2.1.2.2.1.1.1": 1}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				out := m.Enrich(raw)
				assert.Equal(t, 1, out["IF-MIB::ifIndex.1"])
			}
		}()
	}
	wg.Wait()
}

func TestChain(t *testing.T) {
	addA := Func(func(in map[string]any) map[string]any {
		out := map[string]any{"a": 1}
		for k, v := range in {
			out[k] = v
		}
		return out
	})
	m := newTestEnricher(t)

	out := Chain{addA, m}.Enrich(map[string]any{"1.3.6.1.6.3.1.1.5.1": "x"})
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, "x", out["SNMPv2-MIB::coldStart"])
}
