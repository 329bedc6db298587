package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate_Errors(t *testing.T) {
	_, err := ParseTemplate("cpu ${captures.pct")
	assert.ErrorIs(t, err, errUnclosedPlaceholder)

	_, err = ParseTemplate("x ${ } y")
	assert.ErrorIs(t, err, errEmptyPlaceholder)
}

func TestTemplate_Render(t *testing.T) {
	root := map[string]any{
		"captures": map[string]any{"pct": "87"},
		"source":   map[string]any{"ip": "10.0.0.1", "port": 161},
		"tags":     map[string]string{"site": "mad1"},
	}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"no placeholders", "static value", "static value"},
		{"literal dollar", "cost $5", "cost $5"},
		{"single", "${captures.pct}", "87"},
		{"mixed", "${source.ip}:${source.port} @ ${tags.site}", "10.0.0.1:161 @ mad1"},
		{"unresolved becomes empty", "[${captures.missing}]", "[]"},
		{"all unresolved", "${a.b}${c}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := ParseTemplate(tt.tpl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tpl.Render(root))
		})
	}
}

func TestTemplate_HasPlaceholders(t *testing.T) {
	tpl, err := ParseTemplate("plain")
	require.NoError(t, err)
	assert.False(t, tpl.HasPlaceholders())
	assert.Equal(t, "plain", tpl.String())

	tpl, err = ParseTemplate("${x}")
	require.NoError(t, err)
	assert.True(t, tpl.HasPlaceholders())
}
