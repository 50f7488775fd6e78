package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayoutMode(t *testing.T) {
	for _, name := range []string{"per-schema", "single", "per-table"} {
		mode, err := ParseLayoutMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, mode.String())
	}

	_, err := ParseLayoutMode("per_schema")
	assert.Error(t, err)
}

func TestSelection(t *testing.T) {
	selection := Selection{
		"zeta":  {rel("zeta", "a")},
		"alpha": {rel("alpha", "b"), rel("alpha", "c")},
	}

	assert.Equal(t, []string{"alpha", "zeta"}, selection.Schemas())
	assert.Equal(t, 3, selection.Total())
	assert.Equal(t, 0, Selection{}.Total())
}
