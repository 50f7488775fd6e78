package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	content := `connections:
  prod:
    host: db.example.com
    port: 5433
    database: gisdata
    username: gis
    sslmode: require
  local:
    host: localhost
    database: scratch
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	registry, err := Load(path)
	require.NoError(t, err)

	prod, ok := registry.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "db.example.com", prod.Host)
	assert.Equal(t, 5433, prod.Port)
	assert.Equal(t, "require", prod.SSLMode)

	local, ok := registry.Get("local")
	require.True(t, ok)
	assert.Equal(t, 5432, local.Port)
	assert.Equal(t, "prefer", local.SSLMode)

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("connections: [not a map"), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "connections.yaml")

	registry := New()
	registry.Set("staging", Connection{
		Host:     "staging.internal",
		Port:     5432,
		Database: "geo",
		AuthRef:  "staging-geo",
		SSLMode:  "verify-full",
	})
	require.NoError(t, registry.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	conn, ok := loaded.Get("staging")
	require.True(t, ok)
	assert.Equal(t, "staging.internal", conn.Host)
	assert.Equal(t, "staging-geo", conn.AuthRef)
	assert.Equal(t, "verify-full", conn.SSLMode)
}

func TestNamesSorted(t *testing.T) {
	registry := New()
	registry.Set("zeta", Connection{Host: "z"})
	registry.Set("alpha", Connection{Host: "a"})
	registry.Set("mid", Connection{Host: "m"})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, registry.Names())
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("GEOPACK_CONNECTIONS", "/etc/geopack/conns.yaml")
	assert.Equal(t, "/etc/geopack/conns.yaml", DefaultPath())

	t.Setenv("GEOPACK_CONNECTIONS", "")
	assert.Contains(t, DefaultPath(), "connections.yaml")
}
