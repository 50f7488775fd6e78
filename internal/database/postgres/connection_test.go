package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geopack/geopack/pkg/config"
)

func TestConnString(t *testing.T) {
	conn := config.Connection{
		Host:     "db.example.com",
		Port:     5433,
		Database: "gisdata",
		Username: "gis user",
		Password: "p w:/@#+%",
		SSLMode:  "require",
	}

	cfg, err := pgconn.ParseConfig(connString(conn))
	require.NoError(t, err)
	assert.Equal(t, "gis user", cfg.User)
	assert.Equal(t, "p w:/@#+%", cfg.Password)
	assert.Equal(t, "db.example.com", cfg.Host)
	assert.Equal(t, uint16(5433), cfg.Port)
	assert.Equal(t, "gisdata", cfg.Database)
}

func TestNormalizeSSLMode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "prefer"},
		{"prefer", "prefer"},
		{"REQUIRE", "require"},
		{"verify-full", "verify-full"},
		{"SslPrefer", "prefer"},
		{"SslDisable", "disable"},
		{"SslVerifyCa", "verify-ca"},
		{"0", "prefer"},
		{"3", "require"},
		{"5", "verify-full"},
		{"garbage", "prefer"},
		{" allow ", "allow"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSSLMode(tt.in), "input %q", tt.in)
	}
}

func TestResolveAuth(t *testing.T) {
	t.Run("no authRef passes through", func(t *testing.T) {
		conn := config.Connection{Username: "u", Password: "p"}
		assert.Equal(t, conn, ResolveAuth(conn, nil, testLogger()))
	})

	t.Run("complete credentials skip the vault", func(t *testing.T) {
		conn := config.Connection{Username: "u", Password: "p", AuthRef: "ref"}
		assert.Equal(t, conn, ResolveAuth(conn, nil, testLogger()))
	})

	t.Run("nil vault passes through", func(t *testing.T) {
		conn := config.Connection{AuthRef: "ref"}
		assert.Equal(t, conn, ResolveAuth(conn, nil, testLogger()))
	})
}

func TestRelation(t *testing.T) {
	spatial := Relation{Schema: "gis", Table: "roads", GeometryColumn: "geom"}
	assert.True(t, spatial.Spatial())
	assert.Equal(t, "gis.roads", spatial.QualifiedName())

	plain := Relation{Schema: "public", Table: "owners"}
	assert.False(t, plain.Spatial())
}
