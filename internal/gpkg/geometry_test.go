package gpkg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapWKB(t *testing.T) {
	wkb := []byte{0x01, 0x01, 0x00, 0x00, 0x00}
	blob := WrapWKB(4326, wkb)

	require.Len(t, blob, 8+len(wkb))
	assert.Equal(t, byte('G'), blob[0])
	assert.Equal(t, byte('P'), blob[1])
	assert.Equal(t, byte(0x00), blob[2])
	assert.Equal(t, byte(0x01), blob[3])
	assert.Equal(t, uint32(4326), binary.LittleEndian.Uint32(blob[4:8]))
	assert.Equal(t, wkb, blob[8:])
}

func TestGeometryTypeName(t *testing.T) {
	assert.Equal(t, "POINT", GeometryTypeName("Point"))
	assert.Equal(t, "MULTIPOLYGON", GeometryTypeName(" multipolygon "))
	assert.Equal(t, "GEOMETRY", GeometryTypeName("GEOMETRY"))
	assert.Equal(t, "GEOMETRY", GeometryTypeName("PointZ"))
	assert.Equal(t, "GEOMETRY", GeometryTypeName(""))
}

func TestSqliteAffinity(t *testing.T) {
	tests := []struct {
		pgType string
		want   string
	}{
		{"integer", "INTEGER"},
		{"bigint", "INTEGER"},
		{"boolean", "INTEGER"},
		{"double precision", "REAL"},
		{"numeric", "REAL"},
		{"bytea", "BLOB"},
		{"timestamp with time zone", "DATETIME"},
		{"character varying", "TEXT"},
		{"text", "TEXT"},
		{"jsonb", "TEXT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteAffinity(tt.pgType), tt.pgType)
	}
}

func TestSourceCast(t *testing.T) {
	assert.Equal(t, `"n"::bigint`, sourceCast("n", "integer"))
	assert.Equal(t, `"b"::int`, sourceCast("b", "boolean"))
	assert.Equal(t, `"v"::float8`, sourceCast("v", "numeric"))
	assert.Equal(t, `"raw"`, sourceCast("raw", "bytea"))
	assert.Equal(t, `"note"::text`, sourceCast("note", "jsonb"))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdent("plain"))
	assert.Equal(t, `"odd""name"`, quoteIdent(`odd"name`))
}
