package gpkg

import (
	"encoding/binary"
	"strings"
)

// GeoPackage binary header constants
const (
	gpMagic0      = 0x47 // 'G'
	gpMagic1      = 0x50 // 'P'
	gpVersion     = 0x00
	gpFlagsLittle = 0x01 // little-endian, no envelope
)

// WrapWKB prefixes a WKB geometry with the GeoPackage binary header
func WrapWKB(srid int, wkb []byte) []byte {
	header := make([]byte, 8)
	header[0] = gpMagic0
	header[1] = gpMagic1
	header[2] = gpVersion
	header[3] = gpFlagsLittle
	binary.LittleEndian.PutUint32(header[4:], uint32(int32(srid)))
	return append(header, wkb...)
}

// GeometryTypeName normalizes a source geometry type to the container's
// geometry type vocabulary. Unknown types map to GEOMETRY.
func GeometryTypeName(sourceType string) string {
	switch name := strings.ToUpper(strings.TrimSpace(sourceType)); name {
	case "POINT", "LINESTRING", "POLYGON",
		"MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON",
		"GEOMETRYCOLLECTION", "CIRCULARSTRING", "COMPOUNDCURVE",
		"CURVEPOLYGON", "MULTICURVE", "MULTISURFACE", "CURVE", "SURFACE":
		return name
	default:
		return "GEOMETRY"
	}
}

// sqliteAffinity maps a PostgreSQL data type to the column type used in the
// container's feature table.
func sqliteAffinity(pgType string) string {
	switch strings.ToLower(pgType) {
	case "smallint", "integer", "bigint", "boolean", "smallserial", "serial", "bigserial":
		return "INTEGER"
	case "real", "double precision", "numeric", "decimal", "money":
		return "REAL"
	case "bytea":
		return "BLOB"
	case "date", "timestamp without time zone", "timestamp with time zone", "time without time zone", "time with time zone":
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// sourceCast returns the SQL cast applied when reading a source column, so
// row values arrive as plain Go scalars matching the target affinity.
func sourceCast(column, pgType string) string {
	quoted := quoteIdent(column)
	switch sqliteAffinity(pgType) {
	case "INTEGER":
		if strings.ToLower(pgType) == "boolean" {
			return quoted + "::int"
		}
		return quoted + "::bigint"
	case "REAL":
		return quoted + "::float8"
	case "BLOB":
		return quoted
	default:
		return quoted + "::text"
	}
}

// quoteIdent double-quotes an identifier for SQL
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
