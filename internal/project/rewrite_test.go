package project

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geopack/geopack/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("test", "0")
	log.DisableConsoleOutput()
	return log
}

const projectTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<qgis version="3.34">
  <homePath path="postgresql://host/db?dbname='x'"/>
  <projectlayers>
    <maplayer>
      <provider>postgres</provider>
      <datasource>dbname='x' host=localhost schema='s' table='t' (geom)</datasource>
      <layername>t</layername>
    </maplayer>
    <maplayer>
      <provider>ogr</provider>
      <datasource>/data/roads.shp</datasource>
      <layername>roads</layername>
    </maplayer>
  </projectlayers>
  <projectstorage type="postgresql"/>
</qgis>`

func TestRewrite(t *testing.T) {
	t.Run("rewrites matched database layer", func(t *testing.T) {
		a := NewAssignment()
		a.TableContainers[TableKey{Schema: "s", Table: "t"}] = "/out/s/t.gpkg"

		out := Rewrite(projectTemplate, a, testLogger())

		assert.Contains(t, out, "/out/s/t.gpkg|layername=t")
		assert.NotContains(t, out, "dbname='x' host=localhost")
		// Provider of the rewritten layer switched to the file provider
		assert.Equal(t, 2, strings.Count(out, "<provider>ogr</provider>"))
	})

	t.Run("file-backed layer untouched", func(t *testing.T) {
		a := NewAssignment()
		a.TableContainers[TableKey{Schema: "s", Table: "t"}] = "/out/s/t.gpkg"

		out := Rewrite(projectTemplate, a, testLogger())
		assert.Contains(t, out, "/data/roads.shp")
	})

	t.Run("unmatched layer left as-is and skipped", func(t *testing.T) {
		a := NewAssignment()
		a.SchemaContainers["other"] = "/out/other.gpkg"

		out := Rewrite(projectTemplate, a, testLogger())
		assert.Contains(t, out, "dbname='x' host=localhost schema='s' table='t' (geom)")
		assert.Contains(t, out, "<provider>postgres</provider>")
	})

	t.Run("schema assignment applies layer prefix", func(t *testing.T) {
		a := NewAssignment()
		a.SchemaContainers["s"] = "/out/all.gpkg"
		a.LayerPrefixes["s"] = "s__"

		out := Rewrite(projectTemplate, a, testLogger())
		assert.Contains(t, out, "/out/all.gpkg|layername=s__t")
	})

	t.Run("table assignment wins over schema assignment", func(t *testing.T) {
		a := NewAssignment()
		a.SchemaContainers["s"] = "/out/s.gpkg"
		a.TableContainers[TableKey{Schema: "s", Table: "t"}] = "/out/s/t.gpkg"

		out := Rewrite(projectTemplate, a, testLogger())
		assert.Contains(t, out, "/out/s/t.gpkg|layername=t")
		assert.NotContains(t, out, "/out/s.gpkg|")
	})

	t.Run("scrubs storage metadata", func(t *testing.T) {
		a := NewAssignment()
		a.TableContainers[TableKey{Schema: "s", Table: "t"}] = "/out/s/t.gpkg"

		out := Rewrite(projectTemplate, a, testLogger())
		assert.NotContains(t, out, "projectstorage")
		assert.Contains(t, out, `projectname=""`)
		assert.Contains(t, out, `<homePath path=""/>`)
	})

	t.Run("keeps declaration header", func(t *testing.T) {
		a := NewAssignment()
		out := Rewrite(projectTemplate, a, testLogger())
		assert.True(t, strings.HasPrefix(out, "<?xml"))
	})

	t.Run("malformed input returned unchanged", func(t *testing.T) {
		broken := "<qgis><maplayer></qgis>"
		out := Rewrite(broken, NewAssignment(), testLogger())
		assert.Equal(t, broken, out)
	})
}

func TestParseDatasource(t *testing.T) {
	tests := []struct {
		name   string
		ds     string
		schema string
		table  string
	}{
		{
			name:   "single-quoted schema and table",
			ds:     `dbname='x' schema='public' table='roads' (geom)`,
			schema: "public",
			table:  "roads",
		},
		{
			name:   "double-quoted qualified table",
			ds:     `dbname='x' table="public"."roads" (geom)`,
			schema: "public",
			table:  "roads",
		},
		{
			name:   "single-quoted qualified table",
			ds:     `dbname='x' table='public'.'roads'`,
			schema: "public",
			table:  "roads",
		},
		{
			name:   "double-quoted table with separate schema",
			ds:     `service=geo schema="gis" table="parcels"`,
			schema: "gis",
			table:  "parcels",
		},
		{
			name:   "explicit schema wins over qualified prefix",
			ds:     `schema='a' table="b"."t"`,
			schema: "a",
			table:  "t",
		},
		{
			name:   "unparseable",
			ds:     `dbname='x' nothing here`,
			schema: "",
			table:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, table := parseDatasource(tt.ds)
			assert.Equal(t, tt.schema, schema)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcd", 2))

	// Cuts land on rune boundaries
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "日本", truncate("日本語テキスト", 7))
	for n := 0; n <= len("déjà vu"); n++ {
		assert.True(t, utf8.ValidString(truncate("déjà vu", n)))
	}
}

func TestResolve(t *testing.T) {
	a := NewAssignment()
	a.SchemaContainers["s"] = "/out/s.gpkg"
	a.LayerPrefixes["s"] = "s__"
	a.TableContainers[TableKey{Schema: "p", Table: "t"}] = "/out/p/t.gpkg"

	t.Run("table entry", func(t *testing.T) {
		path, layer, ok := a.Resolve("p", "t")
		require.True(t, ok)
		assert.Equal(t, "/out/p/t.gpkg", path)
		assert.Equal(t, "t", layer)
	})

	t.Run("schema entry with prefix", func(t *testing.T) {
		path, layer, ok := a.Resolve("s", "roads")
		require.True(t, ok)
		assert.Equal(t, "/out/s.gpkg", path)
		assert.Equal(t, "s__roads", layer)
	})

	t.Run("no entry", func(t *testing.T) {
		_, _, ok := a.Resolve("missing", "t")
		assert.False(t, ok)
	})
}
