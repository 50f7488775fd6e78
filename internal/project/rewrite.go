// Package project rewrites the data-source declarations of QGIS project
// documents so they reference exported GeoPackage containers instead of the
// live database.
package project

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"

	"github.com/geopack/geopack/pkg/logger"
)

// Provider tokens and database markers recognized in layer declarations
const (
	databaseProvider = "postgres"
	fileProvider     = "ogr"
)

var databaseMarkers = []string{"dbname=", "service="}

// TableKey identifies a relation within an assignment
type TableKey struct {
	Schema string
	Table  string
}

// Assignment records where the export run placed each relation. Schema
// entries serve the per-schema and single-container layouts, table entries
// the per-table layout. Table entries always take precedence on lookup.
type Assignment struct {
	SchemaContainers map[string]string
	TableContainers  map[TableKey]string
	LayerPrefixes    map[string]string
}

// NewAssignment creates an empty assignment
func NewAssignment() Assignment {
	return Assignment{
		SchemaContainers: make(map[string]string),
		TableContainers:  make(map[TableKey]string),
		LayerPrefixes:    make(map[string]string),
	}
}

// Resolve maps a relation to its container path and in-container layer name.
// The table-level entry wins over the schema-level entry; the schema-level
// fallback applies the schema's layer prefix when one is recorded.
func (a Assignment) Resolve(schema, table string) (string, string, bool) {
	if path, ok := a.TableContainers[TableKey{Schema: schema, Table: table}]; ok {
		return path, table, true
	}
	if path, ok := a.SchemaContainers[schema]; ok {
		layer := table
		if prefix, ok := a.LayerPrefixes[schema]; ok {
			layer = prefix + table
		}
		return path, layer, true
	}
	return "", "", false
}

// Ordered source-string patterns. First structural match wins; two-part
// table forms must precede one-part forms so a qualified name is not
// truncated to its schema.
var (
	schemaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`schema='([^']*)'`),
		regexp.MustCompile(`schema="([^"]*)"`),
		regexp.MustCompile(`schema=(\S+)`),
	}
	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`table="([^"]*)"[.\s]*"([^"]*)"`),
		regexp.MustCompile(`table='([^']*)'\.'([^']*)'`),
		regexp.MustCompile(`table="([^"]*)"`),
		regexp.MustCompile(`table='([^']*)'`),
	}
)

// parseDatasource extracts the schema and table names from a database
// data-source string. Either result may be empty when no pattern matches.
func parseDatasource(ds string) (string, string) {
	var schema, table string

	for _, pat := range schemaPatterns {
		if m := pat.FindStringSubmatch(ds); m != nil {
			schema = m[1]
			break
		}
	}

	for _, pat := range tablePatterns {
		m := pat.FindStringSubmatch(ds)
		if m == nil {
			continue
		}
		if len(m) == 3 {
			table = m[2]
			if schema == "" {
				schema = m[1]
			}
		} else {
			table = m[1]
		}
		break
	}

	return schema, table
}

// Rewrite redirects every database-backed layer declaration in the document
// to its assigned container, scrubs stale storage metadata, and returns the
// serialized document. On any parse failure the input is returned unchanged.
func Rewrite(xmlText string, assignment Assignment, log *logger.Logger) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlText); err != nil {
		if log != nil {
			log.Warnf("Project parse error: %v", err)
		}
		return xmlText
	}
	root := doc.Root()
	if root == nil {
		return xmlText
	}

	rewritten := 0
	skipped := 0

	for _, layerElem := range doc.FindElements("//maplayer") {
		prov := layerElem.SelectElement("provider")
		ds := layerElem.SelectElement("datasource")
		if prov == nil || ds == nil || ds.Text() == "" {
			continue
		}

		dsText := ds.Text()
		if !isDatabaseLayer(prov.Text(), dsText) {
			continue
		}

		schema, table := parseDatasource(dsText)
		if schema == "" || table == "" {
			if log != nil {
				log.Warnf("Rewrite skip: can't parse: %s", truncate(dsText, 120))
			}
			skipped++
			continue
		}

		path, layerName, ok := assignment.Resolve(schema, table)
		if !ok {
			if log != nil {
				log.Warnf("Rewrite skip: no container for %s.%s", schema, table)
			}
			skipped++
			continue
		}

		newDS := fmt.Sprintf("%s|layername=%s", path, layerName)
		if log != nil {
			log.Infof("Rewrite: %s.%s → %s", schema, table, newDS)
		}

		ds.SetText(newDS)
		prov.SetText(fileProvider)
		rewritten++
	}

	if log != nil {
		log.Infof("Rewrite: %d rewritten, %d skipped", rewritten, skipped)
	}

	// A remote-storage pointer would send the host application back to the
	// database on next open
	for _, el := range doc.FindElements("//projectstorage") {
		if parent := el.Parent(); parent != nil {
			parent.RemoveChild(el)
		}
	}

	if root.Tag == "qgis" && root.SelectAttr("projectname") == nil {
		root.CreateAttr("projectname", "")
	}

	for _, hp := range doc.FindElements("//homePath") {
		pathValue := strings.ToLower(hp.SelectAttrValue("path", ""))
		if strings.Contains(pathValue, "postgresql") || strings.Contains(pathValue, "dbname=") {
			hp.CreateAttr("path", "")
		}
	}

	out, err := doc.WriteToString()
	if err != nil {
		if log != nil {
			log.Warnf("Project serialize error: %v", err)
		}
		return xmlText
	}
	return out
}

// isDatabaseLayer reports whether a layer declaration points at the database
func isDatabaseLayer(provider, datasource string) bool {
	if provider == databaseProvider {
		return true
	}
	for _, marker := range databaseMarkers {
		if strings.Contains(datasource, marker) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
