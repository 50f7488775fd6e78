package postgres

// RelationKind distinguishes tables from views in the source catalog
type RelationKind string

const (
	RelationTable RelationKind = "table"
	RelationView  RelationKind = "view"
)

// Relation describes one exportable relation. A relation registered with
// multiple geometry columns appears once per column.
type Relation struct {
	Schema         string
	Table          string
	GeometryColumn string // empty for attribute-only relations
	GeometryType   string
	SRID           int
	Kind           RelationKind
}

// Spatial reports whether the relation carries a registered geometry column
func (r Relation) Spatial() bool {
	return r.GeometryColumn != ""
}

// QualifiedName returns the schema-qualified relation name
func (r Relation) QualifiedName() string {
	return r.Schema + "." + r.Table
}

// ProjectDocument is a QGIS project recovered from the database
type ProjectDocument struct {
	Schema string
	Name   string
	XML    string
}
