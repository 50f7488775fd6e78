package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// systemSchemas are never offered for export
var systemSchemas = []string{"pg_catalog", "information_schema", "pg_toast", "topology"}

// systemRelations are catalog/bookkeeping relations excluded from discovery
var systemRelations = map[string]bool{
	"geography_columns": true,
	"geometry_columns":  true,
	"spatial_ref_sys":   true,
	"raster_columns":    true,
	"raster_overviews":  true,
	"qgis_projects":     true,
}

// spatialInfo is one geometry_columns registration for a relation
type spatialInfo struct {
	column   string
	geomType string
	srid     int
}

// ListSchemas returns the non-system schemas of the database, ordered by name
func ListSchemas(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name != ALL($1)
		ORDER BY schema_name`, systemSchemas)
	if err != nil {
		return nil, fmt.Errorf("error listing schemas: %v", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning schema name: %v", err)
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing schemas: %v", err)
	}
	return schemas, nil
}

// ListRelations returns the exportable relations of a schema. Relations
// registered in the spatial catalog contribute one entry per geometry
// column; unregistered relations contribute a single attribute-only entry.
func ListRelations(ctx context.Context, pool *pgxpool.Pool, schema string) ([]Relation, error) {
	spatial, err := discoverSpatialColumns(ctx, pool, schema)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name, table_type FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("error listing relations in %s: %v", schema, err)
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, fmt.Errorf("error scanning relation: %v", err)
		}
		if systemRelations[name] {
			continue
		}

		kind := RelationTable
		if tableType == "VIEW" {
			kind = RelationView
		}

		if registrations, ok := spatial[name]; ok {
			for _, reg := range registrations {
				relations = append(relations, Relation{
					Schema:         schema,
					Table:          name,
					GeometryColumn: reg.column,
					GeometryType:   reg.geomType,
					SRID:           reg.srid,
					Kind:           kind,
				})
			}
		} else {
			relations = append(relations, Relation{
				Schema: schema,
				Table:  name,
				Kind:   kind,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing relations in %s: %v", schema, err)
	}
	return relations, nil
}

// discoverSpatialColumns reads the geometry_columns registry for a schema.
// Databases without PostGIS simply have no registry.
func discoverSpatialColumns(ctx context.Context, pool *pgxpool.Pool, schema string) (map[string][]spatialInfo, error) {
	var registry *string
	if err := pool.QueryRow(ctx, `SELECT to_regclass('geometry_columns')::text`).Scan(&registry); err != nil {
		return nil, fmt.Errorf("error probing spatial registry: %v", err)
	}
	if registry == nil {
		return map[string][]spatialInfo{}, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT f_table_name, f_geometry_column, type, srid
		FROM geometry_columns
		WHERE f_table_schema = $1
		ORDER BY f_table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("error reading spatial registry for %s: %v", schema, err)
	}
	defer rows.Close()

	spatial := make(map[string][]spatialInfo)
	for rows.Next() {
		var table, column, geomType string
		var srid int
		if err := rows.Scan(&table, &column, &geomType, &srid); err != nil {
			return nil, fmt.Errorf("error scanning spatial registry row: %v", err)
		}
		spatial[table] = append(spatial[table], spatialInfo{
			column:   column,
			geomType: geomType,
			srid:     srid,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading spatial registry for %s: %v", schema, err)
	}
	return spatial, nil
}

// PrimaryKeyColumn returns the first primary key column of a relation, or
// an empty string when the relation has no primary key.
func PrimaryKeyColumn(ctx context.Context, pool *pgxpool.Pool, schema, table string) (string, error) {
	regclass := fmt.Sprintf("%q.%q", schema, table)

	var column string
	err := pool.QueryRow(ctx, `
		SELECT a.attname FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		LIMIT 1`, regclass).Scan(&column)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error detecting primary key for %s.%s: %v", schema, table, err)
	}
	return column, nil
}
