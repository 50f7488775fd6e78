package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geopack/geopack/internal/database/postgres"
)

// GeoPackage file identification
const (
	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10300      // format version 1.3.0
)

// openContainer opens (or creates) a GeoPackage file and ensures its core
// metadata tables exist.
func openContainer(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening container: %v", err)
	}

	statements := []string{
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
		fmt.Sprintf("PRAGMA user_version = %d", userVersion),
		`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE,
			min_y DOUBLE,
			max_x DOUBLE,
			max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
			CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
			CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		// Baseline reference systems required by the format
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition)
			VALUES ('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined')`,
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition)
			VALUES ('Undefined geographic SRS', 0, 'NONE', 0, 'undefined')`,
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition)
			VALUES ('WGS 84 geodetic', 4326, 'EPSG', 4326,
				'GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]')`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("error preparing container metadata: %v", err)
		}
	}
	return db, nil
}

// dropLayer removes a layer and its registrations from the container
func dropLayer(db *sql.DB, layerName string) error {
	statements := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(layerName)),
		"DELETE FROM gpkg_geometry_columns WHERE table_name = ?",
		"DELETE FROM gpkg_contents WHERE table_name = ?",
	}
	if _, err := db.Exec(statements[0]); err != nil {
		return fmt.Errorf("error dropping layer %s: %v", layerName, err)
	}
	for _, stmt := range statements[1:] {
		if _, err := db.Exec(stmt, layerName); err != nil {
			return fmt.Errorf("error unregistering layer %s: %v", layerName, err)
		}
	}
	return nil
}

// createFeatureTable creates the layer table with an integer feature id
func createFeatureTable(db *sql.DB, layerName, fidColumn string, rel postgres.Relation, columns []sourceColumn) error {
	defs := []string{fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", quoteIdent(fidColumn))}
	for _, col := range columns {
		if col.name == fidColumn && sqliteAffinity(col.pgType) == "INTEGER" {
			// The source integer fid doubles as the feature id column
			continue
		}
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col.name), sqliteAffinity(col.pgType)))
	}
	if rel.Spatial() {
		defs = append(defs, fmt.Sprintf("%s BLOB", quoteIdent(rel.GeometryColumn)))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(layerName), strings.Join(defs, ", "))
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("error creating layer %s: %v", layerName, err)
	}
	return nil
}

// ensureSpatialRef registers the layer's reference system, copying the
// definition from the source catalog when available.
func ensureSpatialRef(ctx context.Context, pool *pgxpool.Pool, db *sql.DB, srid int) error {
	if srid <= 0 {
		return nil // covered by the baseline entries
	}

	var exists int
	if err := db.QueryRow("SELECT COUNT(*) FROM gpkg_spatial_ref_sys WHERE srs_id = ?", srid).Scan(&exists); err != nil {
		return fmt.Errorf("error probing reference systems: %v", err)
	}
	if exists > 0 {
		return nil
	}

	// Best-effort definition lookup in the source database
	name := fmt.Sprintf("SRID %d", srid)
	organization := "NONE"
	orgID := srid
	definition := "undefined"

	var srtext, authName string
	var authSrid int
	err := pool.QueryRow(ctx, `
		SELECT srtext, auth_name, auth_srid FROM spatial_ref_sys
		WHERE srid = $1`, srid).Scan(&srtext, &authName, &authSrid)
	if err == nil {
		definition = srtext
		if authName != "" {
			organization = authName
			orgID = authSrid
			name = fmt.Sprintf("%s:%d", authName, authSrid)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("error reading source reference system %d: %v", srid, err)
	}

	_, err = db.Exec(`
		INSERT INTO gpkg_spatial_ref_sys
		(srs_name, srs_id, organization, organization_coordsys_id, definition)
		VALUES (?, ?, ?, ?, ?)`,
		name, srid, organization, orgID, definition)
	if err != nil {
		return fmt.Errorf("error registering reference system %d: %v", srid, err)
	}
	return nil
}

// registerGeometryColumn records the layer's geometry column
func registerGeometryColumn(db *sql.DB, layerName string, rel postgres.Relation, srid int) error {
	if srid < 0 {
		srid = 0
	}
	_, err := db.Exec(`
		INSERT INTO gpkg_geometry_columns
		(table_name, column_name, geometry_type_name, srs_id, z, m)
		VALUES (?, ?, ?, ?, 0, 0)`,
		layerName, rel.GeometryColumn, GeometryTypeName(rel.GeometryType), srid)
	if err != nil {
		return fmt.Errorf("error registering geometry column for %s: %v", layerName, err)
	}
	return nil
}

// registerContents records the layer in the container's contents table
func registerContents(db *sql.DB, layerName string, rel postgres.Relation, srid int) error {
	dataType := "attributes"
	srs := any(nil)
	if rel.Spatial() {
		dataType = "features"
		if srid < 0 {
			srid = 0
		}
		srs = srid
	}

	_, err := db.Exec(`
		INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id)
		VALUES (?, ?, ?, ?)`,
		layerName, dataType, layerName, srs)
	if err != nil {
		return fmt.Errorf("error registering contents for %s: %v", layerName, err)
	}
	return nil
}
