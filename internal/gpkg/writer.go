package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/geopack/geopack/internal/database/postgres"
	"github.com/geopack/geopack/pkg/config"
	"github.com/geopack/geopack/pkg/logger"
)

// Writer exports a single source relation into a GeoPackage container. The
// export engine treats implementations as atomic per call.
type Writer interface {
	Export(ctx context.Context, conn config.Connection, rel postgres.Relation, outputPath, layerName, keyColumn string) (bool, string)
}

// insertBatchSize rows are inserted per transaction
const insertBatchSize = 500

// SQLiteWriter writes GeoPackage containers through the sqlite3 driver,
// reading source rows over a cached connection pool.
type SQLiteWriter struct {
	log *logger.Logger

	mu      sync.Mutex
	pool    *pgxpool.Pool
	poolKey string
}

// NewSQLiteWriter creates a writer backed by the sqlite3 driver
func NewSQLiteWriter(log *logger.Logger) *SQLiteWriter {
	return &SQLiteWriter{log: log}
}

// Close releases the cached source connection pool
func (w *SQLiteWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pool != nil {
		w.pool.Close()
		w.pool = nil
		w.poolKey = ""
	}
}

func (w *SQLiteWriter) getPool(ctx context.Context, conn config.Connection) (*pgxpool.Pool, error) {
	key := fmt.Sprintf("%s:%d/%s/%s", conn.Host, conn.Port, conn.Database, conn.Username)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pool != nil && w.poolKey == key {
		return w.pool, nil
	}
	if w.pool != nil {
		w.pool.Close()
		w.pool = nil
	}

	pool, err := postgres.Connect(ctx, conn)
	if err != nil {
		return nil, err
	}
	w.pool = pool
	w.poolKey = key
	return pool, nil
}

// Export writes one relation as a named layer of the container at
// outputPath, creating the container if needed and replacing the layer if it
// already exists.
func (w *SQLiteWriter) Export(ctx context.Context, conn config.Connection, rel postgres.Relation, outputPath, layerName, keyColumn string) (bool, string) {
	if layerName == "" {
		layerName = rel.Table
	}

	pool, err := w.getPool(ctx, conn)
	if err != nil {
		return false, fmt.Sprintf("Export error %s: %v", rel.QualifiedName(), err)
	}

	columns, err := w.sourceColumns(ctx, pool, rel)
	if err != nil {
		return false, fmt.Sprintf("Export error %s: %v", rel.QualifiedName(), err)
	}
	if len(columns) == 0 && !rel.Spatial() {
		return false, fmt.Sprintf("Export error %s: no exportable columns", rel.QualifiedName())
	}

	container, err := openContainer(outputPath)
	if err != nil {
		return false, fmt.Sprintf("Export error %s: %v", rel.QualifiedName(), err)
	}
	defer container.Close()

	if err := w.writeLayer(ctx, pool, container, rel, layerName, keyColumn, columns); err != nil {
		return false, fmt.Sprintf("Export error %s: %v", rel.QualifiedName(), err)
	}

	return true, fmt.Sprintf("OK: %s → %s", rel.QualifiedName(), layerName)
}

// sourceColumn is one attribute column of the source relation
type sourceColumn struct {
	name   string
	pgType string
}

func (w *SQLiteWriter) sourceColumns(ctx context.Context, pool *pgxpool.Pool, rel postgres.Relation) ([]sourceColumn, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, rel.Schema, rel.Table)
	if err != nil {
		return nil, fmt.Errorf("error reading source columns: %v", err)
	}
	defer rows.Close()

	var columns []sourceColumn
	for rows.Next() {
		var col sourceColumn
		if err := rows.Scan(&col.name, &col.pgType); err != nil {
			return nil, fmt.Errorf("error scanning source column: %v", err)
		}
		// Geometry columns are carried separately; unregistered geometry
		// attributes would not survive the cast and are dropped.
		if col.name == rel.GeometryColumn {
			continue
		}
		if strings.ToLower(col.pgType) == "user-defined" {
			continue
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (w *SQLiteWriter) writeLayer(ctx context.Context, pool *pgxpool.Pool, container *sql.DB, rel postgres.Relation, layerName, keyColumn string, columns []sourceColumn) error {
	// Replace any previous layer of the same name
	if err := dropLayer(container, layerName); err != nil {
		return err
	}

	// The container requires an integer feature id. A non-integer source
	// column named fid would collide, so the feature id moves aside.
	fidColumn := "fid"
	for _, col := range columns {
		if col.name == "fid" && sqliteAffinity(col.pgType) != "INTEGER" {
			fidColumn = "gpkg_fid"
			break
		}
	}

	if err := createFeatureTable(container, layerName, fidColumn, rel, columns); err != nil {
		return err
	}

	srid := rel.SRID
	if rel.Spatial() {
		if err := ensureSpatialRef(ctx, pool, container, srid); err != nil {
			return err
		}
		if err := registerGeometryColumn(container, layerName, rel, srid); err != nil {
			return err
		}
	}
	if err := registerContents(container, layerName, rel, srid); err != nil {
		return err
	}

	return w.copyRows(ctx, pool, container, rel, layerName, keyColumn, columns)
}

func (w *SQLiteWriter) copyRows(ctx context.Context, pool *pgxpool.Pool, container *sql.DB, rel postgres.Relation, layerName, keyColumn string, columns []sourceColumn) error {
	selects := make([]string, 0, len(columns)+1)
	inserts := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		selects = append(selects, sourceCast(col.name, col.pgType))
		inserts = append(inserts, quoteIdent(col.name))
	}
	if rel.Spatial() {
		selects = append(selects, fmt.Sprintf("ST_AsBinary(%s)", quoteIdent(rel.GeometryColumn)))
		inserts = append(inserts, quoteIdent(rel.GeometryColumn))
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(selects, ", "), quoteIdent(rel.Schema), quoteIdent(rel.Table))
	if keyColumn != "" {
		query += " ORDER BY " + quoteIdent(keyColumn)
	}

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("error reading source rows: %v", err)
	}
	defer rows.Close()

	placeholders := strings.Repeat("?, ", len(inserts))
	placeholders = strings.TrimSuffix(placeholders, ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(layerName), strings.Join(inserts, ", "), placeholders)

	tx, err := container.Begin()
	if err != nil {
		return fmt.Errorf("error starting container transaction: %v", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing insert: %v", err)
	}

	inBatch := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("error reading source row: %v", err)
		}

		if rel.Spatial() {
			last := len(values) - 1
			if wkb, ok := values[last].([]byte); ok {
				values[last] = WrapWKB(rel.SRID, wkb)
			}
		}

		if _, err := stmt.Exec(values...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("error writing row: %v", err)
		}

		inBatch++
		if inBatch >= insertBatchSize {
			stmt.Close()
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("error committing batch: %v", err)
			}
			tx, err = container.Begin()
			if err != nil {
				return fmt.Errorf("error starting container transaction: %v", err)
			}
			stmt, err = tx.Prepare(insertSQL)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("error preparing insert: %v", err)
			}
			inBatch = 0
		}
	}
	if err := rows.Err(); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("error reading source rows: %v", err)
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing rows: %v", err)
	}
	return nil
}
