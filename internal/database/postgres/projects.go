package postgres

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zlib"

	"github.com/geopack/geopack/pkg/logger"
)

// projectStorageTable is the well-known name under which the host
// application stores serialized projects inside the database.
const projectStorageTable = "qgis_projects"

// projectMarkupExt is the plain-markup project file extension
const projectMarkupExt = ".qgs"

// zipSignature is the local-file-header magic of a zip archive
var zipSignature = []byte{0x50, 0x4b, 0x03, 0x04}

// zlibHeader is the usual leading byte of a deflate stream
const zlibHeader = 0x78

// FindProjectDocuments locates project documents stored in the database and
// decodes their payloads to markup text. A failure reading one storage table
// is logged and skipped; the scan continues.
func FindProjectDocuments(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) ([]ProjectDocument, error) {
	rows, err := pool.Query(ctx, `
		SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_name = $1
		ORDER BY table_schema`, projectStorageTable)
	if err != nil {
		return nil, fmt.Errorf("error locating project storage tables: %v", err)
	}

	type storageTable struct{ schema, table string }
	var tables []storageTable
	for rows.Next() {
		var st storageTable
		if err := rows.Scan(&st.schema, &st.table); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning storage table row: %v", err)
		}
		tables = append(tables, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error locating project storage tables: %v", err)
	}

	var documents []ProjectDocument
	for _, st := range tables {
		docs, err := readProjectTable(ctx, pool, st.schema, st.table, log)
		if err != nil {
			log.Warnf("Error reading projects from %s.%s: %v", st.schema, st.table, err)
			continue
		}
		documents = append(documents, docs...)
	}
	return documents, nil
}

func readProjectTable(ctx context.Context, pool *pgxpool.Pool, schema, table string, log *logger.Logger) ([]ProjectDocument, error) {
	columns, err := tableColumns(ctx, pool, schema, table)
	if err != nil {
		return nil, err
	}

	// Prefer the content column, fall back to metadata
	payloadColumn := ""
	for _, candidate := range []string{"content", "metadata"} {
		for _, col := range columns {
			if col == candidate {
				payloadColumn = candidate
				break
			}
		}
		if payloadColumn != "" {
			break
		}
	}
	if payloadColumn == "" {
		log.Infof("Skipping %s.%s: no payload column", schema, table)
		return nil, nil
	}

	query := fmt.Sprintf("SELECT name, %s FROM %s",
		pgx.Identifier{payloadColumn}.Sanitize(),
		pgx.Identifier{schema, table}.Sanitize())

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []ProjectDocument
	for rows.Next() {
		var name string
		var payload any
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}

		xml, ok := DecodeProjectPayload(name, payload, log)
		if !ok {
			continue
		}
		documents = append(documents, ProjectDocument{Schema: schema, Name: name, XML: xml})
	}
	return documents, rows.Err()
}

func tableColumns(ctx context.Context, pool *pgxpool.Pool, schema, table string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// decodeStep is one leg of the payload decode chain
type decodeStep struct {
	name    string
	applies func([]byte) bool
	decode  func([]byte) (string, error)
}

// decodeChain is the ordered payload decode fallback. The order matters: a
// zip payload can also inflate as raw text, so the archive signature is
// checked first, the deflate header second. The trailing deflate retry
// handles payloads whose leading byte is ambiguous.
var decodeChain = []decodeStep{
	{
		name:    "archive",
		applies: func(raw []byte) bool { return bytes.HasPrefix(raw, zipSignature) },
		decode:  decodeArchive,
	},
	{
		name:    "deflate",
		applies: func(raw []byte) bool { return len(raw) > 0 && raw[0] == zlibHeader },
		decode:  decodeDeflate,
	},
	{
		name:    "plain",
		applies: func(raw []byte) bool { return utf8.Valid(raw) },
		decode:  func(raw []byte) (string, error) { return string(raw), nil },
	},
	{
		name:    "deflate-retry",
		applies: func(raw []byte) bool { return true },
		decode:  decodeDeflate,
	},
}

// DecodeProjectPayload recovers project markup from a stored payload,
// trying each decode step in order until one yields recognizable markup.
func DecodeProjectPayload(name string, payload any, log *logger.Logger) (string, bool) {
	switch v := payload.(type) {
	case string:
		if isProjectMarkup(v) {
			return v, true
		}
		return "", false
	case []byte:
		for _, step := range decodeChain {
			if !step.applies(v) {
				continue
			}
			text, err := step.decode(v)
			if err != nil {
				if log != nil {
					log.Debugf("Project %s: %s decode failed: %v", name, step.name, err)
				}
				continue
			}
			if isProjectMarkup(text) {
				return text, true
			}
		}
		if log != nil {
			header := v
			if len(header) > 16 {
				header = header[:16]
			}
			log.Warnf("Project %s: cannot extract markup, header %x", name, header)
		}
		return "", false
	default:
		return "", false
	}
}

// isProjectMarkup reports whether text looks like a project document
func isProjectMarkup(text string) bool {
	s := strings.TrimSpace(text)
	return strings.HasPrefix(s, "<?xml") || strings.HasPrefix(s, "<qgis")
}

func decodeArchive(raw []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}
	if len(reader.File) == 0 {
		return "", fmt.Errorf("empty archive")
	}

	// Prefer a member with the project markup extension, else take the first
	target := reader.File[0]
	for _, member := range reader.File {
		if strings.HasSuffix(strings.ToLower(member.Name), projectMarkupExt) {
			target = member
			break
		}
	}

	f, err := target.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDeflate(raw []byte) (string, error) {
	reader, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NormalizeProjectFilename maps a stored project name to the on-disk
// filename of the exported markup document.
func NormalizeProjectFilename(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".qgz") {
		return name[:len(name)-len(".qgz")] + projectMarkupExt
	}
	if !strings.HasSuffix(lower, projectMarkupExt) {
		return name + projectMarkupExt
	}
	return name
}
