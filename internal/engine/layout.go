package engine

import (
	"fmt"
	"sort"

	"github.com/geopack/geopack/internal/database/postgres"
)

// ContainerExt is the output container file extension
const ContainerExt = ".gpkg"

// LayoutMode determines how selected relations map to container files
type LayoutMode int

const (
	// PerSchema writes one container per schema, named after the schema
	PerSchema LayoutMode = iota
	// Single writes every relation into one container
	Single
	// PerTable writes one container per relation under a schema subdirectory
	PerTable
)

func (m LayoutMode) String() string {
	switch m {
	case PerSchema:
		return "per-schema"
	case Single:
		return "single"
	case PerTable:
		return "per-table"
	default:
		return fmt.Sprintf("LayoutMode(%d)", int(m))
	}
}

// ParseLayoutMode parses a layout mode name
func ParseLayoutMode(s string) (LayoutMode, error) {
	switch s {
	case "per-schema":
		return PerSchema, nil
	case "single":
		return Single, nil
	case "per-table":
		return PerTable, nil
	default:
		return PerSchema, fmt.Errorf("unknown layout mode %q (want per-schema, single or per-table)", s)
	}
}

// Selection maps schema names to the relations chosen for export. Per-schema
// insertion order is preserved; schemas are processed in sorted order.
type Selection map[string][]postgres.Relation

// Schemas returns the selected schema names in processing order
func (s Selection) Schemas() []string {
	schemas := make([]string, 0, len(s))
	for schema := range s {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)
	return schemas
}

// Total returns the number of relations in the selection
func (s Selection) Total() int {
	total := 0
	for _, relations := range s {
		total += len(relations)
	}
	return total
}
