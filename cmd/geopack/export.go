package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/geopack/geopack/internal/database/postgres"
	"github.com/geopack/geopack/internal/engine"
	"github.com/geopack/geopack/internal/gpkg"
)

var (
	exportConn     string
	exportSchemas  []string
	exportTables   []string
	exportModeName string
	exportOut      string
	exportSingle   string
	exportProjects bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export selected relations to GeoPackage containers",
	Long: `Export tables and views to GeoPackage containers under one of three layouts:
per-schema (one container per schema), single (one container for everything)
or per-table (one container per relation). With --projects, QGIS projects
stored in the database are extracted, their data sources rewritten to the
exported containers, and written alongside them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := engine.ParseLayoutMode(exportModeName)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(exportOut, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %v", err)
		}

		// Cancellation: first signal cancels cooperatively, second kills
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool, conn, err := openConnection(ctx, exportConn)
		if err != nil {
			return err
		}

		selection, err := buildSelection(ctx, pool)
		// The discovery connection is the caller's; the worker opens its own
		pool.Close()
		if err != nil {
			return err
		}
		if selection.Total() == 0 {
			return fmt.Errorf("nothing to export")
		}

		writer := gpkg.NewSQLiteWriter(log)
		defer writer.Close()

		runner := engine.NewRunner(writer, log)
		run := runner.Start(ctx, engine.Options{
			Conn:           conn,
			Selection:      selection,
			Mode:           mode,
			OutputDir:      exportOut,
			SinglePath:     exportSingle,
			ExportProjects: exportProjects,
		})

		go func() {
			<-ctx.Done()
			run.Cancel()
		}()

		for event := range run.Progress() {
			fmt.Printf("[%d/%d] %s\n", event.Step, event.Total, event.Label)
		}

		result := <-run.Result()
		fmt.Println(result.Summary())
		return nil
	},
}

// buildSelection expands the --schema/--table flags against the catalog.
// Without either flag every non-system schema is selected.
func buildSelection(ctx context.Context, pool *pgxpool.Pool) (engine.Selection, error) {
	tableFilter := make(map[string]map[string]bool)
	for _, qualified := range exportTables {
		parts := strings.SplitN(qualified, ".", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --table %q (want schema.table)", qualified)
		}
		if tableFilter[parts[0]] == nil {
			tableFilter[parts[0]] = make(map[string]bool)
		}
		tableFilter[parts[0]][parts[1]] = true
	}

	wholeSchemas := make(map[string]bool)
	for _, schema := range exportSchemas {
		wholeSchemas[schema] = true
	}

	schemas := make([]string, 0, len(wholeSchemas)+len(tableFilter))
	for schema := range wholeSchemas {
		schemas = append(schemas, schema)
	}
	for schema := range tableFilter {
		if !wholeSchemas[schema] {
			schemas = append(schemas, schema)
		}
	}

	selectAll := len(schemas) == 0
	if selectAll {
		all, err := postgres.ListSchemas(ctx, pool)
		if err != nil {
			return nil, err
		}
		schemas = all
	}

	selection := make(engine.Selection)
	for _, schema := range schemas {
		relations, err := postgres.ListRelations(ctx, pool, schema)
		if err != nil {
			return nil, err
		}

		includeAll := selectAll || wholeSchemas[schema]
		for _, rel := range relations {
			if !includeAll && !tableFilter[schema][rel.Table] {
				continue
			}
			selection[schema] = append(selection[schema], rel)
		}
	}
	return selection, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportConn, "conn", "", "Connection name (required)")
	exportCmd.Flags().StringSliceVar(&exportSchemas, "schema", nil, "Schema to export (repeatable; default: all)")
	exportCmd.Flags().StringSliceVar(&exportTables, "table", nil, "Relation to export as schema.table (repeatable)")
	exportCmd.Flags().StringVar(&exportModeName, "mode", "per-schema", "Layout mode: per-schema, single or per-table")
	exportCmd.Flags().StringVar(&exportOut, "out", ".", "Output directory")
	exportCmd.Flags().StringVar(&exportSingle, "gpkg", "", "Container path for single mode")
	exportCmd.Flags().BoolVar(&exportProjects, "projects", false, "Also export stored QGIS projects")
	exportCmd.MarkFlagRequired("conn")
}
