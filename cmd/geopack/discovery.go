package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/geopack/geopack/internal/database/postgres"
	"github.com/geopack/geopack/pkg/config"
	"github.com/geopack/geopack/pkg/keyring"
)

var connName string

// openConnection resolves a named connection through the credential vault
// and opens a pool for discovery use.
func openConnection(ctx context.Context, name string) (*pgxpool.Pool, config.Connection, error) {
	registry, err := loadRegistry()
	if err != nil {
		return nil, config.Connection{}, err
	}

	conn, ok := registry.Get(name)
	if !ok {
		return nil, config.Connection{}, fmt.Errorf("unknown connection %q", name)
	}

	vault := keyring.NewKeyringManager(keyring.GetDefaultKeyringPath(), keyring.GetMasterPasswordFromEnv())
	conn = postgres.ResolveAuth(conn, vault, log)

	pool, err := postgres.Connect(ctx, conn)
	if err != nil {
		return nil, config.Connection{}, err
	}
	return pool, conn, nil
}

// schemasCmd represents the schemas command
var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List non-system schemas of a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, _, err := openConnection(ctx, connName)
		if err != nil {
			return err
		}
		defer pool.Close()

		schemas, err := postgres.ListSchemas(ctx, pool)
		if err != nil {
			return err
		}
		for _, schema := range schemas {
			fmt.Println(schema)
		}
		return nil
	},
}

// relationsCmd represents the relations command
var relationsCmd = &cobra.Command{
	Use:   "relations",
	Short: "List exportable relations of a schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			return fmt.Errorf("--schema is required")
		}

		ctx := cmd.Context()
		pool, _, err := openConnection(ctx, connName)
		if err != nil {
			return err
		}
		defer pool.Close()

		relations, err := postgres.ListRelations(ctx, pool, schema)
		if err != nil {
			return err
		}
		for _, rel := range relations {
			if rel.Spatial() {
				fmt.Printf("%-40s %-6s %s(%s) SRID %d\n",
					rel.QualifiedName(), rel.Kind, rel.GeometryType, rel.GeometryColumn, rel.SRID)
			} else {
				fmt.Printf("%-40s %-6s attribute-only\n", rel.QualifiedName(), rel.Kind)
			}
		}
		return nil
	},
}

func init() {
	schemasCmd.Flags().StringVar(&connName, "conn", "", "Connection name (required)")
	schemasCmd.MarkFlagRequired("conn")

	relationsCmd.Flags().String("schema", "", "Schema to list (required)")
	relationsCmd.Flags().StringVar(&connName, "conn", "", "Connection name (required)")
	relationsCmd.MarkFlagRequired("conn")
}
