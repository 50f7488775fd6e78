package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/geopack/geopack/pkg/config"
	"github.com/geopack/geopack/pkg/logger"
)

var (
	configFile string
	quiet      bool
	version    = "0.1.0"
)

// log is the process-wide logger shared by all commands
var log = logger.New("geopack", version)

// printVersionInfo displays detailed version information
func printVersionInfo() {
	fmt.Printf("geopack v%s\n", version)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geopack",
	Short: "Export PostgreSQL/PostGIS relations to GeoPackage containers",
	Long: "geopack exports tables and views from a PostgreSQL/PostGIS database into GeoPackage files and rewrites " +
		"QGIS projects stored in the database so they reference the exported containers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Lookup("version").Changed {
			printVersionInfo()
			return nil
		}
		return cmd.Help()
	},
}

// loadRegistry reads the connection registry used by every subcommand
func loadRegistry() (*config.Registry, error) {
	registry, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load connection registry %s: %v", configFile, err)
	}
	return registry, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath(), "Path to the connection registry file")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress diagnostic log output")
	rootCmd.Flags().Bool("version", false, "Show version information and exit")

	cobra.OnInitialize(func() {
		if quiet {
			log.DisableConsoleOutput()
		}
	})

	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(schemasCmd)
	rootCmd.AddCommand(relationsCmd)
	rootCmd.AddCommand(exportCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
