package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// connectionsCmd represents the connections command
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage the connection registry",
}

// listConnectionsCmd represents the list command
var listConnectionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadRegistry()
		if err != nil {
			return err
		}

		names := registry.Names()
		if len(names) == 0 {
			fmt.Println("No connections registered")
			return nil
		}

		for _, name := range names {
			conn, _ := registry.Get(name)
			auth := ""
			if conn.AuthRef != "" {
				auth = fmt.Sprintf(" (auth: %s)", conn.AuthRef)
			}
			fmt.Printf("%-20s %s:%d/%s%s\n", name, conn.Host, conn.Port, conn.Database, auth)
		}
		return nil
	},
}

func init() {
	connectionsCmd.AddCommand(listConnectionsCmd)
}
