package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/neuroscout-backend/internal/data/db"
)

func migrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, closeDB, err := c.openDB(c)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := db.AutoMigrateAll(gdb); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", gdb.Dialector.Name())
			return nil
		},
	}
}
