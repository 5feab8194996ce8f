package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Checkin/internal/db"
	"github.com/soaringjerry/Checkin/internal/log"
)

// migrate always targets the sqlite file, whatever store serve would use, so
// a database can be prepared before switching drivers.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply sqlite schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			store, err := db.Open(cfg.SQLitePath, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.SQLitePath, err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					log.Warnf("failed to close sqlite db: %v", cerr)
				}
			}()
			version, dirty, err := db.SchemaVersion(store.DB(), cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			if dirty {
				return fmt.Errorf("schema version %d is dirty; fix it by hand before serving", version)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", cfg.SQLitePath, version)
			return nil
		},
	}
}
