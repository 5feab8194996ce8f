package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Checkin/internal/config"
	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/services"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load system templates into the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.DriverMemory {
				log.Warn("seeding the memory store has no lasting effect")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)
			n, err := seedTemplates(cmd.Context(), services.NewTemplateService(store), cfg.SeedFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d system templates\n", n)
			return nil
		},
	}
}
