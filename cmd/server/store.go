package main

import (
	"context"
	"fmt"

	"github.com/soaringjerry/Checkin/internal/api"
	"github.com/soaringjerry/Checkin/internal/config"
	"github.com/soaringjerry/Checkin/internal/db"
	"github.com/soaringjerry/Checkin/internal/kv"
	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/services"
)

func openStore(cfg config.Config) (api.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := db.Open(cfg.SQLitePath, cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverBadger:
		kc := kv.DefaultConfig()
		kc.Path = cfg.BadgerPath
		s, err := kv.Open(kc)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return api.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func closeStore(s api.Store) {
	if err := s.Close(); err != nil {
		log.WithError(err).Warn("close store")
	}
}

// seedTemplates loads system templates from path (or the built-in set) and
// inserts the ones the store does not have yet.
func seedTemplates(ctx context.Context, templates *services.TemplateService, path string) (int, error) {
	seed, err := services.LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	n, err := templates.SeedSystemTemplates(ctx, seed)
	if err != nil {
		return n, fmt.Errorf("seed system templates: %w", err)
	}
	return n, nil
}
