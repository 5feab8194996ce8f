package main

import (
	"github.com/spf13/cobra"

	"github.com/soaringjerry/Checkin/internal/config"
	"github.com/soaringjerry/Checkin/internal/log"
)

type rootOptions struct {
	envFile       string
	addr          string
	store         string
	sqlitePath    string
	badgerPath    string
	migrationsDir string
	seedFile      string
	debug         bool
	jsonLogs      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:           "checkin",
		Short:         "Coach/trainee check-in questionnaires",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", "", "dotenv file to preload (default .env when present)")
	pf.StringVar(&opts.addr, "addr", "", "listen address (CHECKIN_ADDR)")
	pf.StringVar(&opts.store, "store", "", "store driver: memory, sqlite or badger (CHECKIN_STORE)")
	pf.StringVar(&opts.sqlitePath, "sqlite-path", "", "sqlite database file (CHECKIN_SQLITE_PATH)")
	pf.StringVar(&opts.badgerPath, "badger-path", "", "badger data directory (CHECKIN_BADGER_PATH)")
	pf.StringVar(&opts.migrationsDir, "migrations", "", "sqlite migrations directory overriding the embedded set")
	pf.StringVar(&opts.seedFile, "seed-file", "", "YAML file with system templates (CHECKIN_SEED_FILE)")
	pf.BoolVar(&opts.debug, "debug", false, "debug logging (CHECKIN_DEBUG)")
	pf.BoolVar(&opts.jsonLogs, "json-logs", false, "log one JSON object per line (CHECKIN_JSON_LOGS)")

	root.AddCommand(serve, newMigrateCmd(opts), newSeedCmd(opts), newTokenCmd(opts))
	return root
}

// resolve loads the environment, applies flags the user set explicitly and
// configures logging.
func (o *rootOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return cfg, err
	}
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("addr") {
		cfg.Addr = o.addr
	}
	if changed("store") {
		cfg.StoreDriver = o.store
	}
	if changed("sqlite-path") {
		cfg.SQLitePath = o.sqlitePath
	}
	if changed("badger-path") {
		cfg.BadgerPath = o.badgerPath
	}
	if changed("migrations") {
		cfg.MigrationsDir = o.migrationsDir
	}
	if changed("seed-file") {
		cfg.SeedFile = o.seedFile
	}
	if changed("debug") {
		cfg.Debug = o.debug
	}
	if changed("json-logs") {
		cfg.JSONLogs = o.jsonLogs
	}
	if cfg.Commit == "" {
		cfg.Commit = commit
	}
	if cfg.BuildTime == "" {
		cfg.BuildTime = buildTime
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if cfg.JSONLogs {
		log.UseJSON()
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}
