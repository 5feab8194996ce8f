// Package config resolves server settings from CHECKIN_* environment
// variables, optionally preloaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/soaringjerry/Checkin/internal/utils"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

type Config struct {
	Addr            string
	StoreDriver     string
	SQLitePath      string
	MigrationsDir   string
	BadgerPath      string
	SeedFile        string
	JWTSecret       string
	TokenTTL        time.Duration
	ShutdownTimeout time.Duration
	CORSOrigin      string
	Debug           bool
	JSONLogs        bool
	Commit          string
	BuildTime       string
}

// Load reads envFile into the process environment (variables already set win)
// and then resolves the configuration. A missing default .env is not an error;
// a missing explicitly named file is. Callers apply their overrides and then
// call Validate.
func Load(envFile string) (Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	return Config{
		Addr:            utils.SafeEnv("CHECKIN_ADDR", ":8080"),
		StoreDriver:     strings.ToLower(utils.SafeEnv("CHECKIN_STORE", DriverMemory)),
		SQLitePath:      utils.SafeEnv("CHECKIN_SQLITE_PATH", "./data/checkin.db"),
		MigrationsDir:   utils.SafeEnv("CHECKIN_MIGRATIONS_DIR", ""),
		BadgerPath:      utils.SafeEnv("CHECKIN_BADGER_PATH", "./data/badger"),
		SeedFile:        utils.SafeEnv("CHECKIN_SEED_FILE", ""),
		JWTSecret:       utils.SafeEnv("CHECKIN_JWT_SECRET", ""),
		TokenTTL:        utils.EnvDuration("CHECKIN_TOKEN_TTL", 30*24*time.Hour),
		ShutdownTimeout: utils.EnvDuration("CHECKIN_SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSOrigin:      utils.SafeEnv("CHECKIN_CORS_ORIGIN", ""),
		Debug:           utils.EnvBool("CHECKIN_DEBUG", false),
		JSONLogs:        utils.EnvBool("CHECKIN_JSON_LOGS", false),
		Commit:          utils.SafeEnv("CHECKIN_COMMIT", ""),
		BuildTime:       utils.SafeEnv("CHECKIN_BUILD_TIME", ""),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("sqlite store needs CHECKIN_SQLITE_PATH")
		}
	case DriverBadger:
		if strings.TrimSpace(c.BadgerPath) == "" {
			return errors.New("badger store needs CHECKIN_BADGER_PATH")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory, sqlite or badger)", c.StoreDriver)
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// UsesDevSecret reports whether tokens would be signed with the built-in key.
func (c Config) UsesDevSecret() bool { return c.JWTSecret == "" }
