package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Checkin/internal/config"
	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CHECKIN_STORE", "")
	t.Setenv("CHECKIN_JWT_SECRET", "cli-test-secret")
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--user", "t42", "--role", "trainee")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)
	require.NotEmpty(t, tok)
	t.Cleanup(func() { middleware.SetSecret("") })

	h := middleware.WithAuth(middleware.RequireRole(models.RoleTrainee)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFromContext(r.Context())
		_, _ = w.Write([]byte(id.UserID))
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t42", rec.Body.String())
}

func TestTokenCommandValidation(t *testing.T) {
	_, err := run(t, "token", "--user", "x", "--role", "admin")
	assert.Error(t, err)

	_, err = run(t, "token")
	assert.Error(t, err, "--user is required")
}

func TestMigrateAndSeedCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "checkin.db")

	out, err := run(t, "migrate", "--sqlite-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "at schema version 1")

	out, err = run(t, "seed", "--store", "sqlite", "--sqlite-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 3 system templates")

	out, err = run(t, "seed", "--store", "sqlite", "--sqlite-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 0 system templates")
}

func TestUnknownStoreFlag(t *testing.T) {
	_, err := run(t, "seed", "--store", "postgres")
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpenStoreDrivers(t *testing.T) {
	dir := t.TempDir()
	cfgs := map[string]config.Config{
		config.DriverMemory: {StoreDriver: config.DriverMemory},
		config.DriverSQLite: {StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "s.db")},
		config.DriverBadger: {StoreDriver: config.DriverBadger, BadgerPath: filepath.Join(dir, "badger")},
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			store, err := openStore(cfg)
			require.NoError(t, err)
			defer closeStore(store)

			templates := services.NewTemplateService(store)
			n, err := seedTemplates(context.Background(), templates, "")
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			n, err = seedTemplates(context.Background(), templates, "")
			require.NoError(t, err)
			assert.Zero(t, n)

			list, err := templates.ListTemplatesVisibleTo(context.Background(), "c1")
			require.NoError(t, err)
			assert.Len(t, list, 3)
		})
	}

	_, err := openStore(config.Config{StoreDriver: "postgres"})
	assert.Error(t, err)
}
