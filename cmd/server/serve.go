package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Checkin/internal/api"
	"github.com/soaringjerry/Checkin/internal/config"
	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/services"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	middleware.SetSecret(cfg.JWTSecret)
	if cfg.UsesDevSecret() {
		log.Warn("CHECKIN_JWT_SECRET is not set; tokens are signed with the development key")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	rt := api.NewRouter(api.Deps{
		Store:      store,
		Notifier:   services.LogNotifier{},
		TokenTTL:   cfg.TokenTTL,
		CORSOrigin: cfg.CORSOrigin,
		Version:    api.Version{Commit: cfg.Commit, BuildTime: cfg.BuildTime},
		AccessLog:  true,
	})
	n, err := seedTemplates(ctx, rt.Templates(), cfg.SeedFile)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("seeded %d system templates", n)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{"addr": cfg.Addr, "store": cfg.StoreDriver, "commit": cfg.Commit}).
			Info("Checkin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
