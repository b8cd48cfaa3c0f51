package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendra/storefront/internal/common/logtrace"
	"github.com/vendra/storefront/internal/storesrv/auth"
	"github.com/vendra/storefront/internal/storesrv/config"
	"github.com/vendra/storefront/internal/storesrv/db/dbmanager"
	"github.com/vendra/storefront/internal/storesrv/db/postgresql"
	"github.com/vendra/storefront/internal/storesrv/provisioner"
	"github.com/vendra/storefront/internal/storesrv/routing"
	"github.com/vendra/storefront/internal/storesrv/schema"
	"github.com/vendra/storefront/internal/storesrv/server"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile *string
}

func main() {
	slog := log.With().Str("state", "init").Logger()
	opt := parseFlags()

	if *opt.configFile != "" {
		slog.Info().Str("config_file", *opt.configFile).Msg("loading config file")
	}
	if err := config.LoadConfig(*opt.configFile); err != nil {
		slog.Error().Str("config_file", *opt.configFile).Err(err).Msg("unable to load config file")
		os.Exit(1)
	}
	if config.Config().ServerPort == "" {
		slog.Error().Msg("server port not defined")
		os.Exit(1)
	}

	ctx := context.Background()

	pools, err := dbmanager.New(ctx, config.Config().CentralDSN, config.Config().TenantDBPrefix)
	if err != nil {
		slog.Error().Err(err).Msg("unable to connect to central database")
		os.Exit(1)
	}
	defer pools.Close()

	if err := schema.MigrateCentral(ctx, pools.Central()); err != nil {
		slog.Error().Err(err).Msg("unable to migrate central database")
		os.Exit(1)
	}

	connRouter := routing.NewRouter(pools)
	registry := postgresql.NewRegistry(connRouter)
	tenantStore := postgresql.NewTenantStore(connRouter)
	sessionStore := postgresql.NewSessionStore(connRouter)
	sessions := auth.NewManager(sessionStore, tenantStore, connRouter, config.Config().SessionTTL())

	prov := provisioner.New(registry, pools)
	prov.Start(ctx)
	defer prov.Stop()

	go sweepSessions(ctx, sessions)

	s, err := server.CreateNewServer(server.Dependencies{
		Registry:    registry,
		TenantStore: tenantStore,
		Sessions:    sessions,
		Provisioner: prov,
		Pools:       pools,
		ConnRouter:  connRouter,
	})
	if err != nil {
		slog.Error().Err(err).Msg("unable to create server")
		os.Exit(1)
	}
	s.MountHandlers()

	slog.Info().Str("port", config.Config().ServerPort).Str("base_domain", config.Config().BaseDomain).Msg("storefront server listening")
	if err := http.ListenAndServe(":"+config.Config().ServerPort, s.Router); err != nil {
		slog.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// sweepSessions periodically clears expired session rows from the central
// store.
func sweepSessions(ctx context.Context, sessions *auth.Manager) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx := routing.WithBindings(ctx)
			if n, err := sessions.PurgeExpired(sctx); err != nil {
				log.Error().Err(err).Msg("session sweep failed")
			} else if n > 0 {
				log.Info().Int64("sessions", n).Msg("expired sessions removed")
			}
		}
	}
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	opt.configFile = flag.String("config", "", "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
