package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"whatsfleet/internal/app/config"
	"whatsfleet/internal/app/server"
	"whatsfleet/internal/http/handlers"
	"whatsfleet/internal/http/router"
	"whatsfleet/internal/infra/authstore"
	"whatsfleet/internal/infra/database"
	"whatsfleet/internal/infra/whatsapp/fleet"
	"whatsfleet/internal/infra/whatsapp/protocol"
	"whatsfleet/internal/infra/whatsapp/webhook"
	"whatsfleet/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log := logger.Setup(cfg).WithComponent("main")

	log.WithFields(map[string]interface{}{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	}).Info().Msg("starting whatsfleet")

	db, err := database.NewDatabase(cfg.GetDatabaseDSN(), cfg.App.Env == "development", log)
	if err != nil {
		log.WithError(err).Fatal().Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.WithError(err).Fatal().Msg("failed to run migrations")
	}
	log.Info().Msg("connected to database and ran migrations")

	registry := database.NewInstanceRegistry(db)
	rows := authstore.NewBunRowStore(db)
	proto := protocol.New(rows, log)
	webhooks := webhook.New(cfg.Webhook.Secret, log)

	fleetCfg := fleet.Config{
		MaxInstances:       cfg.Fleet.MaxInstances,
		StaggeredBootDelay: time.Duration(cfg.Fleet.StaggeredBootDelayMs) * time.Millisecond,
		ReconnectSemaphore: cfg.Fleet.ReconnectSemaphore,
		RetryCap:           cfg.Fleet.RetryCap,
	}
	coordinator := fleet.New(fleetCfg, registry, rows, proto, webhooks, log)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := coordinator.Bootstrap(bootCtx); err != nil {
		log.WithError(err).Error().Msg("failed to recover instances from previous process")
	}
	bootCancel()

	instanceHandler := handlers.NewInstanceHandler(coordinator, log)
	authHandler := handlers.NewAuthHandler(rows, log)
	healthHandler := handlers.NewHealthHandler()

	httpRouter := router.New(cfg, log, instanceHandler, authHandler, healthHandler)
	srv := server.New(cfg, httpRouter, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal().Msg("failed to start server")
		}
	}()

	log.Info().Msg("whatsfleet started successfully")

	<-stop

	coordinator.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.WithError(err).Error().Msg("error during server shutdown")
	}

	log.Info().Msg("whatsfleet stopped")
}
