package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"choreflow/internal/api"
	"choreflow/internal/catalog"
	"choreflow/internal/config"
	"choreflow/internal/engine"
	"choreflow/internal/scheduler"
	"choreflow/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := scheduler.ValidateCronSpec(cfg.CronSpec); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.CronSpec).Msg("invalid cron spec")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewSQLiteStore(db)
	eng := engine.New(st)
	provider := catalog.Files{TasksPath: cfg.TasksFile, UsersPath: cfg.UsersFile}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Generate once at startup, then daily on the cron trigger. Both paths
	// run the same idempotent engine call.
	svc := scheduler.NewService(eng, provider)
	svc.RunOnce(ctx)
	if err := svc.Start(ctx, cfg.CronSpec); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(st, eng, provider)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	svc.Stop()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
