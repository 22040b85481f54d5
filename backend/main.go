package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"taskify/backend/internal/config"
	"taskify/backend/internal/logger"
	"taskify/backend/internal/server"
)

func main() {
	rollback := flag.Bool("rollback", false, "roll back the last database migration and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New("taskify", "info", "json").WithError(err).Fatal("❌ Failed to load configuration")
	}
	log := logger.New("taskify", cfg.Log.Level, cfg.Log.Format)

	if *rollback {
		if err := server.Rollback(cfg, log); err != nil {
			log.WithError(err).Fatal("❌ Rollback failed")
		}
		return
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Failed to initialize application")
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("❌ Server stopped with error")
		app.Close()
		os.Exit(1)
	}
}
