package main

import (
	"log"
	"os"

	"github.com/tenexa/wanbridge/internal/api"
	"github.com/tenexa/wanbridge/internal/artifact"
	"github.com/tenexa/wanbridge/internal/comfy"
	"github.com/tenexa/wanbridge/internal/config"
	"github.com/tenexa/wanbridge/internal/engine"
	"github.com/tenexa/wanbridge/internal/store"
	"github.com/tenexa/wanbridge/internal/workflow"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("wanbridge: starting",
		"listen_addr", cfg.ListenAddr,
		"engine_addr", cfg.EngineAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	client := comfy.NewClient(cfg.EngineAddr, logger)
	resolver := artifact.NewResolver(cfg.OutputDir(), cfg.MediaKeys, logger)
	templates := workflow.NewStore(cfg.WorkflowDir)

	eng := engine.NewEngine(db, engine.AdaptClient(client), templates, resolver,
		cfg.ExecTimeout, cfg.LogPath(), logger)

	srv := api.NewServer(cfg.ListenAddr, db, eng, client, cfg, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
