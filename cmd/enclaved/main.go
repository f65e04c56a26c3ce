package main

import (
	"log"
	"os"

	"github.com/seantiz/enclave/internal/api"
	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/config"
	"github.com/seantiz/enclave/internal/engine"
	"github.com/seantiz/enclave/internal/pool"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/sandbox/proc"
	"github.com/seantiz/enclave/internal/store"

	_ "github.com/seantiz/enclave/internal/builtin"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("enclaved: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"isolation", cfg.Isolation,
		"pool_size", cfg.PoolSize,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	channels := channel.NewService()

	modes := sandbox.NewRegistry()
	modes.Register(sandbox.ModeInProc, sandbox.NewInProc(channels))
	modes.Register(sandbox.ModeProc, proc.NewService(channels, proc.Config{
		AgentPath: cfg.AgentPath,
	}, logger))

	runtimes, err := modes.Resolve(cfg.Isolation)
	if err != nil {
		log.Fatalf("failed to select isolation mode: %v", err)
	}

	p, err := pool.New(runtimes, channels, pool.Config{Size: cfg.PoolSize})
	if err != nil {
		log.Fatalf("failed to build worker pool: %v", err)
	}
	defer p.Shutdown(true)

	eng := engine.NewEngine(db, p, logger)
	srv := api.NewServer(cfg.ListenAddr, db, modes, p, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight task records settle before the store closes.
	eng.Wait()
}
