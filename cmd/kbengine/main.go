package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/riverchat/kb-engine/internal/app"
	"github.com/riverchat/kb-engine/internal/clients/openai"
	"github.com/riverchat/kb-engine/internal/db"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := app.LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres migration failed", "error", err)
	}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("Redis unreachable; config cache disabled", "addr", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
			rdb = nil
		}
		cancel()
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}

	registry := app.NewClientRegistry(log)
	defer registry.Close()
	vec, err := registry.VectorStore()
	if err != nil {
		log.Fatal("Vector store init failed", "error", err)
	}

	engine, err := app.NewEngine(pg.DB(), log, ai, vec, rdb, nil, cfg)
	if err != nil {
		log.Fatal("Engine init failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Knowledge base ingest worker started",
		"poll_interval", cfg.IngestPollInterval.String(),
		"workers", cfg.IngestWorkers,
	)

	ticker := time.NewTicker(cfg.IngestPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return
		case <-ticker.C:
			n, err := engine.ProcessPending(ctx)
			if err != nil {
				log.Error("Pending sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("Pending sweep complete", "documents", n)
			}
		}
	}
}
