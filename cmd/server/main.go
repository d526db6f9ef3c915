package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/studyshare/notegate/internal/api"
	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/database"
	"github.com/studyshare/notegate/internal/pipeline"
	"github.com/studyshare/notegate/internal/queue"
	"github.com/studyshare/notegate/internal/repository"
	"github.com/studyshare/notegate/internal/s3storage"
	"github.com/studyshare/notegate/internal/scan"
	"github.com/studyshare/notegate/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewNoteRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	scanner := scan.NewOrchestrator(cfg)
	ingestor := pipeline.NewIngestor(cfg, repo, store, scanner, queue.NewClient(asynqClient))
	signer := signing.NewSigner(cfg.SigningSecret)

	srv := api.New(cfg, repo, store, ingestor, signer)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
