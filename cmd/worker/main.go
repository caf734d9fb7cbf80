package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/services"
	"github.com/meshlift/backend/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.New()

	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	storageService := services.NewStorageService(cfg)
	var s3Service *services.S3Service
	if cfg.MediaS3Endpoint != "" {
		s3Service, err = services.NewS3Service(cfg)
		if err != nil {
			log.Fatalf("Failed to init S3 service: %v", err)
		}
	}
	assetService := services.NewAssetService(db, cfg, storageService, s3Service)
	eventService := services.NewPipelineEventService(db, cfg)
	genAPIClient := services.NewGenAPIClient(cfg)

	// The worker never enqueues; CompleteGeneration is the end of the chain.
	generationService := services.NewGenerationService(cfg, assetService, storageService, s3Service, eventService, genAPIClient, nil)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(generationService)
	mux := processor.Mux()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("Worker starting with concurrency %d", cfg.WorkerConcurrency)
	if err := server.Run(mux); err != nil {
		log.Printf("Worker stopped: %v", err)
		os.Exit(1)
	}
}
