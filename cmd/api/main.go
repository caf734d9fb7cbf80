package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/handlers"
	"github.com/meshlift/backend/internal/middleware"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/queue"
	"github.com/meshlift/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
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
	queueClient := queue.NewClient(cfg.RedisHost+":"+cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB, cfg.MeshJobMaxRetry)
	defer queueClient.Close()
	generationService := services.NewGenerationService(cfg, assetService, storageService, s3Service, eventService, genAPIClient, queueClient)

	// Periodic pipeline event pruning
	go func() {
		for {
			time.Sleep(1 * time.Hour)
			pruned, err := eventService.Prune()
			if err != nil {
				log.Printf("Pipeline event prune error: %v", err)
			} else if pruned > 0 {
				log.Printf("Pipeline event prune: removed %d old events", pruned)
			}
		}
	}()

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	assetHandler := handlers.NewAssetHandler(cfg, assetService, storageService, generationService)
	adminHandler := handlers.NewAdminHandler(assetService, eventService)

	// Health check outside API group (no /api/v1 prefix)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Setup routes
	api := router.Group("/api/v1")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		// Catch-all OPTIONS handler for CORS preflight requests
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// User routes
		user := api.Group("/user")
		user.Use(middleware.Auth(cfg))
		{
			user.POST("/assets", middleware.UploadRateLimit(redisClient, cfg), assetHandler.Upload)
			user.GET("/assets", assetHandler.List)
			user.GET("/assets/:id", assetHandler.Get)
			user.GET("/assets/:id/wait", assetHandler.Wait)
			user.DELETE("/assets/:id", assetHandler.Delete)
			user.GET("/assets/:id/image", assetHandler.ServeImage)
			user.GET("/assets/:id/segmented", assetHandler.ServeSegmented)
			user.GET("/assets/:id/mesh", assetHandler.ServeMesh)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(cfg))
		admin.Use(middleware.AdminOnly())
		{
			admin.GET("/assets", adminHandler.ListAssets)
			admin.GET("/pipeline/events", adminHandler.ListPipelineEvents)
			admin.GET("/pipeline/stats", adminHandler.PipelineStats)
		}
	}

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
