package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf-knowledge-pipeline/internal/ai"
	"pdf-knowledge-pipeline/internal/config"
	"pdf-knowledge-pipeline/internal/logger"
	"pdf-knowledge-pipeline/internal/vector"
	"pdf-knowledge-pipeline/middleware"
	"pdf-knowledge-pipeline/routes"
	"pdf-knowledge-pipeline/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// AI client (embeddings + completions)
	ctx := context.Background()
	aiClient, err := ai.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create AI client:", err)
	}
	defer aiClient.Close()

	// Vector store
	store := vector.NewClient(cfg)

	// Conversion pipeline
	parserClient := services.NewParserClient(cfg)
	extractor := services.NewExtractor(parserClient)
	tracker := services.NewJobTracker(extractor, 64)
	tracker.Start(cfg.WorkerCount)
	defer tracker.Stop()

	chunker, err := services.NewChunker()
	if err != nil {
		log.Fatal("Failed to initialize chunker:", err)
	}
	injector := services.NewInjector(aiClient, store, cfg.VectorDim)
	generator := services.NewGenerator(aiClient, store, aiClient)
	obsidianConverter := services.NewObsidianConverter()

	// Hourly eviction of finished jobs past the retention window
	scheduler := gocron.NewScheduler(time.UTC)
	retention := time.Duration(cfg.JobRetentionHours) * time.Hour
	_, err = scheduler.Every(1).Hour().Tag("job-eviction").Do(func() {
		if n := tracker.EvictTerminal(retention); n > 0 {
			logger.Info("Evicted finished jobs", "count", n)
		}
	})
	if err != nil {
		log.Fatal("Failed to schedule job eviction:", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Optional Redis-backed rate limiting
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL:", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
		logger.Info("Rate limiting enabled", "requests", cfg.RateLimitReqs, "window_seconds", cfg.RateLimitWindow)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	// Conversion
	router.POST("/upload", routes.HandleUpload(cfg, tracker))
	router.GET("/status/:job_id", routes.CheckJobStatus(tracker))
	router.GET("/download/:job_id", routes.DownloadMarkdown(tracker))

	// Obsidian vault export
	router.POST("/obsidian-convert", routes.HandleObsidianConvert(cfg, obsidianConverter))
	router.GET("/obsidian-download/:job_id", routes.HandleObsidianDownload(obsidianConverter))

	// Chunking and injection
	router.POST("/chunk/:job_id", routes.HandleChunk(cfg, tracker, chunker))
	router.POST("/inject/:job_id", routes.HandleInject(cfg, tracker, chunker, injector))
	router.POST("/auto-pipeline/:job_id", routes.HandleAutoPipeline(cfg, tracker, chunker, injector))

	// Generation
	router.POST("/generate-draft", routes.HandleGenerateDraft(cfg, generator))
	router.POST("/generate-content", routes.HandleGenerateContent(cfg, generator))
	router.POST("/extract-quotes", routes.HandleExtractQuotes(cfg, generator))

	// Vector database
	router.GET("/qdrant/collections", routes.HandleListCollections(store))
	router.POST("/qdrant/search", routes.HandleSearch(cfg, aiClient, store))
	router.GET("/api/database/documents", routes.HandleListDocuments(cfg, store))
	router.GET("/api/database/documents/list", routes.HandleListChunks(cfg, store))
	router.GET("/api/database/stats", routes.HandleDatabaseStats(cfg, store))

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
