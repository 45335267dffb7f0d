package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// External services
	GeminiAPIKey    string
	ParserAPIKey    string
	ParserBaseURL   string
	QdrantURL       string
	QdrantAPIKey    string
	QdrantTimeout   int // seconds
	EmbeddingsModel string
	GenerationModel string
	VectorDim       int

	// Server
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// Pipeline
	UploadDir         string
	OutputDir         string
	DefaultCollection string
	ChunkSize         int
	ChunkOverlap      int
	EmbedBatchSize    int
	WorkerCount       int
	JobRetentionHours int

	// Rate limiting (disabled when RedisURL is empty)
	RedisURL        string
	RateLimitReqs   int
	RateLimitWindow int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		ParserAPIKey:    getEnv("PARSER_API_KEY", ""),
		ParserBaseURL:   getEnv("PARSER_BASE_URL", "https://api.cloud.llamaindex.ai"),
		QdrantURL:       getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:    getEnv("QDRANT_API_KEY", ""),
		QdrantTimeout:   getEnvInt("QDRANT_TIMEOUT", 60),
		EmbeddingsModel: getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		VectorDim:       getEnvInt("VECTOR_DIM", 768),

		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB

		UploadDir:         getEnv("UPLOAD_DIR", "./uploads"),
		OutputDir:         getEnv("OUTPUT_DIR", "./outputs"),
		DefaultCollection: getEnv("DEFAULT_COLLECTION", "pdf_documents"),
		ChunkSize:         getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 200),
		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 100),
		WorkerCount:       getEnvInt("WORKER_COUNT", 2),
		JobRetentionHours: getEnvInt("JOB_RETENTION_HOURS", 24),

		RedisURL:        getEnv("REDIS_URL", ""),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.ParserAPIKey == "" {
		return nil, fmt.Errorf("PARSER_API_KEY is required - set it in .env file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
