package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port        string
	Env         string
	APIUrl      string
	FrontendURL string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis (asynq queue + rate limiting)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT (tokens are issued by the external auth service; we only validate)
	JWTSecret string

	// Generation service
	GenAPIBaseURL        string
	GenAPISegmentTimeout time.Duration
	GenAPISeedTimeout    time.Duration
	GenAPIMeshTimeout    time.Duration

	// Generation parameter defaults
	GenNumSteps       int
	GenCfgScale       float64
	GenGridRes        int
	GenTargetNumFaces int

	// Worker
	WorkerConcurrency int
	MeshJobMaxRetry   int

	// Media S3 mirror (optional; disabled when no endpoint is set)
	MediaS3Endpoint        string
	MediaS3Region          string
	MediaS3AccessKeyID     string
	MediaS3SecretAccessKey string
	MediaS3UsePathStyle    bool
	MediaImagesBucket      string
	MediaMeshesBucket      string

	// Local storage
	LocalAssetsPath string

	// Uploads
	UploadMaxImageSize int64
	UploadMaxPerDay    int

	// Status polling
	PollInterval          time.Duration
	SegmentedPollAttempts int
	MeshPollAttempts      int

	// Pipeline event log
	EventRetention time.Duration

	// Security
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
}

func New() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		APIUrl:      getEnv("API_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "meshlift"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "meshlift_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),

		// Generation service
		GenAPIBaseURL:        getEnv("GEN_API_BASE_URL", "http://localhost:7860"),
		GenAPISegmentTimeout: getEnvAsDuration("GEN_API_SEGMENT_TIMEOUT", "60s"),
		GenAPISeedTimeout:    getEnvAsDuration("GEN_API_SEED_TIMEOUT", "15s"),
		GenAPIMeshTimeout:    getEnvAsDuration("GEN_API_MESH_TIMEOUT", "10m"),

		// Generation parameter defaults
		GenNumSteps:       getEnvAsInt("GEN_NUM_STEPS", 50),
		GenCfgScale:       getEnvAsFloat("GEN_CFG_SCALE", 7),
		GenGridRes:        getEnvAsInt("GEN_GRID_RES", 384),
		GenTargetNumFaces: getEnvAsInt("GEN_TARGET_NUM_FACES", 100000),

		// Worker
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		MeshJobMaxRetry:   getEnvAsInt("MESH_JOB_MAX_RETRY", 3),

		// Media S3 mirror
		MediaS3Endpoint:        getEnv("MEDIA_S3_ENDPOINT", ""),
		MediaS3Region:          getEnv("MEDIA_S3_REGION", "us-east-1"),
		MediaS3AccessKeyID:     getEnv("MEDIA_S3_ACCESS_KEY_ID", ""),
		MediaS3SecretAccessKey: getEnv("MEDIA_S3_SECRET_ACCESS_KEY", ""),
		MediaS3UsePathStyle:    getEnv("MEDIA_S3_USE_PATH_STYLE", "true") == "true",
		MediaImagesBucket:      getEnv("MEDIA_IMAGES_BUCKET", "meshlift-images"),
		MediaMeshesBucket:      getEnv("MEDIA_MESHES_BUCKET", "meshlift-meshes"),

		// Local storage
		LocalAssetsPath: getEnv("LOCAL_ASSETS_PATH", "/data/assets"),

		// Uploads
		UploadMaxImageSize: int64(getEnvAsInt("UPLOAD_MAX_IMAGE_SIZE", 10*1024*1024)),
		UploadMaxPerDay:    getEnvAsInt("UPLOAD_MAX_PER_DAY", 50),

		// Status polling
		PollInterval:          getEnvAsDuration("POLL_INTERVAL", "2s"),
		SegmentedPollAttempts: getEnvAsInt("SEGMENTED_POLL_ATTEMPTS", 15),
		MeshPollAttempts:      getEnvAsInt("MESH_POLL_ATTEMPTS", 180),

		// Pipeline event log
		EventRetention: getEnvAsDuration("EVENT_RETENTION", "720h"),

		// Security
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
