package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port                   string
	Env                    string
	CORSAllowOrigin        []string
	DatabaseURL            string
	RedisURL               string
	QuotaStoreType         string
	ObjectStoreType        string
	LocalStoreDir          string
	AWSRegion              string
	S3Bucket               string
	S3Prefix               string
	SSEKMSKeyID            string
	JWTSecret              string
	WorkerMode             string
	WorkerToken            string
	SQSQueueURL            string
	OrchestratorBaseURL    string
	HeartbeatTimeout       time.Duration
	HeartbeatSweepInterval time.Duration
	RestartSweepInterval   time.Duration
	ActivityRetention      int
	QuotaResetTimezone     string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    env,
		CORSAllowOrigin:        splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:            dbURL,
		RedisURL:               getEnv("REDIS_URL", ""),
		QuotaStoreType:         normalizeQuotaStoreType(getEnv("QUOTA_STORE", "")),
		ObjectStoreType:        normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:          getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:              getEnv("AWS_REGION", ""),
		S3Bucket:               getEnv("S3_BUCKET", ""),
		S3Prefix:               getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:            getEnv("SSE_KMS_KEY_ID", ""),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		WorkerMode:             normalizeWorkerMode(getEnv("WORKER_MODE", "inprocess")),
		WorkerToken:            getEnv("WORKER_TOKEN", ""),
		SQSQueueURL:            getEnv("AP_SQS_QUEUE_URL", ""),
		OrchestratorBaseURL:    getEnv("ORCHESTRATOR_BASE_URL", "http://localhost:8080"),
		HeartbeatTimeout:       getDuration("HEARTBEAT_TIMEOUT", 90*time.Second),
		HeartbeatSweepInterval: getDuration("HEARTBEAT_SWEEP_INTERVAL", 15*time.Second),
		RestartSweepInterval:   getDuration("RESTART_SWEEP_INTERVAL", time.Minute),
		ActivityRetention:      getInt("ACTIVITY_RETENTION", 500),
		QuotaResetTimezone:     getEnv("QUOTA_RESET_TIMEZONE", "UTC"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid duration for %s: %q, using default %s", key, raw, def)
		return def
	}
	return d
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("invalid integer for %s: %q, using default %d", key, raw, def)
		return def
	}
	return n
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

// normalizeQuotaStoreType resolves the quota store backend. An empty value
// defers the choice to bootstrap, which picks postgres when DATABASE_URL is
// set and memory otherwise.
func normalizeQuotaStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	case "memory":
		return "memory"
	default:
		return ""
	}
}

func normalizeWorkerMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	default:
		return "inprocess"
	}
}
