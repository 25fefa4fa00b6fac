package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level settings resolved from the environment.
// Bridge-facing state (session ids, operating modes, API key) lives in the
// JSONC settings file and the model map files, which can change at runtime;
// everything here is fixed for the lifetime of the process.
type Config struct {
	Port    string
	GinMode string

	// State files
	SettingsPath        string // config.jsonc
	ModelsPath          string // models.json
	EndpointMapPath     string // model_endpoint_map.json
	WarmupPlanPath      string // models_config.json
	AvailableModelsPath string // available_models.json
	MonitoringPath      string // monitoring.yaml

	// Request handling
	RequestTimeout        time.Duration // watchdog for a request in flight
	MaxConcurrentRequests int           // registry capacity, 503 above this
	ResponseQueueSize     int           // per-request response channel depth
	SessionWaitTimeout    time.Duration // max wait for a pooled session

	// Peer link
	HeartbeatInterval  time.Duration
	HeartbeatMaxMissed int

	// Housekeeping
	CleanupInterval      time.Duration // stale request sweep
	HotReloadEnabled     bool
	RequestDetailsLimit  int // capped in-memory store for /api/request/:id
	StatsWindowRequests  int // rolling latency window size
	StatsWindowQPSEvents int // rolling QPS timestamp window size

	// Request/error logs
	LogDir           string
	ReqLogMaxSizeMB  int
	ReqLogMaxBackups int
	ReqLogBufferSize int

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load resolves the process configuration from the environment.
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "5102"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// State files
		SettingsPath:        getEnvOrDefault("SETTINGS_PATH", "config.jsonc"),
		ModelsPath:          getEnvOrDefault("MODELS_PATH", "models.json"),
		EndpointMapPath:     getEnvOrDefault("ENDPOINT_MAP_PATH", "model_endpoint_map.json"),
		WarmupPlanPath:      getEnvOrDefault("WARMUP_PLAN_PATH", "models_config.json"),
		AvailableModelsPath: getEnvOrDefault("AVAILABLE_MODELS_PATH", "available_models.json"),
		MonitoringPath:      getEnvOrDefault("MONITORING_PATH", "monitoring.yaml"),

		// Request handling
		RequestTimeout:        getEnvAsDuration("REQUEST_TIMEOUT", 180*time.Second),
		MaxConcurrentRequests: getEnvAsInt("MAX_CONCURRENT_REQUESTS", 20),
		ResponseQueueSize:     getEnvAsInt("RESPONSE_QUEUE_SIZE", 5),
		SessionWaitTimeout:    getEnvAsDuration("SESSION_WAIT_TIMEOUT", 60*time.Second),

		// Peer link
		HeartbeatInterval:  getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatMaxMissed: getEnvAsInt("HEARTBEAT_MAX_MISSED", 3),

		// Housekeeping
		CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
		HotReloadEnabled:     getEnvOrDefault("HOT_RELOAD_ENABLED", "true") == "true",
		RequestDetailsLimit:  getEnvAsInt("REQUEST_DETAILS_LIMIT", 500),
		StatsWindowRequests:  getEnvAsInt("STATS_WINDOW_REQUESTS", 1000),
		StatsWindowQPSEvents: getEnvAsInt("STATS_WINDOW_QPS_EVENTS", 100),

		// Request/error logs
		LogDir:           getEnvOrDefault("LOG_DIR", "logs"),
		ReqLogMaxSizeMB:  getEnvAsInt("REQLOG_MAX_SIZE_MB", 50),
		ReqLogMaxBackups: getEnvAsInt("REQLOG_MAX_BACKUPS", 50),
		ReqLogBufferSize: getEnvAsInt("REQLOG_BUFFER_SIZE", 1000),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if cfg.ResponseQueueSize < 1 {
		log.Printf("Warning: RESPONSE_QUEUE_SIZE=%d is invalid, using 1", cfg.ResponseQueueSize)
		cfg.ResponseQueueSize = 1
	}

	if cfg.MaxConcurrentRequests < 1 {
		log.Printf("Warning: MAX_CONCURRENT_REQUESTS=%d is invalid, using 1", cfg.MaxConcurrentRequests)
		cfg.MaxConcurrentRequests = 1
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
