package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                string
	Port                  string
	DatabaseURL           string
	MigrationsPath        string
	RedisURL              string
	JWTSecret             string
	InternalServiceSecret string
	StoragePath           string
	GeoIPDBPath           string

	EnhancerProvider string
	EnhancerAPIKey   string
	EnhancerBaseURL  string
	EnhancerModel    string

	ProcessingBudget   time.Duration
	ExecutionCeiling   time.Duration
	StaleAfter         time.Duration
	ScanBatchSize      int
	ScanConcurrency    int
	ScanInterval       time.Duration
	CompletedLookback  time.Duration
	DispatchAttempts   int
	DispatchBackoff    time.Duration
	StatusCacheTTL     time.Duration
	PollInterval       time.Duration
	PollTimeout        time.Duration
	ExpectedProcessing time.Duration
	EmbeddedScanner    bool

	UploadMinBytes     int64
	UploadMaxBytes     int64
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	PurchaseURL        string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MigrationsPath:        getEnv("MIGRATIONS_PATH", "./migrations"),
		RedisURL:              os.Getenv("REDIS_URL"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		InternalServiceSecret: os.Getenv("INTERNAL_SERVICE_SECRET"),
		StoragePath:           getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:           os.Getenv("GEOIP_DB_PATH"),

		EnhancerProvider: strings.ToLower(getEnv("ENHANCER_PROVIDER", "gemini")),
		EnhancerAPIKey:   os.Getenv("ENHANCER_API_KEY"),
		EnhancerBaseURL:  getEnv("ENHANCER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		EnhancerModel:    getEnv("ENHANCER_MODEL", "gemini-2.5-flash-image"),

		ProcessingBudget:   seconds("PROCESSING_BUDGET_SECONDS", 50),
		ExecutionCeiling:   seconds("EXECUTION_CEILING_SECONDS", 60),
		StaleAfter:         seconds("STALE_AFTER_SECONDS", 300),
		ScanBatchSize:      getEnvInt("SCAN_BATCH_SIZE", 50),
		ScanConcurrency:    getEnvInt("SCAN_CONCURRENCY", 4),
		ScanInterval:       seconds("SCAN_INTERVAL_SECONDS", 60),
		CompletedLookback:  time.Hour * time.Duration(getEnvInt("COMPLETED_LOOKBACK_HOURS", 168)),
		DispatchAttempts:   getEnvInt("DISPATCH_ATTEMPTS", 3),
		DispatchBackoff:    time.Millisecond * time.Duration(getEnvInt("DISPATCH_BACKOFF_MS", 1000)),
		StatusCacheTTL:     time.Millisecond * time.Duration(getEnvInt("STATUS_CACHE_TTL_MS", 2000)),
		PollInterval:       seconds("POLL_INTERVAL_SECONDS", 3),
		PollTimeout:        seconds("POLL_TIMEOUT_SECONDS", 300),
		ExpectedProcessing: seconds("EXPECTED_PROCESSING_SECONDS", 20),

		UploadMinBytes:     int64(getEnvInt("UPLOAD_MIN_BYTES", 1<<10)),
		UploadMaxBytes:     int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		PurchaseURL:        getEnv("PURCHASE_URL", "/pricing"),

		HTTPReadTimeout:  seconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: seconds("HTTP_WRITE_TIMEOUT_SECONDS", 65),
		HTTPIdleTimeout:  seconds("HTTP_IDLE_TIMEOUT_SECONDS", 90),
	}
	cfg.EmbeddedScanner = getEnvBool("EMBEDDED_SCANNER", !strings.HasPrefix(cfg.DatabaseURL, "postgres"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DatabaseURL == "memory" && cfg.AppEnv == "production" {
		return nil, fmt.Errorf("DATABASE_URL=memory is not allowed in production")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.InternalServiceSecret == "" {
		return nil, fmt.Errorf("INTERNAL_SERVICE_SECRET is required")
	}
	if cfg.ProcessingBudget <= 0 || cfg.ProcessingBudget >= cfg.ExecutionCeiling {
		return nil, fmt.Errorf("PROCESSING_BUDGET_SECONDS (%s) must be positive and below EXECUTION_CEILING_SECONDS (%s)",
			cfg.ProcessingBudget, cfg.ExecutionCeiling)
	}
	if cfg.UploadMinBytes <= 0 || cfg.UploadMaxBytes < cfg.UploadMinBytes {
		return nil, fmt.Errorf("UPLOAD_MIN_BYTES/UPLOAD_MAX_BYTES out of range")
	}
	if cfg.DispatchAttempts < 1 {
		cfg.DispatchAttempts = 1
	}
	if cfg.ScanConcurrency < 1 {
		cfg.ScanConcurrency = 1
	}

	return cfg, nil
}

// StalledAfter is how long a PROCESSING record may go without an update
// before the scanner treats its owner as dead.
func (c *Config) StalledAfter() time.Duration {
	return c.ExecutionCeiling + c.ProcessingBudget/2
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func seconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
