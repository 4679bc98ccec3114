package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	LogFormat   string

	AuthMode    string
	AdminAPIKey string

	BatchSize           int
	BatchMaxWaitMS      int
	AssemblyIntervalMS  int
	PoolCapacity        int
	AssemblyMaxAttempts int
	AuditThreshold      float64
	AuditPolicyPath     string
	// OPAPolicyPath is empty to disable, "builtin" for the embedded policy,
	// or a .rego file or directory.
	OPAPolicyPath       string

	BlobDir string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NotifyChannel string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		LogFormat:              envDefault("LOG_FORMAT", "json"),
		AuthMode:               envDefault("AUTH_MODE", "header"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		BatchSize:              envIntDefault("BATCH_SIZE", 50),
		BatchMaxWaitMS:         envIntDefault("BATCH_MAX_WAIT_MS", 2000),
		AssemblyIntervalMS:     envIntDefault("ASSEMBLY_INTERVAL_MS", 500),
		PoolCapacity:           envIntDefault("POOL_CAPACITY", 10000),
		AssemblyMaxAttempts:    envNonNegativeIntDefault("ASSEMBLY_MAX_ATTEMPTS", 5),
		AuditThreshold:         envFloatDefault("AUDIT_THRESHOLD", 0),
		AuditPolicyPath:        os.Getenv("AUDIT_POLICY_PATH"),
		OPAPolicyPath:          os.Getenv("OPA_POLICY_PATH"),
		BlobDir:                os.Getenv("BLOB_DIR"),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
		NotifyChannel:          envDefault("NOTIFY_CHANNEL", "custodia:events"),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// envNonNegativeIntDefault accepts 0 as a meaningful value.
func envNonNegativeIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 || parsed > 100 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) BatchMaxWait() time.Duration {
	return time.Duration(c.BatchMaxWaitMS) * time.Millisecond
}

func (c Config) AssemblyInterval() time.Duration {
	return time.Duration(c.AssemblyIntervalMS) * time.Millisecond
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
