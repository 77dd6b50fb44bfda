// Package config centralizes how VoteDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Dispatch modes for verify/apply jobs.
const (
	DispatchLocal = "local"
	DispatchAsynq = "asynq"
)

// Config represents runtime configuration for the service. Struct fields in Go
// begin with capital letters when they must be exported (visible to other
// packages), while lower-case fields remain private.
type Config struct {
	Address     string
	MaxFileSize int64

	Store       string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Dispatch       string
	ProcessingPool int
	VerifyDelay    time.Duration
	ApplyDelay     time.Duration

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Region        string
	S3UseSSL        bool
	RawBucket       string
	ProcessedBucket string

	AdminEmail    string
	AdminPassword string
	SigningSecret []byte
	SessionTTL    time.Duration

	LogLevel  string
	LogFormat string
}

const (
	// const declares compile-time constants; shifts work on integers so
	// 5 << 20 equals 5 * 2^20 bytes.
	defaultAddress         = ":8080"
	defaultMaxFileSize     = 5 << 20 // 5 MiB
	defaultWorkerCount     = 2
	defaultVerifyDelay     = 1500 * time.Millisecond
	defaultApplyDelay      = time.Second
	defaultSessionTTL      = 8 * time.Hour
	defaultRedisAddr       = "localhost:6379"
	defaultRawBucket       = "votedrop-uploads"
	defaultProcessedBucket = "votedrop-applied"
	defaultAdminEmail      = "admin@votaciones.com"
)

// Load reads configuration from environment variables falling back to
// defaults. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Address:         readEnv("VOTEDROP_ADDRESS", defaultAddress),
		MaxFileSize:     parseInt64("VOTEDROP_MAX_FILE_BYTES", defaultMaxFileSize),
		Store:           strings.ToLower(readEnv("VOTEDROP_STORE", StoreMemory)),
		DatabaseURL:     readEnv("VOTEDROP_DATABASE_URL", ""),
		RedisAddr:       readEnv("VOTEDROP_REDIS_ADDR", defaultRedisAddr),
		RedisPassword:   readEnv("VOTEDROP_REDIS_PASSWORD", ""),
		RedisDB:         parseInt("VOTEDROP_REDIS_DB", 0),
		RedisPrefix:     readEnv("VOTEDROP_REDIS_PREFIX", ""),
		Dispatch:        strings.ToLower(readEnv("VOTEDROP_DISPATCH", DispatchLocal)),
		ProcessingPool:  parseInt("VOTEDROP_WORKERS", defaultWorkerCount),
		VerifyDelay:     parseDuration("VOTEDROP_VERIFY_DELAY", defaultVerifyDelay),
		ApplyDelay:      parseDuration("VOTEDROP_APPLY_DELAY", defaultApplyDelay),
		S3Endpoint:      readEnv("VOTEDROP_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("VOTEDROP_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("VOTEDROP_S3_SECRET_KEY", ""),
		S3Region:        readEnv("VOTEDROP_S3_REGION", "us-east-1"),
		S3UseSSL:        parseBool("VOTEDROP_S3_USE_SSL", false),
		RawBucket:       readEnv("VOTEDROP_S3_RAW_BUCKET", defaultRawBucket),
		ProcessedBucket: readEnv("VOTEDROP_S3_PROCESSED_BUCKET", defaultProcessedBucket),
		AdminEmail:      readEnv("VOTEDROP_ADMIN_EMAIL", defaultAdminEmail),
		AdminPassword:   readEnv("VOTEDROP_ADMIN_PASSWORD", ""),
		SigningSecret:   parseSecret("VOTEDROP_SIGNING_SECRET"),
		SessionTTL:      parseDuration("VOTEDROP_SESSION_TTL", defaultSessionTTL),
		LogLevel:        readEnv("VOTEDROP_LOG_LEVEL", "info"),
		LogFormat:       readEnv("VOTEDROP_LOG_FORMAT", "text"),
	}
	if cfg.SigningSecret == nil {
		// If no secret was supplied we generate one using crypto/rand; tokens
		// then only survive until the process restarts.
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.VerifyDelay < 0 {
		cfg.VerifyDelay = 0
	}
	if cfg.ApplyDelay < 0 {
		cfg.ApplyDelay = 0
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: VOTEDROP_DATABASE_URL is required for the %s store", c.Store)
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.Dispatch {
	case DispatchLocal:
	case DispatchAsynq:
		// The worker runs in its own process and cannot see an in-memory store.
		if c.Store == StoreMemory {
			return fmt.Errorf("config: %s dispatch needs a shared store, not %s", c.Dispatch, c.Store)
		}
	default:
		return fmt.Errorf("config: unknown dispatch mode %q", c.Dispatch)
	}
	return nil
}

// ArchiveEnabled reports whether uploads should be copied to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Endpoint != ""
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present, mirroring
	// Go's pattern of providing extra information via multiple return values.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	// Invalid input is ignored and the default returned.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "1500ms" or "2s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
