package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/stepflow/pkg/util"
)

type (
	// Config holds configuration settings for the runtime
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Steps & Runners
		StepsManifest string
		RunnersDir    string

		// State
		State StateConfig

		// Runtime
		ShutdownTimeout time.Duration
	}

	// StateConfig selects and configures the StateStore backend
	StateConfig struct {
		Adapter       string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		BucketURL     string
		SQLitePath    string
	}
)

const (
	StateAdapterMemory = "memory"
	StateAdapterRedis  = "redis"
	StateAdapterBlob   = "blob"
	StateAdapterSQLite = "sqlite"
)

const (
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 3111
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultStepsManifest = "steps.yaml"
	DefaultRunnersDir    = "runners"

	DefaultStateAdapter  = StateAdapterMemory
	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "stepflow"
	DefaultRedisDB       = 0
	MaxRedisDB           = 15
	DefaultBucketURL     = "file:///tmp/stepflow-state"
	DefaultSQLitePath    = "stepflow-state.db"

	MaxShutdownTimeout = 10 * time.Minute
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidShutdownTimeout = errors.New(
		"shutdown timeout must be positive",
	)
	ErrInvalidStateAdapter = errors.New("invalid state adapter")
	ErrRedisAddrEmpty      = errors.New("redis address empty")
	ErrBucketURLEmpty      = errors.New("bucket URL empty")
	ErrSQLitePathEmpty     = errors.New("sqlite path empty")
	ErrStepsManifestEmpty  = errors.New("steps manifest empty")
)

var stateAdapters = util.SetOf(
	StateAdapterMemory,
	StateAdapterRedis,
	StateAdapterBlob,
	StateAdapterSQLite,
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// server, runner discovery, and state storage
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:       DefaultAPIPort,
		APIHost:       DefaultAPIHost,
		LogLevel:      "info",
		StepsManifest: DefaultStepsManifest,
		RunnersDir:    DefaultRunnersDir,
		State: StateConfig{
			Adapter:     DefaultStateAdapter,
			RedisAddr:   DefaultRedisEndpoint,
			RedisDB:     DefaultRedisDB,
			RedisPrefix: DefaultRedisPrefix,
			BucketURL:   DefaultBucketURL,
			SQLitePath:  DefaultSQLitePath,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStateConfigFromEnv(&c.State, "STATE")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if manifest := os.Getenv("STEPS_MANIFEST"); manifest != "" {
		c.StepsManifest = manifest
	}
	if runners := os.Getenv("RUNNERS_DIR"); runners != "" {
		c.RunnersDir = runners
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"STATE_REDIS_DB", &c.State.RedisDB, -1, MaxRedisDB,
	); err != nil {
		return err
	}

	var timeout int64
	if err := loadEnvInt(
		"SHUTDOWN_TIMEOUT_MS", &timeout, 0, MaxShutdownTimeout.Milliseconds(),
	); err != nil {
		return err
	}
	if timeout > 0 {
		c.ShutdownTimeout = time.Duration(timeout) * time.Millisecond
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.StepsManifest == "" {
		return ErrStepsManifestEmpty
	}

	return c.State.Validate()
}

// Validate checks that the selected adapter has what it needs
func (s *StateConfig) Validate() error {
	if !stateAdapters.Contains(s.Adapter) {
		return fmt.Errorf("%w: %s", ErrInvalidStateAdapter, s.Adapter)
	}

	switch s.Adapter {
	case StateAdapterRedis:
		if s.RedisAddr == "" {
			return ErrRedisAddrEmpty
		}
	case StateAdapterBlob:
		if s.BucketURL == "" {
			return ErrBucketURLEmpty
		}
	case StateAdapterSQLite:
		if s.SQLitePath == "" {
			return ErrSQLitePathEmpty
		}
	}
	return nil
}

// LoadStateConfigFromEnv loads state store configuration from environment
// variables with the given prefix (e.g., "STATE")
func LoadStateConfigFromEnv(s *StateConfig, prefix string) {
	if adapter := os.Getenv(prefix + "_ADAPTER"); adapter != "" {
		s.Adapter = adapter
	}
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.RedisAddr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.RedisPassword = password
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.RedisPrefix = envPrefix
	}
	if bucket := os.Getenv(prefix + "_BUCKET_URL"); bucket != "" {
		s.BucketURL = bucket
	}
	if path := os.Getenv(prefix + "_SQLITE_PATH"); path != "" {
		s.SQLitePath = path
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
