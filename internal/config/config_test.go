package config_test

import (
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/stepflow/internal/assert"
	"github.com/kode4food/stepflow/internal/assert/helpers"
	"github.com/kode4food/stepflow/internal/config"
)

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("valid_default_config", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		as.ConfigValid(cfg)
	})

	t.Run("valid_test_config", func(t *testing.T) {
		cfg := helpers.NewTestConfig()
		as.ConfigValid(cfg)
	})

	tests := []struct {
		name          string
		configMod     func(*config.Config)
		errorContains string
	}{
		{
			name: "invalid_api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			errorContains: "invalid API port",
		},
		{
			name: "invalid_api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			errorContains: "invalid API port",
		},
		{
			name: "zero_shutdown_timeout",
			configMod: func(c *config.Config) {
				c.ShutdownTimeout = 0
			},
			errorContains: "shutdown timeout must be positive",
		},
		{
			name: "empty_manifest",
			configMod: func(c *config.Config) {
				c.StepsManifest = ""
			},
			errorContains: "steps manifest empty",
		},
		{
			name: "unknown_state_adapter",
			configMod: func(c *config.Config) {
				c.State.Adapter = "etcd"
			},
			errorContains: "invalid state adapter: etcd",
		},
		{
			name: "redis_without_addr",
			configMod: func(c *config.Config) {
				c.State.Adapter = config.StateAdapterRedis
				c.State.RedisAddr = ""
			},
			errorContains: "redis address empty",
		},
		{
			name: "blob_without_url",
			configMod: func(c *config.Config) {
				c.State.Adapter = config.StateAdapterBlob
				c.State.BucketURL = ""
			},
			errorContains: "bucket URL empty",
		},
		{
			name: "sqlite_without_path",
			configMod: func(c *config.Config) {
				c.State.Adapter = config.StateAdapterSQLite
				c.State.SQLitePath = ""
			},
			errorContains: "sqlite path empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := helpers.NewTestConfig()
			tt.configMod(cfg)
			assert.New(t).ConfigInvalid(cfg, tt.errorContains)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()

	as.Equal(config.DefaultAPIPort, cfg.APIPort)
	as.Equal("0.0.0.0", cfg.APIHost)
	as.Equal(config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	as.Equal(config.StateAdapterMemory, cfg.State.Adapter)
	as.Equal(config.DefaultRedisPrefix, cfg.State.RedisPrefix)
	as.Equal("info", cfg.LogLevel)
}

func TestStateLoadFromEnv(t *testing.T) {
	t.Setenv("TEST_ADAPTER", "redis")
	t.Setenv("TEST_REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("TEST_REDIS_PASSWORD", "secret123")
	t.Setenv("TEST_REDIS_PREFIX", "custom-prefix")
	t.Setenv("TEST_BUCKET_URL", "mem://")
	t.Setenv("TEST_SQLITE_PATH", "/tmp/x.db")

	s := &config.StateConfig{}
	config.LoadStateConfigFromEnv(s, "TEST")

	as := assert.New(t)
	as.Equal("redis", s.Adapter)
	as.Equal("redis.example.com:6379", s.RedisAddr)
	as.Equal("secret123", s.RedisPassword)
	as.Equal("custom-prefix", s.RedisPrefix)
	as.Equal("mem://", s.BucketURL)
	as.Equal("/tmp/x.db", s.SQLitePath)
}

func TestConfigLoadFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(*testing.T, *config.Config)
		wantErr bool
	}{
		{
			name:    "load_api_port",
			envVars: map[string]string{"API_PORT": "9090"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, 9090, c.APIPort)
			},
		},
		{
			name:    "load_api_host",
			envVars: map[string]string{"API_HOST": "127.0.0.1"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, "127.0.0.1", c.APIHost)
			},
		},
		{
			name:    "load_log_level",
			envVars: map[string]string{"LOG_LEVEL": "debug"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, "debug", c.LogLevel)
			},
		},
		{
			name: "load_manifest_and_runners",
			envVars: map[string]string{
				"STEPS_MANIFEST": "/srv/steps.yaml",
				"RUNNERS_DIR":    "/srv/runners",
			},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, "/srv/steps.yaml", c.StepsManifest)
				testify.Equal(t, "/srv/runners", c.RunnersDir)
			},
		},
		{
			name:    "load_redis_db",
			envVars: map[string]string{"STATE_REDIS_DB": "3"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, 3, c.State.RedisDB)
			},
		},
		{
			name:    "load_shutdown_timeout",
			envVars: map[string]string{"SHUTDOWN_TIMEOUT_MS": "2500"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, 2500*time.Millisecond, c.ShutdownTimeout)
			},
		},
		{
			name:    "invalid_api_port",
			envVars: map[string]string{"API_PORT": "not_a_number"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, config.DefaultAPIPort, c.APIPort)
			},
			wantErr: true,
		},
		{
			name:    "api_port_out_of_range",
			envVars: map[string]string{"API_PORT": "70000"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, config.DefaultAPIPort, c.APIPort)
			},
			wantErr: true,
		},
		{
			name:    "redis_db_out_of_range",
			envVars: map[string]string{"STATE_REDIS_DB": "16"},
			check: func(t *testing.T, c *config.Config) {
				testify.Equal(t, config.DefaultRedisDB, c.State.RedisDB)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()
			if tt.wantErr {
				testify.Error(t, err)
			} else {
				testify.NoError(t, err)
			}
			tt.check(t, cfg)
		})
	}
}
