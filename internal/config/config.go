// Package config loads process-wide configuration with viper, the way
// ipiton-alert-history-service/go-app/internal/config does: a typed struct
// with mapstructure tags, defaults set before Unmarshal, environment
// variables as an override layer.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration for any of the cmd/ entrypoints.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
	Params ParamsConfig `mapstructure:"params"`
}

// StoreConfig selects and configures the Counter Store backend.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LogConfig mirrors logging.Config's shape for viper unmarshaling.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ParamsConfig configures the Parameter Provider cache.
type ParamsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from (in increasing priority) defaults, an
// optional config file, and ADMITCORE_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ADMITCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewParamsViper builds a *viper.Viper scoped to the runtime-tunable
// parameters the Parameter Provider reads (max_in_flight, max_rpm, batch
// sizes, and so on), separate from the static process Config above so that
// operators can override individual tunables via ADMITCORE_PARAM_* env vars
// without touching the process config file, matching how the original
// separated static Lambda env vars from SSM Parameter Store reads.
func NewParamsViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ADMITCORE_PARAM")
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
		_ = v.ReadInConfig()
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.key_prefix", "admitcore")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("params.cache_ttl", 60*time.Second)
}
