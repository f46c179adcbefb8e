package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads settings from file and environment and validates them.
// Priority (highest to lowest): env vars > config file > defaults.
// A .env file in the working directory is loaded into the environment
// first, so containerized and local runs behave the same.
func Load(configPath string) (*Settings, error) {
	// Missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	s := DefaultSettings()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, s)

	v.SetEnvPrefix("SERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("serpkit")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".serpkit"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// setDefaults registers default values in viper so AutomaticEnv
// resolves every key.
func setDefaults(v *viper.Viper, s *Settings) {
	v.SetDefault("api_key", s.APIKey)
	v.SetDefault("zone", s.Zone)
	v.SetDefault("api_base_url", s.APIBaseURL)

	v.SetDefault("default_country", s.DefaultCountry)
	v.SetDefault("default_language", s.DefaultLanguage)
	v.SetDefault("default_max_pages", s.DefaultMaxPages)
	v.SetDefault("default_concurrency", s.DefaultConcurrency)

	v.SetDefault("poll_interval", s.PollIntervalSeconds)
	v.SetDefault("max_polls", s.MaxPolls)
	v.SetDefault("request_timeout", s.RequestTimeoutSeconds)

	v.SetDefault("max_retries", s.MaxRetries)
	v.SetDefault("retry_backoff", s.RetryBackoff)

	v.SetDefault("rate_limit_enabled", s.RateLimitEnabled)
	v.SetDefault("rate_limit_rps", s.RateLimitRPS)
	v.SetDefault("rate_limit_burst", s.RateLimitBurst)

	v.SetDefault("cache_enabled", s.CacheEnabled)
	v.SetDefault("cache_ttl", s.CacheTTLSeconds)
	v.SetDefault("cache_backend", s.CacheBackend)
	v.SetDefault("redis_url", s.RedisURL)

	v.SetDefault("consecutive_empty_limit", s.ConsecutiveEmptyLimit)

	v.SetDefault("log_level", s.LogLevel)
	v.SetDefault("log_format", s.LogFormat)
}
