// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BETLINE_API_BASE_URL.
const EnvPrefix = "BETLINE"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig describes the upstream endpoint and how calls to it are protected.
type APIConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	Ctag           string               `mapstructure:"ctag"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	Retry          RetryConfig          `mapstructure:"retry"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RetryConfig controls exponential backoff. MaxAttempts counts the first try.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HTTPConfig holds fixed request headers and response limits.
type HTTPConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	MaxBodyMB int    `mapstructure:"max_body_mb"`
}

// CircuitBreakerConfig tunes the count-based breaker.
type CircuitBreakerConfig struct {
	Enabled                       bool          `mapstructure:"enabled"`
	FailureRateThreshold          float64       `mapstructure:"failure_rate_threshold"`
	SlidingWindowSize             int           `mapstructure:"sliding_window_size"`
	WaitDurationInOpenState       time.Duration `mapstructure:"wait_duration_in_open_state"`
	PermittedCallsInHalfOpenState int           `mapstructure:"permitted_calls_in_half_open_state"`
}

// ParserConfig governs crawl selection and concurrency.
type ParserConfig struct {
	MaxParallelRequests int           `mapstructure:"max_parallel_requests"`
	MatchesPerLeague    int           `mapstructure:"matches_per_league"`
	PacingDelay         time.Duration `mapstructure:"pacing_delay"`
	TargetSports        []string      `mapstructure:"target_sports"`
}

// OutputConfig controls where rendered events go. An empty Path means stdout.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Banner bool   `mapstructure:"banner"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://leon.bet")
	v.SetDefault("api.ctag", "en-US")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry.max_attempts", 3)
	v.SetDefault("api.retry.delay", time.Second)
	v.SetDefault("api.retry.max_delay", 10*time.Second)
	v.SetDefault("api.http.user_agent", "Mozilla/5.0 (compatible; betline-crawler/1.0)")
	v.SetDefault("api.http.max_body_mb", 16)
	v.SetDefault("api.circuit_breaker.enabled", true)
	v.SetDefault("api.circuit_breaker.failure_rate_threshold", 50)
	v.SetDefault("api.circuit_breaker.sliding_window_size", 10)
	v.SetDefault("api.circuit_breaker.wait_duration_in_open_state", 30*time.Second)
	v.SetDefault("api.circuit_breaker.permitted_calls_in_half_open_state", 3)
	v.SetDefault("parser.max_parallel_requests", 5)
	v.SetDefault("parser.matches_per_league", 2)
	v.SetDefault("parser.pacing_delay", 100*time.Millisecond)
	v.SetDefault("parser.target_sports", []string{"Soccer", "Tennis", "IceHockey", "Basketball"})
	v.SetDefault("output.path", "")
	v.SetDefault("output.banner", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits. All violations are
// reported together.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		add("api.base_url must be set")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		add("api.timeout must be > 0")
	}
	if c.API.Retry.MaxAttempts < 1 {
		add("api.retry.max_attempts must be >= 1")
	}
	if c.API.Retry.Delay < 0 || c.API.Retry.MaxDelay < 0 {
		add("api.retry delays must not be negative")
	}
	if strings.TrimSpace(c.API.HTTP.UserAgent) == "" {
		add("api.http.user_agent must be set")
	}
	if c.API.HTTP.MaxBodyMB < 1 {
		add("api.http.max_body_mb must be >= 1")
	}
	if cb := c.API.CircuitBreaker; cb.Enabled {
		if cb.FailureRateThreshold <= 0 || cb.FailureRateThreshold > 100 {
			add("api.circuit_breaker.failure_rate_threshold must be in (0, 100]")
		}
		if cb.SlidingWindowSize < 1 {
			add("api.circuit_breaker.sliding_window_size must be >= 1")
		}
		if cb.WaitDurationInOpenState <= 0 {
			add("api.circuit_breaker.wait_duration_in_open_state must be > 0")
		}
		if cb.PermittedCallsInHalfOpenState < 1 {
			add("api.circuit_breaker.permitted_calls_in_half_open_state must be >= 1")
		}
	}
	if c.Parser.MaxParallelRequests < 1 {
		add("parser.max_parallel_requests must be >= 1")
	}
	if c.Parser.MatchesPerLeague < 1 {
		add("parser.matches_per_league must be >= 1")
	}
	if c.Parser.PacingDelay < 0 {
		add("parser.pacing_delay must not be negative")
	}
	if len(c.Parser.TargetSports) == 0 {
		add("parser.target_sports must list at least one sport")
	}
	for _, family := range c.Parser.TargetSports {
		if strings.TrimSpace(family) == "" {
			add("parser.target_sports must not contain blank entries")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// MaxBodyBytes converts the configured body cap into bytes.
func (c Config) MaxBodyBytes() int {
	return c.API.HTTP.MaxBodyMB << 20
}
