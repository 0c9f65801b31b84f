package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-dashboard/internal/auth"
)

// Config holds dashboard configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerHost string
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	IconHost          string

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts          int
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	CircuitBreakerEnabled  bool
	CircuitBreakerFailures int
	CircuitBreakerTimeout  time.Duration
	RateLimitRPS           int
	RateLimitBurst         int
	CoalesceEnabled        bool

	ForecastLocation *time.Location

	DataDir string

	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	WarmOnStartup   bool

	ShutdownTimeout      time.Duration
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedRetryInitial time.Duration
	DegradedRetryMax     time.Duration

	Auth auth.Config
}

type fileConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		IconHost string `yaml:"icon_host"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"coalesce"`

	Forecast struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"forecast"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Refresh struct {
		Interval      string `yaml:"interval"`
		Timeout       string `yaml:"timeout"`
		WarmOnStartup *bool  `yaml:"warm_on_startup"`
	} `yaml:"refresh"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		OverloadWindow   string `yaml:"overload_window"`
		OverloadPct      int    `yaml:"overload_threshold_pct"`
		RetryInitial     string `yaml:"degraded_retry_initial"`
		RetryMax         string `yaml:"degraded_retry_max"`
	} `yaml:"health"`

	Auth struct {
		Enabled     bool   `yaml:"enabled"`
		IssuerURL   string `yaml:"issuer_url"`
		ClientID    string `yaml:"client_id"`
		RedirectURL string `yaml:"redirect_url"`
		Connection  string `yaml:"connection"`
		ReturnTo    string `yaml:"return_to"`
	} `yaml:"auth"`
}

type secretsFile struct {
	WeatherAPIKey    string `yaml:"weather_api_key"`
	AuthClientSecret string `yaml:"auth_client_secret"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev),
// config/secrets.yaml and a .env file in the working directory. Environment
// variables win over .env, which wins over secrets.yaml. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir instead of the working directory.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerHost = strings.TrimSpace(fc.Server.Host)
	if cfg.ServerHost == "" {
		cfg.ServerHost = "127.0.0.1"
	}
	cfg.ServerPort = os.Getenv("PORT")
	if cfg.ServerPort == "" {
		cfg.ServerPort = fc.Server.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8787"
	}

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env, or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.IconHost = strings.TrimSpace(fc.WeatherAPI.IconHost)
	if cfg.IconHost == "" {
		cfg.IconHost = "openweathermap.org"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 60*time.Second)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailures = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailures <= 0 {
		cfg.CircuitBreakerFailures = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)
	cfg.CoalesceEnabled = fc.Coalesce.Enabled

	cfg.ForecastLocation = time.Local
	if tz := strings.TrimSpace(fc.Forecast.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("forecast.timezone %q: %w", tz, err)
		}
		cfg.ForecastLocation = loc
	}

	cfg.DataDir = firstNonEmpty(strings.TrimSpace(os.Getenv("DATA_DIR")), strings.TrimSpace(fc.Storage.DataDir), defaultDataDir())

	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 0)
	cfg.RefreshTimeout = parseDuration(fc.Refresh.Timeout, 30*time.Second)
	cfg.WarmOnStartup = true
	if fc.Refresh.WarmOnStartup != nil {
		cfg.WarmOnStartup = *fc.Refresh.WarmOnStartup
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedRetryInitial = parseDurationOrZero(fc.Health.RetryInitial, time.Minute)
	cfg.DegradedRetryMax = parseDurationOrZero(fc.Health.RetryMax, 13*time.Minute)
	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	cfg.Auth = auth.Config{
		Enabled:      fc.Auth.Enabled,
		IssuerURL:    strings.TrimSpace(fc.Auth.IssuerURL),
		ClientID:     strings.TrimSpace(fc.Auth.ClientID),
		ClientSecret: firstNonEmpty(os.Getenv("AUTH_CLIENT_SECRET"), sec.AuthClientSecret),
		RedirectURL:  strings.TrimSpace(fc.Auth.RedirectURL),
		Connection:   strings.TrimSpace(fc.Auth.Connection),
		ReturnTo:     strings.TrimSpace(fc.Auth.ReturnTo),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".weather-dashboard")
	}
	return "data"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above
// WeatherAPITimeout when needed so a handler never cancels a call the client
// would still wait for.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	if cfg.OverloadThresholdPct > 100 {
		return fmt.Errorf("health.overload_threshold_pct must be at most 100, got %d", cfg.OverloadThresholdPct)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURL == "" || cfg.Auth.ClientID == "" || cfg.Auth.RedirectURL == "" {
			return fmt.Errorf("auth.enabled requires issuer_url, client_id and redirect_url")
		}
		if cfg.Auth.ClientSecret == "" {
			return fmt.Errorf("AUTH_CLIENT_SECRET required when auth is enabled")
		}
	}
	return nil
}
