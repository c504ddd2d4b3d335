package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Job       JobConfig       `yaml:"job"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	APILimit  APILimitConfig  `yaml:"api_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the browser process pool.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// MaxBrowsers caps the number of live browser processes.
	MaxBrowsers int `yaml:"max_browsers"` // default: 3

	// MaxPagesPerBrowser caps concurrently open tabs per process.
	MaxPagesPerBrowser int `yaml:"max_pages_per_browser"` // default: 5

	// PoolAcquireTimeout bounds how long a job waits for a free tab.
	PoolAcquireTimeout time.Duration `yaml:"pool_acquire_timeout"` // default: 30s

	// MemThreshold is the system memory fraction (0.0-1.0) above which the
	// pool stops launching new browsers. 0 disables the guard.
	MemThreshold float64 `yaml:"mem_threshold"` // default: 0.9

	// Stealth enables fingerprint randomization by default.
	Stealth bool `yaml:"stealth"` // default: true

	// Proxy is the proxy URL for all browsers; credentials in the URL are
	// answered through the auth challenge.
	Proxy string `yaml:"proxy"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// UserAgent is the default user agent when stealth is off.
	UserAgent string `yaml:"user_agent"`

	// ViewportWidth and ViewportHeight are the default window size.
	ViewportWidth  int `yaml:"viewport_width"`  // default: 1920
	ViewportHeight int `yaml:"viewport_height"` // default: 1080
}

// JobConfig controls job execution.
type JobConfig struct {
	// Timeout is the default per-attempt timeout.
	Timeout time.Duration `yaml:"timeout"` // default: 30s

	// MaxTimeout caps the per-attempt timeout a client may ask for.
	MaxTimeout time.Duration `yaml:"max_timeout"` // default: 120s

	// RetryAttempts is the default number of retries after the first attempt.
	RetryAttempts int `yaml:"retry_attempts"` // default: 3

	// RetryBaseDelay is the backoff base; attempt n waits base*2^n.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"` // default: 1s

	// BlockAds enables the built-in ad and tracker list by default.
	BlockAds bool `yaml:"block_ads"` // default: true

	// BlockedResourceTypes lists resource types blocked on every page.
	BlockedResourceTypes []string `yaml:"blocked_resource_types"` // default: ["Image", "Media", "Font"]
}

// RateLimitConfig controls the per-host token bucket.
type RateLimitConfig struct {
	// Capacity is the bucket size.
	Capacity int `yaml:"capacity"` // default: 10

	// Refill is the number of tokens added per Interval.
	Refill float64 `yaml:"refill"` // default: 1

	// Interval is the refill period and the sleep between acquire retries.
	Interval time.Duration `yaml:"interval"` // default: 1s
}

// CacheConfig controls the scrape response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"` // default: true

	// TTL is the default entry lifetime.
	TTL time.Duration `yaml:"ttl"` // default: 1h

	// MaxEntries is the maximum number of cached responses.
	MaxEntries int `yaml:"max_entries"` // default: 1000

	// ReapInterval is the period of the expired-entry sweep.
	ReapInterval time.Duration `yaml:"reap_interval"` // default: 5m
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	// Backend is "file", "sqlite" or "redis".
	Backend string `yaml:"backend"` // default: "file"

	// Dir is the directory of the file backend.
	Dir string `yaml:"dir"` // default: $XDG_DATA_HOME/harvest/sessions

	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"` // default: $XDG_DATA_HOME/harvest/sessions.db

	// RedisAddr is the address of the redis backend.
	RedisAddr     string `yaml:"redis_addr"` // default: "localhost:6379"
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys"`
}

// APILimitConfig controls per-key API rate limiting.
type APILimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"

	// File, when set, receives logs instead of stderr and is rotated.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`  // default: 100
	MaxBackups int    `yaml:"max_backups"`  // default: 5
	MaxAgeDays int    `yaml:"max_age_days"` // default: 30
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := filepath.Join(xdg.DataHome, "harvest")
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "release"},
		Browser: BrowserConfig{
			Headless:           true,
			MaxBrowsers:        3,
			MaxPagesPerBrowser: 5,
			PoolAcquireTimeout: 30 * time.Second,
			MemThreshold:       0.9,
			Stealth:            true,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:      1920,
			ViewportHeight:     1080,
		},
		Job: JobConfig{
			Timeout:              30 * time.Second,
			MaxTimeout:           120 * time.Second,
			RetryAttempts:        3,
			RetryBaseDelay:       time.Second,
			BlockAds:             true,
			BlockedResourceTypes: []string{"Image", "Media", "Font"},
		},
		RateLimit: RateLimitConfig{Capacity: 10, Refill: 1, Interval: time.Second},
		Cache: CacheConfig{
			Enabled:      true,
			TTL:          time.Hour,
			MaxEntries:   1000,
			ReapInterval: 5 * time.Minute,
		},
		Session: SessionConfig{
			Backend:    "file",
			Dir:        filepath.Join(dataDir, "sessions"),
			SQLitePath: filepath.Join(dataDir, "sessions.db"),
			RedisAddr:  "localhost:6379",
		},
		Auth:     AuthConfig{Enabled: true},
		APILimit: APILimitConfig{RequestsPerSecond: 5, Burst: 10},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// at path, then HARVEST_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Host = envOr("HARVEST_HOST", c.Server.Host)
	c.Server.Port = envIntOr("HARVEST_PORT", c.Server.Port)
	c.Server.Mode = envOr("HARVEST_MODE", c.Server.Mode)

	c.Browser.Headless = envBoolOr("HARVEST_HEADLESS", c.Browser.Headless)
	c.Browser.MaxBrowsers = envIntOr("HARVEST_MAX_BROWSERS", c.Browser.MaxBrowsers)
	c.Browser.MaxPagesPerBrowser = envIntOr("HARVEST_MAX_PAGES_PER_BROWSER", c.Browser.MaxPagesPerBrowser)
	c.Browser.PoolAcquireTimeout = envDurationOr("HARVEST_POOL_ACQUIRE_TIMEOUT", c.Browser.PoolAcquireTimeout)
	c.Browser.MemThreshold = envFloatOr("HARVEST_MEM_THRESHOLD", c.Browser.MemThreshold)
	c.Browser.Stealth = envBoolOr("HARVEST_STEALTH", c.Browser.Stealth)
	c.Browser.Proxy = envOr("HARVEST_PROXY", c.Browser.Proxy)
	c.Browser.NoSandbox = envBoolOr("HARVEST_NO_SANDBOX", c.Browser.NoSandbox)
	c.Browser.BrowserBin = envOr("HARVEST_BROWSER_BIN", c.Browser.BrowserBin)
	c.Browser.UserAgent = envOr("HARVEST_USER_AGENT", c.Browser.UserAgent)

	c.Job.Timeout = envDurationOr("HARVEST_JOB_TIMEOUT", c.Job.Timeout)
	c.Job.MaxTimeout = envDurationOr("HARVEST_MAX_TIMEOUT", c.Job.MaxTimeout)
	c.Job.RetryAttempts = envIntOr("HARVEST_RETRY_ATTEMPTS", c.Job.RetryAttempts)
	c.Job.RetryBaseDelay = envDurationOr("HARVEST_RETRY_BASE_DELAY", c.Job.RetryBaseDelay)
	c.Job.BlockAds = envBoolOr("HARVEST_BLOCK_ADS", c.Job.BlockAds)
	c.Job.BlockedResourceTypes = envSliceOr("HARVEST_BLOCKED_RESOURCES", c.Job.BlockedResourceTypes)

	c.RateLimit.Capacity = envIntOr("HARVEST_RATE_CAPACITY", c.RateLimit.Capacity)
	c.RateLimit.Refill = envFloatOr("HARVEST_RATE_REFILL", c.RateLimit.Refill)
	c.RateLimit.Interval = envDurationOr("HARVEST_RATE_INTERVAL", c.RateLimit.Interval)

	c.Cache.Enabled = envBoolOr("HARVEST_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.TTL = envDurationOr("HARVEST_CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxEntries = envIntOr("HARVEST_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.ReapInterval = envDurationOr("HARVEST_CACHE_REAP_INTERVAL", c.Cache.ReapInterval)

	c.Session.Backend = envOr("HARVEST_SESSION_BACKEND", c.Session.Backend)
	c.Session.Dir = envOr("HARVEST_SESSION_DIR", c.Session.Dir)
	c.Session.SQLitePath = envOr("HARVEST_SESSION_SQLITE", c.Session.SQLitePath)
	c.Session.RedisAddr = envOr("HARVEST_REDIS_ADDR", c.Session.RedisAddr)
	c.Session.RedisPassword = envOr("HARVEST_REDIS_PASSWORD", c.Session.RedisPassword)
	c.Session.RedisDB = envIntOr("HARVEST_REDIS_DB", c.Session.RedisDB)

	c.Auth.Enabled = envBoolOr("HARVEST_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.APIKeys = envSliceOr("HARVEST_API_KEYS", c.Auth.APIKeys)
	c.APILimit.RequestsPerSecond = envFloatOr("HARVEST_API_RPS", c.APILimit.RequestsPerSecond)
	c.APILimit.Burst = envIntOr("HARVEST_API_BURST", c.APILimit.Burst)

	c.Log.Level = envOr("HARVEST_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("HARVEST_LOG_FORMAT", c.Log.Format)
	c.Log.File = envOr("HARVEST_LOG_FILE", c.Log.File)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Browser.MaxBrowsers < 1:
		return fmt.Errorf("config: browser.max_browsers must be >= 1")
	case c.Browser.MaxPagesPerBrowser < 1:
		return fmt.Errorf("config: browser.max_pages_per_browser must be >= 1")
	case c.Browser.PoolAcquireTimeout <= 0:
		return fmt.Errorf("config: browser.pool_acquire_timeout must be positive")
	case c.Browser.MemThreshold < 0 || c.Browser.MemThreshold > 1:
		return fmt.Errorf("config: browser.mem_threshold must be within [0, 1]")
	case c.Job.Timeout <= 0 || c.Job.MaxTimeout < c.Job.Timeout:
		return fmt.Errorf("config: job.timeout must be positive and <= job.max_timeout")
	case c.Job.RetryAttempts < 0:
		return fmt.Errorf("config: job.retry_attempts must not be negative")
	case c.RateLimit.Capacity < 1 || c.RateLimit.Refill <= 0 || c.RateLimit.Interval <= 0:
		return fmt.Errorf("config: rate_limit capacity, refill and interval must be positive")
	case c.Cache.TTL <= 0:
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	switch c.Session.Backend {
	case "file", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
