package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends selectable via store.mode.
const (
	StoreLocal    = "local"
	StoreSupabase = "supabase"
	StoreDynamoDB = "dynamodb"
)

// Auth providers selectable via auth.mode.
const (
	AuthLocal    = "local"
	AuthSupabase = "supabase"
)

// StoreConfig selects and tunes the event store backend.
type StoreConfig struct {
	// Mode is one of "local", "supabase", "dynamodb".
	Mode string `yaml:"mode" json:"mode"`
	// DataDir holds the badger database for local events and accounts.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// PollInterval controls how often remote subscriptions re-read the
	// backend to pick up writes made by other processes.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

type SupabaseConfig struct {
	URL   string `yaml:"url" json:"url"`
	Key   string `yaml:"key" json:"-"`
	Table string `yaml:"table" json:"table"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table" json:"table"`
	Index  string `yaml:"owner_index" json:"owner_index"`
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the AWS endpoint (dynamodb-local, localstack).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

type AuthConfig struct {
	Mode      string        `yaml:"mode" json:"mode"`
	JWTSecret string        `yaml:"jwt_secret" json:"-"`
	Issuer    string        `yaml:"issuer" json:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl" json:"token_ttl"`
	// OAuthRedirect is where the OAuth provider sends the browser back to.
	OAuthRedirect string `yaml:"oauth_redirect" json:"oauth_redirect"`
}

type WeatherConfig struct {
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	ForecastDays int           `yaml:"forecast_days" json:"forecast_days"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	// CacheTTL bounds how long a forecast for one coordinate is reused.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// DefaultLat/DefaultLon are used when the client sends no position.
	// Zero values mean "no default"; the view then shows no weather.
	DefaultLat float64 `yaml:"default_lat" json:"default_lat"`
	DefaultLon float64 `yaml:"default_lon" json:"default_lon"`
}

type GeminiConfig struct {
	APIKey      string  `yaml:"api_key" json:"-"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
}

type ChatConfig struct {
	// SweepCron schedules eviction of idle chat sessions.
	SweepCron string        `yaml:"sweep_cron" json:"sweep_cron"`
	IdleTTL   time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
}

type OfflineConfig struct {
	// Version is the cache name; caches with any other name are purged
	// on activation.
	Version string `yaml:"version" json:"version"`
	// Upstream, if set, proxies the UI from another origin instead of
	// the embedded static build.
	Upstream string   `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Precache []string `yaml:"precache" json:"precache"`
}

// HolidayFeedConfig describes the optional ICS feed for holidays that the
// built-in table does not carry (lunar holidays outside 2026).
type HolidayFeedConfig struct {
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
	CacheDir    string `yaml:"cache_dir" json:"cache_dir"`
	RefreshCron string `yaml:"refresh" json:"refresh"`
}

type CaptureConfig struct {
	Width   int           `yaml:"width" json:"width"`
	Height  int           `yaml:"height" json:"height"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to decide "today" (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	Store       StoreConfig       `yaml:"store" json:"store"`
	Supabase    SupabaseConfig    `yaml:"supabase" json:"supabase"`
	DynamoDB    DynamoDBConfig    `yaml:"dynamodb" json:"dynamodb"`
	Auth        AuthConfig        `yaml:"auth" json:"auth"`
	Weather     WeatherConfig     `yaml:"weather" json:"weather"`
	Gemini      GeminiConfig      `yaml:"gemini" json:"gemini"`
	Chat        ChatConfig        `yaml:"chat" json:"chat"`
	Offline     OfflineConfig     `yaml:"offline" json:"offline"`
	HolidayFeed HolidayFeedConfig `yaml:"holiday_feed" json:"holiday_feed"`
	Capture     CaptureConfig     `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	c.Store.Mode = strings.ToLower(strings.TrimSpace(c.Store.Mode))
	if c.Store.Mode == "" {
		c.Store.Mode = StoreLocal
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "/var/lib/smartcal/data"
	}
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 30 * time.Second
	}
	if c.Supabase.Table == "" {
		c.Supabase.Table = "events"
	}
	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = "smartcal-events"
	}
	if c.DynamoDB.Index == "" {
		c.DynamoDB.Index = "ownerId-createdAt-index"
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		// 원격 저장소를 supabase 로 쓰면 인증도 supabase 를 따른다.
		if c.Store.Mode == StoreSupabase {
			c.Auth.Mode = AuthSupabase
		} else {
			c.Auth.Mode = AuthLocal
		}
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "smartcal"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.open-meteo.com/v1/forecast"
	}
	// Open-Meteo accepts 1..16 forecast days.
	switch {
	case c.Weather.ForecastDays <= 0:
		c.Weather.ForecastDays = 7
	case c.Weather.ForecastDays > 16:
		c.Weather.ForecastDays = 16
	}
	if c.Weather.Timeout <= 0 {
		c.Weather.Timeout = 10 * time.Second
	}
	if c.Weather.CacheTTL <= 0 {
		c.Weather.CacheTTL = 30 * time.Minute
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Gemini.Temperature <= 0 {
		c.Gemini.Temperature = 0.7
	}

	if c.Chat.SweepCron == "" {
		c.Chat.SweepCron = "*/10 * * * *"
	}
	if c.Chat.IdleTTL <= 0 {
		c.Chat.IdleTTL = 2 * time.Hour
	}

	if c.Offline.Version == "" {
		c.Offline.Version = "smart-calendar-v2"
	}
	if c.Offline.Precache == nil {
		c.Offline.Precache = []string{"/", "/index.html", "/manifest.json"}
	}

	if c.HolidayFeed.CacheDir == "" {
		c.HolidayFeed.CacheDir = "/var/lib/smartcal/ics-cache"
	}
	if c.HolidayFeed.RefreshCron == "" {
		c.HolidayFeed.RefreshCron = "0 4 * * *"
	}

	if c.Capture.Width <= 0 {
		c.Capture.Width = 1280
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 960
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 30 * time.Second
	}
}

// ApplyEnv overlays secrets from the environment. Empty variables are ignored.
func (c *Config) ApplyEnv() {
	if v := firstEnv("GEMINI_API_KEY", "API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		c.Supabase.Key = v
	}
	if v := os.Getenv("SMARTCAL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SMARTCAL_STORE"); v != "" {
		c.Store.Mode = strings.ToLower(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}

	switch c.Store.Mode {
	case StoreLocal:
	case StoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			errs = append(errs, errors.New("store.mode=supabase requires supabase.url and supabase.key"))
		}
	case StoreDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("store.mode=dynamodb requires dynamodb.table"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.mode %q", c.Store.Mode))
	}

	switch c.Auth.Mode {
	case AuthLocal:
		if c.Store.Mode != StoreLocal && c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.mode=local with a remote store requires auth.jwt_secret"))
		}
	case AuthSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			errs = append(errs, errors.New("auth.mode=supabase requires supabase.url and supabase.key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}

	return errors.Join(errs...)
}

// RemoteStore reports whether events are owned per user.
func (c *Config) RemoteStore() bool {
	return c.Store.Mode != StoreLocal
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied after reading, never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".smartcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
