package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Scroll   ScrollConfig   `mapstructure:"scroll"`
	Server   ServerConfig   `mapstructure:"server"`
	UI       UIConfig       `mapstructure:"ui"`
	Media    MediaConfig    `mapstructure:"media"`
	Keys     KeyConfig      `mapstructure:"keys"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type APIConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	Key         string  `mapstructure:"key"`
	KeyEndpoint string  `mapstructure:"key_endpoint"`
	BatchSize   int     `mapstructure:"batch_size"`
	RateLimit   float64 `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst       int     `mapstructure:"burst"`
}

// RelayConfig points at an allorigins-style CORS relay. Requests are sent as
// {url}?url=<escaped upstream> and answered with {"contents": "..."}.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type FeedConfig struct {
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	PreloadConcurrency int           `mapstructure:"preload_concurrency"`
	PrefetchAfterReset bool          `mapstructure:"prefetch_after_reset"`
	UserAgent          string        `mapstructure:"user_agent"`
}

type CacheConfig struct {
	Prefix      string   `mapstructure:"prefix"`
	Version     int      `mapstructure:"version"`
	Origin      string   `mapstructure:"origin"`
	Manifest    []string `mapstructure:"manifest"`
	Scope       []string `mapstructure:"scope"`
	APIPatterns []string `mapstructure:"api_patterns"`
}

// StaticNamespace is the versioned precache namespace name.
func (c CacheConfig) StaticNamespace() string {
	return fmt.Sprintf("%s-cache-v%d", c.Prefix, c.Version)
}

// RuntimeNamespace is the unversioned runtime namespace name.
func (c CacheConfig) RuntimeNamespace() string {
	return c.Prefix + "-runtime"
}

type ScrollConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	ThresholdLines int           `mapstructure:"threshold_lines"`
	PullFactor     float64       `mapstructure:"pull_factor"`
	PullMax        int           `mapstructure:"pull_max"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

type UIConfig struct {
	Colors UIColors `mapstructure:"colors"`
}

type UIColors struct {
	Primary    string `mapstructure:"primary"`
	Secondary  string `mapstructure:"secondary"`
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
	Muted      string `mapstructure:"muted"`
	Error      string `mapstructure:"error"`
	Success    string `mapstructure:"success"`
}

type MediaConfig struct {
	Darwin        MediaPlayers `mapstructure:"darwin"`
	Linux         MediaPlayers `mapstructure:"linux"`
	Windows       MediaPlayers `mapstructure:"windows"`
	DefaultOpener string       `mapstructure:"default_opener"`
}

type MediaPlayers struct {
	Video []string `mapstructure:"video"`
	Image []string `mapstructure:"image"`
}

type KeyConfig struct {
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Quit      string `mapstructure:"quit"`
	Refresh   string `mapstructure:"refresh"`
	Retry     string `mapstructure:"retry"`
	OpenMedia string `mapstructure:"open_media"`
	Details   string `mapstructure:"details"`
	Search    string `mapstructure:"search"`
	About     string `mapstructure:"about"`
	Back      string `mapstructure:"back"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".apodtok", "cache.db")

	return &Config{
		Database: DatabaseConfig{
			Path:    dbPath,
			Timeout: 1 * time.Second,
		},
		API: APIConfig{
			BaseURL:   "https://api.nasa.gov/planetary/apod",
			BatchSize: 5,
			RateLimit: 1,
			Burst:     2,
		},
		Relay: RelayConfig{
			Enabled: false,
			URL:     "https://api.allorigins.win/get",
		},
		Feed: FeedConfig{
			HTTPTimeout:        30 * time.Second,
			BatchTimeout:       60 * time.Second,
			PreloadConcurrency: 8,
			PrefetchAfterReset: true,
			UserAgent:          "apodtok/1.0 (https://github.com/pders01/apodtok)",
		},
		Cache: CacheConfig{
			Prefix:      "apodtok",
			Version:     1,
			Origin:      "",
			Manifest:    []string{},
			Scope:       []string{"api.nasa.gov", "apod.nasa.gov", "api.allorigins.win"},
			APIPatterns: []string{"api.nasa.gov"},
		},
		Scroll: ScrollConfig{
			Debounce:       150 * time.Millisecond,
			ThresholdLines: 3,
			PullFactor:     0.5,
			PullMax:        8,
		},
		Server: ServerConfig{
			Addr:      ":8888",
			StaticDir: "./public",
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:    "#FF6B6B",
				Secondary:  "#4ECDC4",
				Accent:     "#95E1D3",
				Background: "#0B0D21",
				Surface:    "#16213E",
				Text:       "#EAEAEA",
				Muted:      "#94A3B8",
				Error:      "#F87171",
				Success:    "#4ADE80",
			},
		},
		Media: MediaConfig{
			Darwin: MediaPlayers{
				Video: []string{"iina", "mpv", "vlc"},
				Image: []string{"open"},
			},
			Linux: MediaPlayers{
				Video: []string{"mpv", "vlc", "mplayer"},
				Image: []string{"sxiv", "feh", "eog", "xdg-open"},
			},
			Windows: MediaPlayers{
				Video: []string{"mpv", "vlc"},
				Image: []string{"cmd"},
			},
			DefaultOpener: getDefaultOpener(),
		},
		Keys: KeyConfig{
			Bindings: KeyBindings{
				Quit:      "q",
				Refresh:   "r",
				Retry:     "R",
				OpenMedia: "o",
				Details:   "enter",
				Search:    "/",
				About:     "?",
				Back:      "esc",
			},
		},
		Log: LogConfig{
			Level: "off",
			File:  "",
		},
	}
}

func getDefaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "linux":
		return "xdg-open"
	case "windows":
		return "cmd"
	default:
		return "open"
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("database", cfg.Database)
	v.SetDefault("api", cfg.API)
	v.SetDefault("relay", cfg.Relay)
	v.SetDefault("feed", cfg.Feed)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("scroll", cfg.Scroll)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("ui", cfg.UI)
	v.SetDefault("media", cfg.Media)
	v.SetDefault("keys", cfg.Keys)
	v.SetDefault("log", cfg.Log)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "apodtok")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("APODTOK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the viewer cannot run with.
func (c *Config) Validate() error {
	if c.API.BatchSize <= 0 {
		return fmt.Errorf("api.batch_size must be positive, got %d", c.API.BatchSize)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required when the relay is enabled")
	}
	if c.Cache.Prefix == "" {
		return fmt.Errorf("cache.prefix is required")
	}
	if len(c.Cache.Manifest) > 0 && c.Cache.Origin == "" {
		return fmt.Errorf("cache.origin is required for a non-empty manifest")
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

// expandPaths expands all paths in the config
func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	dbCfg := map[string]interface{}{
		"path":    config.Database.Path,
		"timeout": config.Database.Timeout.String(),
	}

	feedCfg := map[string]interface{}{
		"http_timeout":         config.Feed.HTTPTimeout.String(),
		"batch_timeout":        config.Feed.BatchTimeout.String(),
		"preload_concurrency":  config.Feed.PreloadConcurrency,
		"prefetch_after_reset": config.Feed.PrefetchAfterReset,
		"user_agent":           config.Feed.UserAgent,
	}

	scrollCfg := map[string]interface{}{
		"debounce":        config.Scroll.Debounce.String(),
		"threshold_lines": config.Scroll.ThresholdLines,
		"pull_factor":     config.Scroll.PullFactor,
		"pull_max":        config.Scroll.PullMax,
	}

	apiCfg := map[string]interface{}{
		"base_url":     config.API.BaseURL,
		"key":          config.API.Key,
		"key_endpoint": config.API.KeyEndpoint,
		"batch_size":   config.API.BatchSize,
		"rate_limit":   config.API.RateLimit,
		"burst":        config.API.Burst,
	}

	cacheCfg := map[string]interface{}{
		"prefix":       config.Cache.Prefix,
		"version":      config.Cache.Version,
		"origin":       config.Cache.Origin,
		"manifest":     config.Cache.Manifest,
		"scope":        config.Cache.Scope,
		"api_patterns": config.Cache.APIPatterns,
	}

	mediaCfg := map[string]interface{}{
		"darwin":         config.Media.Darwin,
		"linux":          config.Media.Linux,
		"windows":        config.Media.Windows,
		"default_opener": config.Media.DefaultOpener,
	}

	keysCfg := map[string]interface{}{
		"bindings": map[string]interface{}{
			"quit":       config.Keys.Bindings.Quit,
			"refresh":    config.Keys.Bindings.Refresh,
			"retry":      config.Keys.Bindings.Retry,
			"open_media": config.Keys.Bindings.OpenMedia,
			"details":    config.Keys.Bindings.Details,
			"search":     config.Keys.Bindings.Search,
			"about":      config.Keys.Bindings.About,
			"back":       config.Keys.Bindings.Back,
		},
	}

	v.Set("database", dbCfg)
	v.Set("api", apiCfg)
	v.Set("relay", map[string]interface{}{"enabled": config.Relay.Enabled, "url": config.Relay.URL})
	v.Set("feed", feedCfg)
	v.Set("cache", cacheCfg)
	v.Set("scroll", scrollCfg)
	v.Set("server", map[string]interface{}{"addr": config.Server.Addr, "static_dir": config.Server.StaticDir})
	v.Set("ui", config.UI)
	v.Set("media", mediaCfg)
	v.Set("keys", keysCfg)
	v.Set("log", map[string]interface{}{"level": config.Log.Level, "file": config.Log.File})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
