package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	d := defaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Path:    "",
			Timeout: 1 * time.Second,
		},
		API: APIConfig{
			BaseURL:   "http://127.0.0.1/planetary/apod",
			Key:       "TEST_KEY",
			BatchSize: 5,
		},
		Relay: RelayConfig{},
		Feed: FeedConfig{
			HTTPTimeout:        5 * time.Second,
			BatchTimeout:       5 * time.Second,
			PreloadConcurrency: 4,
			PrefetchAfterReset: false,
			UserAgent:          "apodtok-test/1.0",
		},
		Cache: CacheConfig{
			Prefix:      "apodtok-test",
			Version:     1,
			Scope:       []string{"127.0.0.1"},
			APIPatterns: []string{"/planetary/apod"},
		},
		Scroll: ScrollConfig{
			Debounce:       10 * time.Millisecond,
			ThresholdLines: 3,
			PullFactor:     0.5,
			PullMax:        8,
		},
		Server: d.Server,
		UI:     d.UI,
		Media:  d.Media,
		Keys:   d.Keys,
		Log:    LogConfig{Level: "off"},
	}
}
