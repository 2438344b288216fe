// Package config loads dyno configuration from an optional YAML file.
package config

import "time"

// Config is the complete dyno configuration.
type Config struct {
	Path string `yaml:"-"` // Resolved config file, "" when running on defaults

	Script        string        `yaml:"script"`         // Lua script reloaded into the session
	Function      string        `yaml:"function"`       // Global function called after the reload
	Snippet       string        `yaml:"snippet"`        // Code evaluated hermetically afterwards
	SnippetLang   string        `yaml:"snippet_lang"`   // "javascript" or "typescript"
	Timeout       time.Duration `yaml:"timeout"`        // Per-operation limit, 0 disables
	KV            bool          `yaml:"kv"`             // Expose host.kv_* to scripts
	WatchDebounce time.Duration `yaml:"watch_debounce"` // Quiet period before a watched reload

	Log   LogConfig   `yaml:"log"`
	Serve ServeConfig `yaml:"serve"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// ServeConfig holds HTTP API settings
type ServeConfig struct {
	Port       int           `yaml:"port"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// DefaultSnippet is evaluated when no snippet is configured.
const DefaultSnippet = `console.log('Hello from DynoEngine!');`

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Script:        "script.lua",
		Function:      "interrogate",
		Snippet:       DefaultSnippet,
		SnippetLang:   "javascript",
		Timeout:       30 * time.Second,
		WatchDebounce: 100 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Serve: ServeConfig{
			Port:       8080,
			SessionTTL: 10 * time.Minute,
		},
	}
}
