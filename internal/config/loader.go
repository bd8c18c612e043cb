package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./sluggisty.yaml",
	"./sluggisty.yml",
	"./configs/client.yaml",
	"/etc/sluggisty/client.yaml",
}

// Load reads a ClientConfig from configPath, or the first default path that
// exists, on top of Defaults. Environment overrides are applied last.
func Load(configPath string) (*ClientConfig, error) {
	cfg := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		slog.Debug("loading client config", "path", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	ApplyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from SLUGGISTY_* environment variables
func ApplyEnv(cfg *ClientConfig) {
	if v := os.Getenv("SLUGGISTY_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("SLUGGISTY_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("SLUGGISTY_STORAGE_KEY"); v != "" {
		cfg.Storage.Key = v
	}
	if v := os.Getenv("SLUGGISTY_ERROR_ENDPOINT"); v != "" {
		cfg.ErrorReporting.Endpoint = v
	}
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate performs basic validation on the configuration
func Validate(cfg *ClientConfig) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an absolute http(s) URL, got %q", cfg.APIURL)
	}

	switch cfg.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q", EnvDevelopment, EnvProduction)
	}

	if cfg.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if cfg.Retry.MaxRetries != nil && *cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}

	if cfg.Session.IdleTimeout <= 0 || cfg.Session.MaxAge <= 0 {
		return fmt.Errorf("session.idle_timeout and session.max_age must be positive")
	}

	switch cfg.Storage.Backend {
	case "memory", "file", "redis", "postgres":
	default:
		return fmt.Errorf("storage.backend %q is not supported", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "file" && cfg.Storage.FilePath == "" {
		return fmt.Errorf("storage.file_path is required for the file backend")
	}
	if cfg.Storage.Key != "" && len(cfg.Storage.Key) < 16 {
		return fmt.Errorf("storage.key must be at least 16 characters")
	}

	return nil
}
