package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	clientconfig "github.com/sluggisty/dashboard/internal/config"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// WebServerConfig represents the web server configuration
type WebServerConfig struct {
	Server    HTTPServer                `yaml:"server"`
	Client    clientconfig.ClientConfig `yaml:"client"`
	Session   SessionConfig             `yaml:"session"`
	Templates TemplatesConfig           `yaml:"templates"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// HTTPServer holds HTTP server configuration
type HTTPServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	Secret string `yaml:"secret"` // 32-byte base64-encoded
	Secure bool   `yaml:"secure"` // set for HTTPS deployments
}

// TemplatesConfig holds template loading configuration
type TemplatesConfig struct {
	Path string `yaml:"path"` // empty uses the templates built into the binary
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`   // optional rotated log file
}

// DefaultConfigPaths defines the default locations to search for web configuration files
var DefaultConfigPaths = []string{
	"./web.yaml",
	"./web.yml",
	"./configs/web.yaml",
	"./configs/web.yml",
	"/etc/sluggisty/web.yaml",
	"/etc/sluggisty/web.yml",
}

// Defaults returns the configuration used when no file is found
func Defaults() *WebServerConfig {
	return &WebServerConfig{
		Server: HTTPServer{
			Host: "localhost",
			Port: 3000,
		},
		Client: clientconfig.Defaults(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the web server configuration from the specified file or default locations
func Load(configPath string) (*WebServerConfig, error) {
	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if configPath != "" {
		return nil, fmt.Errorf("config file %s not found", configPath)
	}

	// Environment variables take precedence
	clientconfig.ApplyEnv(&config.Client)
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		config.Session.Secret = secret
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
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
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the web configuration
func validate(config *WebServerConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return clientconfig.Validate(&config.Client)
}
