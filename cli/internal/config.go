package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	clientconfig "github.com/sluggisty/dashboard/internal/config"
)

// Context represents a named configuration context (like kubectl contexts)
type Context struct {
	Server struct {
		URL         string `yaml:"url"`
		Environment string `yaml:"environment,omitempty"`
	} `yaml:"server"`
	Storage struct {
		Key string `yaml:"key,omitempty"` // encrypts stored credentials when set
	} `yaml:"storage,omitempty"`
	Rendering struct {
		Theme string `yaml:"theme"`
	} `yaml:"rendering"`
	Session struct {
		IdleTimeout   time.Duration `yaml:"idle_timeout,omitempty"`
		CheckInterval time.Duration `yaml:"check_interval,omitempty"`
	} `yaml:"session,omitempty"`
}

// Config represents the CLI configuration with multiple contexts
type Config struct {
	CurrentContext string              `yaml:"current-context"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

func newContext(url string) *Context {
	ctx := &Context{}
	ctx.Server.URL = url
	ctx.Rendering.Theme = "auto"
	return ctx
}

// DefaultConfig returns the default configuration with a single "local" context
func DefaultConfig() *Config {
	return &Config{
		CurrentContext: "local",
		Contexts: map[string]*Context{
			"local": newContext(clientconfig.Defaults().APIURL),
		},
	}
}

// GetCurrentContext returns the current active context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}

	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return nil, fmt.Errorf("current context %q not found", c.CurrentContext)
	}

	return ctx, nil
}

// SetCurrentContext sets the current active context
func (c *Config) SetCurrentContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	c.CurrentContext = name
	return nil
}

// AddContext adds or updates a context
func (c *Config) AddContext(name string, ctx *Context) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*Context)
	}
	c.Contexts[name] = ctx
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if name == c.CurrentContext {
		return fmt.Errorf("cannot delete current context %q", name)
	}
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	delete(c.Contexts, name)
	return nil
}

// ContextNames returns the configured context names, sorted
func (c *Config) ContextNames() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientConfig builds the API client configuration for the current context.
// SLUGGISTY_* environment variables override the context.
func (c *Config) ClientConfig() (*clientconfig.ClientConfig, error) {
	ctx, err := c.GetCurrentContext()
	if err != nil {
		return nil, err
	}

	cfg := clientconfig.Defaults()
	cfg.APIURL = ctx.Server.URL
	if ctx.Server.Environment != "" {
		cfg.Environment = ctx.Server.Environment
	}
	cfg.Storage.Key = ctx.Storage.Key
	if ctx.Session.IdleTimeout > 0 {
		cfg.Session.IdleTimeout = ctx.Session.IdleTimeout
	}
	if ctx.Session.CheckInterval > 0 {
		cfg.Session.CheckInterval = ctx.Session.CheckInterval
	}
	clientconfig.ApplyEnv(&cfg)
	if err := clientconfig.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".sluggisty"), nil
}

// LoadConfig loads configuration from ~/.sluggisty
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config file doesn't exist, create it with defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := DefaultConfig()
		if err := SaveConfig(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.CurrentContext == "" {
		if names := config.ContextNames(); len(names) > 0 {
			config.CurrentContext = names[0]
		}
	}

	return &config, nil
}

// SaveConfig saves configuration to ~/.sluggisty
func SaveConfig(config *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Contexts may carry a storage key
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
