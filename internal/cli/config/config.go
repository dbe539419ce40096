// Package config loads spyglass configuration from file, environment
// variables and flags, and watches the config file for live changes.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Default configuration values.
const (
	DefaultStatusPort = 7542
	DefaultLogLevel   = "info"
)

// DefaultConfigSuffixes mark configuration documents.
var DefaultConfigSuffixes = []string{"spyglass.yaml", "spyglass.yml", ".sgconfig"}

// ProjectConfig registers one project with the hub.
type ProjectConfig struct {
	Name    string   `koanf:"name"`
	Dir     string   `koanf:"dir"`
	Targets []string `koanf:"targets"`
}

// Config holds all spyglass configuration options.
type Config struct {
	ConfigSuffixes []string        `koanf:"config_suffixes"`
	Aggregate      bool            `koanf:"aggregate"`
	StatusPort     int             `koanf:"status_port"`
	LogLevel       string          `koanf:"log_level"`
	Verbose        bool            `koanf:"verbose"`
	Projects       []ProjectConfig `koanf:"projects"`
}

var configFileUsed string

// findConfigFile finds the config file to use.
// Priority: explicit path > spyglass.yaml > spyglass.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"spyglass.yaml", "spyglass.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"config_suffixes": DefaultConfigSuffixes,
		"aggregate":       false,
		"status_port":     DefaultStatusPort,
		"log_level":       DefaultLogLevel,
		"verbose":         false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables (SPYGLASS_ prefix)
	// Transform: SPYGLASS_STATUS_PORT -> status_port
	if err := k.Load(env.Provider("SPYGLASS_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SPYGLASS_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("invalid status_port %d", c.StatusPort)
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for _, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("project with empty name (dir %q)", p.Dir)
		}
		if p.Dir == "" {
			return fmt.Errorf("project %q has no dir", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// GetConfigFileUsed returns the path to the config file being used, if
// any.
func GetConfigFileUsed() string {
	return configFileUsed
}
