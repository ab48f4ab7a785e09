package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by LoadConfig when the file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Config is the daemon configuration file
type Config struct {
	Crontab string `yaml:"crontab"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Dispatch struct {
		Mode      string        `yaml:"mode"` // shell|ssh|log
		Shell     string        `yaml:"shell"`
		Timeout   time.Duration `yaml:"timeout"`
		PerMinute int           `yaml:"per_minute"`
		SSH       struct {
			Host       string `yaml:"host"`
			Port       int    `yaml:"port"`
			User       string `yaml:"user"`
			KeyFile    string `yaml:"key_file"`
			KnownHosts string `yaml:"known_hosts"`
			Insecure   bool   `yaml:"insecure"`
		} `yaml:"ssh"`
	} `yaml:"dispatch"`

	History struct {
		Path string `yaml:"path"` // empty disables history
	} `yaml:"history"`

	Alerts struct {
		SlackWebhook string `yaml:"slack_webhook"`
	} `yaml:"alerts"`

	Control struct {
		Addr  string `yaml:"addr"` // empty disables the control server
		Token string `yaml:"token"`
	} `yaml:"control"`

	Watch bool `yaml:"watch"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Crontab = "config/crontab.txt"
	cfg.Log.Level = "info"
	cfg.Dispatch.Mode = "shell"
	cfg.Dispatch.Shell = "/bin/sh"
	cfg.Dispatch.Timeout = 10 * time.Minute
	cfg.History.Path = "cronexec-history.db"
	cfg.Control.Addr = "127.0.0.1:7070"
	return cfg
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate checks values yaml cannot
func (c *Config) Validate() error {
	if c.Crontab == "" {
		return errors.New("config: crontab path is required")
	}
	switch c.Dispatch.Mode {
	case "shell", "ssh", "log":
	default:
		return fmt.Errorf("config: unknown dispatch mode %q", c.Dispatch.Mode)
	}
	if c.Dispatch.Timeout < 0 {
		return errors.New("config: dispatch timeout must not be negative")
	}
	if c.Dispatch.PerMinute < 0 {
		return errors.New("config: per_minute must not be negative")
	}
	if c.Dispatch.Mode == "ssh" && c.Dispatch.SSH.Host == "" {
		return errors.New("config: dispatch.ssh.host is required in ssh mode")
	}
	return nil
}
