// Package config loads the server configuration from a YAML file with
// sensible defaults for everything but the instance domain.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Domain         string   `yaml:"domain"`
	Title          string   `yaml:"title"`
	DataDir        string   `yaml:"dataDir"`
	ListenAddr     string   `yaml:"listenAddr"`
	MinimumFreeGB  int      `yaml:"minimumFreeGB"`
	GCIntervalMin  int      `yaml:"gcIntervalMinutes"`
	Workers        int      `yaml:"workers"`
	AllowedDomains []string `yaml:"allowedDomains"`
	BlockedDomains []string `yaml:"blockedDomains"`
}

// Load reads the YAML file at path and applies defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if config.Domain == "" {
		return Config{}, fmt.Errorf("config %s: domain is required", path)
	}
	if config.Title == "" {
		config.Title = config.Domain
	}
	if config.DataDir == "" {
		config.DataDir = "./data"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":4242"
	}
	if config.MinimumFreeGB == 0 {
		config.MinimumFreeGB = 1
	}
	if config.GCIntervalMin == 0 {
		config.GCIntervalMin = 15
	}
	return config, nil
}

// GCInterval returns the garbage collection interval as a duration.
func (c Config) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalMin) * time.Minute
}
