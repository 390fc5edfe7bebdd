package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Lesson struct {
		TTL        string `yaml:"ttl"`
		ContentTTL string `yaml:"contentTtl"`
	} `yaml:"lesson"`
	Flow struct {
		RevealDelay        string `yaml:"revealDelay"`
		AutoAdvanceGrace   string `yaml:"autoAdvanceGrace"`
		ComprehensionEvery int    `yaml:"comprehensionEvery"`
	} `yaml:"flow"`
	Generator struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseUrl"`
	} `yaml:"generator"`
}

// Load reads YAML config from path. The generator API key falls back to the
// OPENAI_API_KEY environment variable.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
