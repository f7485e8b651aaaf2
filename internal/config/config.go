// Package config loads service settings from defaults, an optional TOML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr      string
	Store         string
	PGDSN         string
	MaxBodyBytes  int64
	RateBurst     int
	RatePerSecond float64
	// MigrationsDir and SeedsDir override the embedded SQL when set.
	MigrationsDir string
	SeedsDir      string
	LogLevel      string
}

// fileConfig maps config.toml keys.
type fileConfig struct {
	HTTPAddr      string  `toml:"http_addr"`
	Store         string  `toml:"store"`
	PGDSN         string  `toml:"pg_dsn"`
	MaxBodyBytes  int64   `toml:"max_body_bytes"`
	RateBurst     int     `toml:"rate_burst"`
	RatePerSecond float64 `toml:"rate_per_second"`
	MigrationsDir string  `toml:"migrations_dir"`
	SeedsDir      string  `toml:"seeds_dir"`
	LogLevel      string  `toml:"log_level"`
}

func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		Store:         StoreMemory,
		MaxBodyBytes:  1 << 20,
		RateBurst:     100,
		RatePerSecond: 50,
		LogLevel:      "info",
	}
}

// Load builds a Config. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := overlayEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("store") {
		cfg.Store = strings.ToLower(strings.TrimSpace(raw.Store))
	}
	if meta.IsDefined("pg_dsn") {
		cfg.PGDSN = strings.TrimSpace(raw.PGDSN)
	}
	if meta.IsDefined("max_body_bytes") {
		cfg.MaxBodyBytes = raw.MaxBodyBytes
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("rate_per_second") {
		cfg.RatePerSecond = raw.RatePerSecond
	}
	if meta.IsDefined("migrations_dir") {
		cfg.MigrationsDir = strings.TrimSpace(raw.MigrationsDir)
	}
	if meta.IsDefined("seeds_dir") {
		cfg.SeedsDir = strings.TrimSpace(raw.SeedsDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return nil
}

func overlayEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("AGORA_HTTP_ADDR"); ok && v != "" {
		cfg.HTTPAddr = v
	}
	if v, ok := lookup("AGORA_STORE"); ok && v != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("AGORA_PG_DSN"); ok && v != "" {
		cfg.PGDSN = v
		if _, set := lookup("AGORA_STORE"); !set {
			cfg.Store = StorePostgres
		}
	}
	if v, ok := lookup("AGORA_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("AGORA_RATE_PER_SECOND"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AGORA_RATE_PER_SECOND: %w", err)
		}
		cfg.RatePerSecond = rps
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			return errors.New("postgres store requires pg_dsn or AGORA_PG_DSN")
		}
	default:
		return fmt.Errorf("unknown store %q (expected %s or %s)", c.Store, StoreMemory, StorePostgres)
	}
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RatePerSecond < 0 || c.RateBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}
