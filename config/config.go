package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr          string
	AdminAddr     string
	DBPath        string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration
	StoreWorkers  int
	LogLevel      string
}

func Default() Config {
	return Config{
		Addr:          ":3215",
		AdminAddr:     "127.0.0.1:8215",
		DBPath:        "nchat.db",
		ReadTimeout:   120 * time.Second,
		WriteTimeout:  30 * time.Second,
		ShutdownGrace: 5 * time.Second,
		StoreWorkers:  8,
		LogLevel:      "info",
	}
}

type fileConfig struct {
	Addr          string `toml:"addr"`
	AdminAddr     string `toml:"admin_addr"`
	DBPath        string `toml:"db_path"`
	ReadTimeout   string `toml:"read_timeout"`
	WriteTimeout  string `toml:"write_timeout"`
	ShutdownGrace string `toml:"shutdown_grace"`
	StoreWorkers  int    `toml:"store_workers"`
	LogLevel      string `toml:"log_level"`
}

// Load merges defaults, the optional TOML file and environment
// overrides, in that order. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}

		if meta.IsDefined("addr") {
			cfg.Addr = strings.TrimSpace(raw.Addr)
		}
		if meta.IsDefined("admin_addr") {
			cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
		}
		if meta.IsDefined("db_path") {
			cfg.DBPath = strings.TrimSpace(raw.DBPath)
		}
		if meta.IsDefined("read_timeout") {
			if cfg.ReadTimeout, err = time.ParseDuration(strings.TrimSpace(raw.ReadTimeout)); err != nil {
				return Config{}, fmt.Errorf("parse read_timeout: %w", err)
			}
		}
		if meta.IsDefined("write_timeout") {
			if cfg.WriteTimeout, err = time.ParseDuration(strings.TrimSpace(raw.WriteTimeout)); err != nil {
				return Config{}, fmt.Errorf("parse write_timeout: %w", err)
			}
		}
		if meta.IsDefined("shutdown_grace") {
			if cfg.ShutdownGrace, err = time.ParseDuration(strings.TrimSpace(raw.ShutdownGrace)); err != nil {
				return Config{}, fmt.Errorf("parse shutdown_grace: %w", err)
			}
		}
		if meta.IsDefined("store_workers") {
			cfg.StoreWorkers = raw.StoreWorkers
		}
		if meta.IsDefined("log_level") {
			cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if v := os.Getenv("NCHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("NCHAT_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv("NCHAT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NCHAT_READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse NCHAT_READ_TIMEOUT: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if v := os.Getenv("NCHAT_WRITE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse NCHAT_WRITE_TIMEOUT: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if v := os.Getenv("NCHAT_STORE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse NCHAT_STORE_WORKERS: %w", err)
		}
		cfg.StoreWorkers = n
	}
	if v := os.Getenv("NCHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}
