package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Repository string        `mapstructure:"repository" json:"repository"`
	Watcher    string        `mapstructure:"watcher" json:"watcher"`
	TasksFile  string        `mapstructure:"tasks_file" json:"tasks_file"`
	Workers    int           `mapstructure:"workers" json:"workers"`
	Deadline   time.Duration `mapstructure:"deadline" json:"deadline"`
	Schedule   string        `mapstructure:"schedule" json:"schedule"`
	NATS       NATSConfig    `mapstructure:"nats" json:"nats"`
	Server     ServerConfig  `mapstructure:"server" json:"server"`
	History    HistoryConfig `mapstructure:"history" json:"history"`
	Log        LogConfig     `mapstructure:"log" json:"log"`
}

type NATSConfig struct {
	URL string `mapstructure:"url" json:"url"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type HistoryConfig struct {
	Path      string `mapstructure:"path" json:"path"`
	Retention int    `mapstructure:"retention_days" json:"retention_days"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

// LoadEnv loads .env and then .env.<APP_ENV>; missing files are ignored.
func LoadEnv() string {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env." + appEnv)
	return appEnv
}

// Load reads the configuration file (override, or watchme.yaml in the
// working directory or ~/.watchme) and WATCHME_* environment variables.
// A missing config file is not an error.
func Load(override string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, filepath.Join(home, ".watchme"))

	v.SetEnvPrefix("WATCHME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if override != "" {
		v.SetConfigFile(override)
	} else {
		v.SetConfigName("watchme")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".watchme"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Repository = expandHome(cfg.Repository, home)
	if cfg.TasksFile == "" {
		cfg.TasksFile = filepath.Join(cfg.Repository, "watcher.yaml")
	}
	cfg.TasksFile = expandHome(cfg.TasksFile, home)
	cfg.History.Path = expandHome(cfg.History.Path, home)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, appDir string) {
	v.SetDefault("repository", filepath.Join(appDir, "repository"))
	v.SetDefault("watcher", "watcher")
	v.SetDefault("tasks_file", "")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("deadline", "0s")
	v.SetDefault("schedule", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("history.path", filepath.Join(appDir, "history.db"))
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate checks values that would otherwise fail later at run time.
func (c *Config) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("deadline must be >= 0, got %s", c.Deadline)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention_days must be >= 0")
	}
	return nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
