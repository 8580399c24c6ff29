// Package config loads the service configuration.
//
// Values are resolved in this order, later sources winning:
//  1. Default()
//  2. the YAML file passed with --config
//  3. REMINDERS_* environment variables
//
// Environment variables are split on the first underscore after the prefix:
//
//	REMINDERS_STORAGE_BACKEND   -> storage.backend
//	REMINDERS_JOBS_MISSED_WINDOW -> jobs.missed_window
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"care-reminders/internal/adherence"
	"care-reminders/internal/jobs"
)

const envPrefix = "REMINDERS_"

type Config struct {
	Storage StorageConfig `koanf:"storage"`
	Server  ServerConfig  `koanf:"server"`
	Jobs    JobsConfig    `koanf:"jobs"`
	Lock    LockConfig    `koanf:"lock"`
	Logging LoggingConfig `koanf:"logging"`
}

type StorageConfig struct {
	Backend       string `koanf:"backend"` // memory, file, sqlite or mongo
	Dir           string `koanf:"dir"`
	SQLitePath    string `koanf:"sqlite_path"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type JobsConfig struct {
	AdjustSchedule string        `koanf:"adjust_schedule"`
	MissedSchedule string        `koanf:"missed_schedule"`
	Timezone       string        `koanf:"timezone"`
	MissedWindow   time.Duration `koanf:"missed_window"`
	Concurrency    int           `koanf:"concurrency"`
	RunOnStart     bool          `koanf:"run_on_start"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

type LockConfig struct {
	Backend       string `koanf:"backend"` // memory or redis
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:       "file",
			Dir:           "data",
			SQLitePath:    "reminders.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "care_reminders",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Jobs: JobsConfig{
			AdjustSchedule: jobs.DefaultSpec,
			MissedSchedule: jobs.DefaultSpec,
			Timezone:       "Local",
			MissedWindow:   adherence.DefaultWindow,
			Concurrency:    1,
			LockTTL:        30 * time.Minute,
		},
		Lock: LockConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps REMINDERS_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the file backend"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case "mongo":
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			errs = append(errs, errors.New("storage.mongo_uri and storage.mongo_database are required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, file, sqlite, mongo", c.Storage.Backend))
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend %q is not one of memory, redis", c.Lock.Backend))
	}

	if c.Jobs.MissedWindow <= 0 {
		errs = append(errs, fmt.Errorf("jobs.missed_window must be positive, got %s", c.Jobs.MissedWindow))
	}
	if c.Jobs.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("jobs.concurrency must be positive, got %d", c.Jobs.Concurrency))
	}
	if c.Jobs.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("jobs.lock_ttl must be positive, got %s", c.Jobs.LockTTL))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Location resolves jobs.timezone. "Local" and "" mean the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Jobs.Timezone == "" || c.Jobs.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Jobs.Timezone)
	if err != nil {
		return nil, fmt.Errorf("jobs.timezone %q: %w", c.Jobs.Timezone, err)
	}
	return loc, nil
}
