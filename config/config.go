// Package config loads prompt manager settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/codragon2020/prompt-manager/core"
)

// Config holds all settings. Every variable is read with the PROMPT_ prefix.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL"`
	DatabaseDriver  string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix    string        `env:"REDIS_PREFIX" envDefault:"promptmgr"`
	ActiveCacheTTL time.Duration `env:"ACTIVE_CACHE_TTL" envDefault:"30s"`

	ArchiveS3Bucket string `env:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Prefix string `env:"ARCHIVE_S3_PREFIX"`
	ArchiveDir      string `env:"ARCHIVE_DIR"`

	Environments string `env:"ENVIRONMENTS" envDefault:"dev:Development,stage:Staging,prod:Production"`
	Actor        string `env:"ACTOR"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

const envPrefix = "PROMPT_"

// Load reads an optional .env file from the working directory and then
// parses the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Prefix: envPrefix})
}

// FromMap parses settings from vars instead of the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: envPrefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Actor == "" {
		cfg.Actor = defaultActor(opts.Environment)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultActor(vars map[string]string) string {
	user, ok := vars["USER"]
	if vars == nil {
		user, ok = os.LookupEnv("USER")
	}
	if ok && user != "" {
		return user
	}
	return "cli"
}

// Validate reports the first invalid setting as a BAD_REQUEST naming the
// variable.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "pgx":
	default:
		return core.BadRequest(envPrefix+"DATABASE_DRIVER", "unknown database driver %q", c.DatabaseDriver)
	}
	if c.MaxOpenConns < 0 {
		return core.BadRequest(envPrefix+"DB_MAX_OPEN_CONNS", "must not be negative")
	}
	if c.MaxIdleConns < 0 {
		return core.BadRequest(envPrefix+"DB_MAX_IDLE_CONNS", "must not be negative")
	}
	if c.ActiveCacheTTL < 0 {
		return core.BadRequest(envPrefix+"ACTIVE_CACHE_TTL", "must not be negative")
	}
	if c.ArchiveS3Bucket != "" && c.ArchiveDir != "" {
		return core.BadRequest(envPrefix+"ARCHIVE_DIR", "set either an S3 bucket or a directory archive, not both")
	}
	if _, err := c.EnvironmentList(); err != nil {
		return err
	}
	return nil
}

// EnvironmentList parses Environments ("key:Name,key2:Name2"). A missing name
// defaults to the key.
func (c *Config) EnvironmentList() ([]core.Environment, error) {
	var out []core.Environment
	seen := map[string]bool{}
	for _, item := range strings.Split(c.Environments, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, name, _ := strings.Cut(item, ":")
		key, name = strings.TrimSpace(key), strings.TrimSpace(name)
		if key == "" {
			return nil, core.BadRequest(envPrefix+"ENVIRONMENTS", "environment entry %q has no key", item)
		}
		if seen[key] {
			return nil, core.BadRequest(envPrefix+"ENVIRONMENTS", "duplicate environment %q", key)
		}
		seen[key] = true
		if name == "" {
			name = key
		}
		out = append(out, core.Environment{Key: key, Name: name})
	}
	return out, nil
}
