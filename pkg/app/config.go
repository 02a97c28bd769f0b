package app

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every runtime setting after flags, the optional YAML file
// and the environment have been merged.
type Config struct {
	showVersion bool
	configFile  string
	port        int
	dbType      string
	dbPath      string
	databaseURL string
	redisURL    string
	sessionTTL  time.Duration
	lowStock    int
	lockTimeout time.Duration
	authRate    int
}

// fileConfig mirrors Config for -config files; nil means "not set".
type fileConfig struct {
	Port        *int           `yaml:"port"`
	DBType      *string        `yaml:"db_type"`
	DBPath      *string        `yaml:"db_path"`
	DatabaseURL *string        `yaml:"database_url"`
	RedisURL    *string        `yaml:"redis_url"`
	SessionTTL  *time.Duration `yaml:"session_ttl"`
	LowStock    *int           `yaml:"low_stock"`
	LockTimeout *time.Duration `yaml:"lock_timeout"`
	AuthRate    *int           `yaml:"auth_rate"`
}

// parseFlags uses a dedicated FlagSet so Run can be called from multiple entry points.
func parseFlags(args []string) (Config, map[string]bool, error) {
	set := flag.NewFlagSet("storefront", flag.ContinueOnError)
	set.SetOutput(io.Discard)

	var cfg Config
	set.BoolVar(&cfg.showVersion, "version", false, "Show the application version")
	set.StringVar(&cfg.configFile, "config", "", "Optional YAML file with the same settings as the flags")
	set.IntVar(&cfg.port, "port", 8765, "Port for the HTTP server (env PORT)")
	set.StringVar(&cfg.dbType, "db-type", "memory", "Database driver: memory, pgx (PostgreSQL) or mysql")
	set.StringVar(&cfg.dbPath, "db-path", "", "Snapshot file for the memory driver; empty keeps data in RAM only")
	set.StringVar(&cfg.databaseURL, "database-url", "", "Connection string for pgx or mysql (env DATABASE_URL)")
	set.StringVar(&cfg.redisURL, "redis-url", "", "Redis URL for the dashboard cache; empty disables caching (env REDIS_URL)")
	set.DurationVar(&cfg.sessionTTL, "session-ttl", 24*time.Hour, "Lifetime of login sessions")
	set.IntVar(&cfg.lowStock, "low-stock", 5, "Stock level at or below which a product counts as low on the dashboard")
	set.DurationVar(&cfg.lockTimeout, "lock-timeout", 5*time.Second, "Row lock wait bound for the memory driver")
	set.IntVar(&cfg.authRate, "auth-rate", 20, "Login and register attempts allowed per client IP per minute; 0 disables")

	if err := set.Parse(args); err != nil {
		return Config{}, nil, err
	}
	explicit := make(map[string]bool)
	set.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	return cfg, explicit, nil
}

// loadConfig merges sources: explicit flag, then YAML file, then environment, then flag default.
func loadConfig(args []string, getenv func(string) string) (Config, error) {
	cfg, explicit, err := parseFlags(args)
	if err != nil {
		return Config{}, err
	}

	if port := getenv("PORT"); port != "" && !explicit["port"] {
		if _, err := fmt.Sscanf(port, "%d", &cfg.port); err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
	}
	if url := getenv("DATABASE_URL"); url != "" && !explicit["database-url"] {
		cfg.databaseURL = url
	}
	if url := getenv("REDIS_URL"); url != "" && !explicit["redis-url"] {
		cfg.redisURL = url
	}

	if cfg.configFile != "" {
		file, err := readConfigFile(cfg.configFile)
		if err != nil {
			return Config{}, err
		}
		file.apply(&cfg, explicit)
	}

	if cfg.port < 0 || cfg.port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", cfg.port)
	}
	return cfg, nil
}

func readConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return file, nil
}

func (f fileConfig) apply(cfg *Config, explicit map[string]bool) {
	if f.Port != nil && !explicit["port"] {
		cfg.port = *f.Port
	}
	if f.DBType != nil && !explicit["db-type"] {
		cfg.dbType = *f.DBType
	}
	if f.DBPath != nil && !explicit["db-path"] {
		cfg.dbPath = *f.DBPath
	}
	if f.DatabaseURL != nil && !explicit["database-url"] {
		cfg.databaseURL = *f.DatabaseURL
	}
	if f.RedisURL != nil && !explicit["redis-url"] {
		cfg.redisURL = *f.RedisURL
	}
	if f.SessionTTL != nil && !explicit["session-ttl"] {
		cfg.sessionTTL = *f.SessionTTL
	}
	if f.LowStock != nil && !explicit["low-stock"] {
		cfg.lowStock = *f.LowStock
	}
	if f.LockTimeout != nil && !explicit["lock-timeout"] {
		cfg.lockTimeout = *f.LockTimeout
	}
	if f.AuthRate != nil && !explicit["auth-rate"] {
		cfg.authRate = *f.AuthRate
	}
}
