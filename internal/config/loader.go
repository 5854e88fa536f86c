package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/db"
	"github.com/rpattn/segmentql/internal/filter"
)

// EnvPrefix prefixes every environment override, e.g. SEGMENTQL_DATABASE_HOST.
const EnvPrefix = "SEGMENTQL"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Collector    CollectorConfig
	Segmentation SegmentationConfig
	Export       ExportConfig
	Log          LogConfig
}

type DatabaseConfig struct {
	Driver   string
	SeedPath string
	DB       db.Config
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type CollectorConfig struct {
	PageSize          int
	Concurrency       int
	MaxRetries        int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
	SessionIdle       time.Duration
}

// Options converts the settings into collector options.
func (c CollectorConfig) Options() []collector.Option {
	opts := []collector.Option{
		collector.WithPageSize(c.PageSize),
		collector.WithConcurrency(c.Concurrency),
		collector.WithMaxRetries(c.MaxRetries),
		collector.WithRetryBackoff(c.RetryBackoff),
	}
	if c.RequestsPerSecond > 0 {
		opts = append(opts, collector.WithRequestsPerSecond(c.RequestsPerSecond))
	}
	return opts
}

type SegmentationConfig struct {
	EmptyExpression filter.EmptyPolicy
}

type ExportConfig struct {
	SheetName string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.seed_path", "")
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("collector.page_size", 1000)
	v.SetDefault("collector.concurrency", 4)
	v.SetDefault("collector.max_retries", 2)
	v.SetDefault("collector.retry_backoff", "200ms")
	v.SetDefault("collector.requests_per_second", 0)
	v.SetDefault("collector.session_idle", "15m")

	v.SetDefault("segmentation.empty_expression", "none")

	v.SetDefault("export.sheet_name", "Contacts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.yaml from configPath when present, then applies
// SEGMENTQL_* environment overrides on top of the defaults. A missing file is
// not an error.
func Load(configPath string) (Config, bool, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, false, fmt.Errorf("failed to read config: %w", err)
		}
		fileLoaded = false
	}

	cfg, err := fromViper(v)
	if err != nil {
		return Config{}, fileLoaded, err
	}
	return cfg, fileLoaded, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	driver := strings.ToLower(strings.TrimSpace(v.GetString("database.driver")))
	if driver != DriverPostgres && driver != DriverMemory {
		return Config{}, fmt.Errorf("unsupported database driver %q", driver)
	}

	empty, err := parseEmptyPolicy(v.GetString("segmentation.empty_expression"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Database: DatabaseConfig{
			Driver:   driver,
			SeedPath: v.GetString("database.seed_path"),
			DB: db.Config{
				Host:     v.GetString("database.host"),
				Port:     v.GetInt("database.port"),
				User:     v.GetString("database.user"),
				Password: v.GetString("database.password"),
				DBName:   v.GetString("database.dbname"),
				SSLMode:  v.GetString("database.sslmode"),
				MaxConns: v.GetInt32("database.max_conns"),
			},
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
		},
		Collector: CollectorConfig{
			PageSize:          v.GetInt("collector.page_size"),
			Concurrency:       v.GetInt("collector.concurrency"),
			MaxRetries:        v.GetInt("collector.max_retries"),
			RetryBackoff:      v.GetDuration("collector.retry_backoff"),
			RequestsPerSecond: v.GetFloat64("collector.requests_per_second"),
			SessionIdle:       v.GetDuration("collector.session_idle"),
		},
		Segmentation: SegmentationConfig{EmptyExpression: empty},
		Export:       ExportConfig{SheetName: v.GetString("export.sheet_name")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, nil
}

func parseEmptyPolicy(raw string) (filter.EmptyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "all":
		return filter.ParseEmptyPolicy(raw), nil
	}
	return 0, fmt.Errorf("segmentation.empty_expression must be all or none, got %q", raw)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
