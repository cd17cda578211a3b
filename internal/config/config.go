package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/shotlog/config.yaml"}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config contains runtime configuration required by the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Query    QueryConfig    `koanf:"query"`
	Hub      HubConfig      `koanf:"hub"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver     string `koanf:"driver" validate:"oneof=postgres badger"`
	DBURL      string `koanf:"db_url" validate:"required_if=Driver postgres"`
	BadgerPath string `koanf:"badger_path" validate:"required_if=Driver badger"`
}

type IngestConfig struct {
	// DayOffset is added to UTC before truncating to a date when bucketing day sequences.
	DayOffset time.Duration `koanf:"day_offset" validate:"gte=-14h,lte=14h"`
	// RateLimit is requests per minute per client IP on ingest routes; 0 disables.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`
}

type QueryConfig struct {
	DefaultLimit int `koanf:"default_limit" validate:"gte=1,ltefield=MaxLimit"`
	MaxLimit     int `koanf:"max_limit" validate:"gte=1"`
}

type HubConfig struct {
	Name             string `koanf:"name" validate:"required"`
	MailboxSize      int    `koanf:"mailbox_size" validate:"gte=1"`
	SubscriberBuffer int    `koanf:"subscriber_buffer" validate:"gte=1"`
}

type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject" validate:"required_with=URL"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

type SecurityConfig struct {
	// APIKey is the pre-shared key the device sends via X-API-Key or ?key=.
	APIKey         string   `koanf:"api_key"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverPostgres,
			BadgerPath: "/data/shotlog",
		},
		Ingest: IngestConfig{
			DayOffset: 7 * time.Hour,
			RateLimit: 600,
		},
		Query: QueryConfig{
			DefaultLimit: 200,
			MaxLimit:     300,
		},
		Hub: HubConfig{
			Name:             "global",
			MailboxSize:      256,
			SubscriberBuffer: 64,
		},
		NATS: NATSConfig{
			Subject: "shotlog.shots",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{
				"https://shotlog.barista-homelife.cloud",
				"http://localhost:8787",
				"http://127.0.0.1:8787",
			},
		},
	}
}

// envMappings maps flat environment variable names to koanf paths.
var envMappings = map[string]string{
	"http_addr":             "server.addr",
	"shutdown_timeout":      "server.shutdown_timeout",
	"store_driver":          "store.driver",
	"db_url":                "store.db_url",
	"badger_path":           "store.badger_path",
	"day_offset":            "ingest.day_offset",
	"ingest_rate_limit":     "ingest.rate_limit",
	"query_default_limit":   "query.default_limit",
	"query_max_limit":       "query.max_limit",
	"hub_name":              "hub.name",
	"hub_mailbox_size":      "hub.mailbox_size",
	"hub_subscriber_buffer": "hub.subscriber_buffer",
	"nats_url":              "nats.url",
	"nats_subject":          "nats.subject",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
	"api_key":               "security.api_key",
	"allowed_origins":       "security.allowed_origins",
}

// sliceConfigPaths hold comma-separated values when they come from env.
var sliceConfigPaths = []string{"security.allowed_origins"}

// Load reads defaults, then an optional YAML file, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.TrimSpace(c.Security.APIKey) == "" {
		return errors.New("API_KEY required")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform returns "" for unmapped variables so koanf skips them.
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
