// Package config loads the alarm engine configuration from a YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and source kinds.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	RulesPostgres = "postgres"
	RulesFile     = "file"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Store    string         `yaml:"store"`
	Rules    RulesConfig    `yaml:"rules"`
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type RulesConfig struct {
	Source         string        `yaml:"source"`
	File           string        `yaml:"file"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

type EngineConfig struct {
	Workers                int           `yaml:"workers"`
	QueueSize              int           `yaml:"queue_size"`
	AttributeFetchTimeout  time.Duration `yaml:"attribute_fetch_timeout"`
	RetryAttempts          int           `yaml:"retry_attempts"`
	RetryBackoff           time.Duration `yaml:"retry_backoff"`
	HousekeepingInterval   time.Duration `yaml:"housekeeping_interval"`
	DurationSchedulePolicy string        `yaml:"duration_schedule_policy"`
}

type CacheConfig struct {
	Kind          string        `yaml:"kind"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPrefix  string `yaml:"topic_prefix"`
	InboundTopic string `yaml:"inbound_topic"`
	QoS          byte   `yaml:"qos"`
}

type WebhookConfig struct {
	URL          string        `yaml:"url"`
	Template     string        `yaml:"template"`
	Cooldown     time.Duration `yaml:"cooldown"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	Timeout      time.Duration `yaml:"timeout"`
	Secret       string        `yaml:"secret"`
}

type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	IngestSecret      string `yaml:"ingest_secret"`
	IngestSkewSeconds int    `yaml:"ingest_skew_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:  HTTPConfig{Addr: ":8080"},
		Store: StorePostgres,
		Rules: RulesConfig{Source: RulesPostgres, ReloadInterval: time.Minute},
		Engine: EngineConfig{
			Workers:                8,
			QueueSize:              1024,
			AttributeFetchTimeout:  2 * time.Second,
			RetryAttempts:          3,
			RetryBackoff:           200 * time.Millisecond,
			HousekeepingInterval:   time.Second,
			DurationSchedulePolicy: "accumulate",
		},
		Cache:   CacheConfig{Kind: CacheNone, TTL: 30 * time.Second},
		MQTT:    MQTTConfig{ClientID: "alarm-engine", TopicPrefix: "alarms", QoS: 1},
		Webhook: WebhookConfig{Timeout: 5 * time.Second},
		Auth:    AuthConfig{IngestSkewSeconds: 300},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path, when set, over the defaults and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("ALARM_ENGINE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getenvDefault("HTTP_ADDR", c.HTTP.Addr)
	c.Database.DSN = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", c.Database.DSN))
	c.Store = getenvDefault("ALARM_STORE", c.Store)
	c.Rules.Source = getenvDefault("ALARM_RULES_SOURCE", c.Rules.Source)
	c.Rules.File = getenvDefault("ALARM_RULES_FILE", c.Rules.File)
	c.Rules.ReloadInterval = getenvDuration("ALARM_RULES_RELOAD_INTERVAL", c.Rules.ReloadInterval)
	c.Engine.Workers = getenvIntDefault("ALARM_ENGINE_WORKERS", c.Engine.Workers)
	c.Engine.QueueSize = getenvIntDefault("ALARM_ENGINE_QUEUE_SIZE", c.Engine.QueueSize)
	c.Engine.AttributeFetchTimeout = getenvDuration("ALARM_ATTRIBUTE_FETCH_TIMEOUT", c.Engine.AttributeFetchTimeout)
	c.Engine.RetryAttempts = getenvIntDefault("ALARM_RETRY_ATTEMPTS", c.Engine.RetryAttempts)
	c.Engine.RetryBackoff = getenvDuration("ALARM_RETRY_BACKOFF", c.Engine.RetryBackoff)
	c.Engine.HousekeepingInterval = getenvDuration("ALARM_HOUSEKEEPING_INTERVAL", c.Engine.HousekeepingInterval)
	c.Engine.DurationSchedulePolicy = getenvDefault("ALARM_DURATION_SCHEDULE_POLICY", c.Engine.DurationSchedulePolicy)
	c.Cache.Kind = getenvDefault("ALARM_CACHE", c.Cache.Kind)
	c.Cache.TTL = getenvDuration("ALARM_CACHE_TTL", c.Cache.TTL)
	c.Cache.RedisAddr = getenvDefault("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getenvDefault("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getenvIntDefault("REDIS_DB", c.Cache.RedisDB)
	c.MQTT.Broker = getenvDefault("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getenvDefault("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenvDefault("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.MQTT.InboundTopic = getenvDefault("MQTT_INBOUND_TOPIC", c.MQTT.InboundTopic)
	c.Webhook.URL = getenvDefault("ALARM_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Template = getenvDefault("ALARM_NOTIFY_TEMPLATE", c.Webhook.Template)
	c.Webhook.Cooldown = getenvDuration("ALARM_NOTIFY_COOLDOWN", c.Webhook.Cooldown)
	c.Webhook.DedupeWindow = getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", c.Webhook.DedupeWindow)
	c.Webhook.Timeout = getenvDuration("ALARM_NOTIFY_TIMEOUT", c.Webhook.Timeout)
	c.Webhook.Secret = getenvDefault("ALARM_WEBHOOK_SECRET", c.Webhook.Secret)
	c.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", c.Auth.JWTSecret))
	c.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", c.Auth.IngestSecret)
	c.Auth.IngestSkewSeconds = getenvIntDefault("INGEST_MAX_SKEW_SECONDS", c.Auth.IngestSkewSeconds)
	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration for the selected components.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("config: DATABASE_URL or database.dsn is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}
	switch c.Rules.Source {
	case RulesPostgres:
		if c.Store != StorePostgres {
			errs = append(errs, errors.New("config: postgres rules need the postgres store"))
		}
	case RulesFile:
		if c.Rules.File == "" {
			errs = append(errs, errors.New("config: rules.file is required for file rules"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown rules source %q", c.Rules.Source))
	}
	switch strings.ToLower(c.Engine.DurationSchedulePolicy) {
	case "accumulate", "pause":
	default:
		errs = append(errs, fmt.Errorf("config: unknown duration schedule policy %q", c.Engine.DurationSchedulePolicy))
	}
	if c.Engine.Workers <= 0 || c.Engine.QueueSize <= 0 {
		errs = append(errs, errors.New("config: engine workers and queue size must be positive"))
	}
	if c.Engine.RetryAttempts <= 0 {
		errs = append(errs, errors.New("config: engine retry attempts must be positive"))
	}
	switch c.Cache.Kind {
	case CacheNone, CacheMemory, "":
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("config: cache.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown cache %q", c.Cache.Kind))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("config: invalid mqtt qos %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
