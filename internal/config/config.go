// Package config loads the bot's settings from defaults, an optional YAML
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// Database drivers.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"
)

// Pub/sub drivers.
const (
	PubSubMQTT  = "mqtt"
	PubSubRedis = "redis"
)

// Task queue drivers.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config captures everything needed to run the bot.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Timezone names the IANA zone that decides what "today" is. Empty means
	// the process's local zone.
	Timezone string `yaml:"timezone"`
}

// TelegramConfig controls the chat transport.
type TelegramConfig struct {
	Token       string        `yaml:"token"`
	ChatID      int64         `yaml:"chatID"`
	SurveyDelay time.Duration `yaml:"surveyDelay"`
	PollTimeout int           `yaml:"pollTimeout"`
}

// PubSubConfig controls the broker connection.
type PubSubConfig struct {
	Driver   string `yaml:"driver"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientID"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	Topics TopicsConfig `yaml:"topics"`
}

// TopicsConfig names the broker topics.
type TopicsConfig struct {
	Bell    string `yaml:"bell"`
	Claimed string `yaml:"claimed"`
	Status  string `yaml:"status"`
}

// DatabaseConfig selects the ledger backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	File   string `yaml:"file"`
	URL    string `yaml:"url"`
	Debug  bool   `yaml:"debug"`
}

// WorkerConfig controls task processing.
type WorkerConfig struct {
	// Queue is memory or redis. The redis queue shares PubSub's Redis settings.
	Queue         string        `yaml:"queue"`
	Concurrency   int           `yaml:"concurrency"`
	QueueCapacity int           `yaml:"queueCapacity"`
	TaskTimeout   time.Duration `yaml:"taskTimeout"`
}

// ServerConfig controls the metrics listener and shutdown.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file, a .env file in the working
// directory and the environment. An empty path falls back to BELLBOT_CONFIG;
// if that is empty too, no file is read.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit .env path. A missing .env file is
// not an error. Variables already set in the environment win over the file.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if path == "" {
		path = os.Getenv("BELLBOT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Telegram: TelegramConfig{
			SurveyDelay: 15 * time.Minute,
			PollTimeout: 60,
		},
		PubSub: PubSubConfig{
			Driver: PubSubMQTT,
			Broker: "tcp://localhost:1883",
			Topics: TopicsConfig{
				Bell:    api.DefaultBellTopic,
				Claimed: api.DefaultClaimedTopic,
				Status:  api.DefaultStatusTopic,
			},
		},
		Database: DatabaseConfig{
			Driver: DatabaseSQLite,
			File:   "bellbot.db",
		},
		Worker: WorkerConfig{
			Queue:         QueueMemory,
			Concurrency:   2,
			QueueCapacity: 256,
			TaskTimeout:   30 * time.Second,
		},
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	if v := os.Getenv("TELEGRAM_SURVEY_DELAY"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_SURVEY_DELAY: %w", err)
		}
		cfg.Telegram.SurveyDelay = d
	}
	if v := os.Getenv("PUBSUB_DRIVER"); v != "" {
		cfg.PubSub.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.PubSub.Broker = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.PubSub.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.PubSub.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.PubSub.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.PubSub.RedisPassword = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_FILE"); v != "" {
		cfg.Database.File = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if os.Getenv("DB_DRIVER") == "" {
			cfg.Database.Driver = DatabasePostgres
		}
	}
	if v := os.Getenv("DB_DEBUG"); v != "" {
		cfg.Database.Debug = truthy(v)
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.Worker.Queue = strings.ToLower(v)
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.Logging.JSON = truthy(v)
	}
	if v := os.Getenv("TZ_NAME"); v != "" {
		cfg.Timezone = v
	}
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate reports every setting that would keep the bot from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required (TELEGRAM_TOKEN)"))
	}
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram chat id is required (TELEGRAM_CHAT_ID)"))
	}
	if c.Telegram.SurveyDelay <= 0 {
		errs = append(errs, fmt.Errorf("survey delay must be positive, got %s", c.Telegram.SurveyDelay))
	}

	switch c.PubSub.Driver {
	case PubSubMQTT:
		if c.PubSub.Broker == "" {
			errs = append(errs, errors.New("mqtt broker is required (MQTT_BROKER)"))
		}
	case PubSubRedis:
		if c.PubSub.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required (REDIS_ADDR)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pubsub driver %q", c.PubSub.Driver))
	}

	switch c.Database.Driver {
	case DatabaseSQLite:
		if c.Database.File == "" {
			errs = append(errs, errors.New("database file is required (DB_FILE)"))
		}
	case DatabasePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database url is required (DATABASE_URL)"))
		}
	case DatabaseMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	switch c.Worker.Queue {
	case QueueMemory:
	case QueueRedis:
		if c.PubSub.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis queue (REDIS_ADDR)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Worker.Queue))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
