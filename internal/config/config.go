package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/subledger/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Kafka      KafkaConfig
	PubSub     PubSubConfig   `mapstructure:"pubsub"`
	Outbox     OutboxConfig   `validate:"required"`
	Temporal   TemporalConfig `validate:"required"`
	Catalog    CatalogConfig
	Cache      CacheConfig
	Sentry     SentryConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string `validate:"required"`
	Port                   int    `validate:"required"`
	User                   string `validate:"required"`
	Password               string
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" default:"10"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" default:"60"`
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string `mapstructure:"consumer_group"`
	ClientID      string `mapstructure:"client_id"`
}

type PubSubConfig struct {
	Type  types.PubSubType `validate:"required"`
	Topic string           `validate:"required"`
}

// OutboxConfig controls how notifications leave the engine
type OutboxConfig struct {
	// AggregateSubscriptionEvents coalesces the bus notifications of one creation batch
	AggregateSubscriptionEvents bool `mapstructure:"aggregate_subscription_events"`

	Scheduler types.SchedulerType `validate:"required,oneof=postgres temporal"`
	Bus       types.BusType       `validate:"required,oneof=postgres direct"`

	RelayPollInterval time.Duration `mapstructure:"relay_poll_interval"`
	RelayBatchSize    int           `mapstructure:"relay_batch_size"`
	RelayMaxRetries   int           `mapstructure:"relay_max_retries"`
}

type TemporalConfig struct {
	Address   string
	Namespace string `validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
	// Workflow is the workflow type started for each scheduled notification
	Workflow string `validate:"required"`
}

type CatalogConfig struct {
	Path string
}

type CacheConfig struct {
	Enabled bool
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional, a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/subledger")

	v.SetEnvPrefix("SUBLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts, tests and other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "subledger",
			DBName:  "subledger",
			SSLMode: "disable",
		},
		PubSub: PubSubConfig{Type: types.MemoryPubSub, Topic: "subscription_events"},
		Outbox: OutboxConfig{
			Scheduler:         types.SchedulerPostgres,
			Bus:               types.BusPostgres,
			RelayPollInterval: 5 * time.Second,
			RelayBatchSize:    100,
			RelayMaxRetries:   3,
		},
		Cache: CacheConfig{Enabled: true},
		Temporal: TemporalConfig{
			Address:   "localhost:7233",
			Namespace: "default",
			TaskQueue: "subscription-notifications",
			Workflow:  "SubscriptionNotificationWorkflow",
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
