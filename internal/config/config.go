package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Hub       HubConfig       `mapstructure:"hub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
	Debug    bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig backs the send idempotency cache. An empty URL keeps it in process.
type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type HubConfig struct {
	AckTimeout   time.Duration `mapstructure:"ack_timeout"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	ReadReceipts bool          `mapstructure:"read_receipts"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads configuration from defaults, an optional YAML file and CONVO_* environment
// variables, the latter taking precedence. A .env file in the working directory is
// loaded first when present.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("CONVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8083")
	v.SetDefault("server.grpc_addr", ":9083")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "conversation.events")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("hub.ack_timeout", 5*time.Second)
	v.SetDefault("hub.write_wait", 10*time.Second)
	v.SetDefault("hub.pong_wait", 60*time.Second)
	v.SetDefault("hub.send_buffer", 128)
	v.SetDefault("hub.read_receipts", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "conversation-service")
	v.SetDefault("telemetry.environment", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of postgres, memory", c.Database.Driver))
	}
	for name, d := range map[string]time.Duration{
		"hub.ack_timeout": c.Hub.AckTimeout,
		"hub.write_wait":  c.Hub.WriteWait,
		"hub.pong_wait":   c.Hub.PongWait,
		"auth.token_ttl":  c.Auth.TokenTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Hub.SendBuffer <= 0 {
		errs = append(errs, errors.New("hub.send_buffer must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
