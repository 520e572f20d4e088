// Package config loads service configuration from an optional YAML file
// and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atmx/energy-ledger/internal/pricing"
)

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LedgerConfig struct {
	Owner          string `mapstructure:"owner"`
	FeeBps         uint64 `mapstructure:"fee_bps"`
	MinTradeAmount uint64 `mapstructure:"min_trade_amount"`
	ExpiryWindow   uint64 `mapstructure:"expiry_window"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AppConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Env         string        `mapstructure:"env"`
	LogLevel    string        `mapstructure:"log_level"`
	MetricsPath string        `mapstructure:"metrics_path"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Ledger      LedgerConfig  `mapstructure:"ledger"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
}

// Load reads path (config.yaml when empty) if it exists, then applies
// LEDGER_* overrides, e.g. LEDGER_LEDGER_OWNER or LEDGER_HTTP_PORT.
// DATABASE_URL and REDIS_URL are also honored without the prefix.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database_url", "LEDGER_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "LEDGER_REDIS_URL", "REDIS_URL")

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma-separated brokers from the environment arrive as one element.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Ledger.Owner) == "" {
		return errors.New("config: ledger.owner is required")
	}
	if c.Ledger.FeeBps >= 10_000 {
		return fmt.Errorf("config: ledger.fee_bps %d must be below 10000", c.Ledger.FeeBps)
	}
	if c.Ledger.MinTradeAmount == 0 {
		return errors.New("config: ledger.min_trade_amount must be positive")
	}
	if c.Ledger.ExpiryWindow == 0 {
		return errors.New("config: ledger.expiry_window must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka.topic is required when brokers are set")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "energy-ledger")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("cache_ttl", "30s")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("ledger.owner", "")
	v.SetDefault("ledger.fee_bps", pricing.DefaultFeeBps)
	v.SetDefault("ledger.min_trade_amount", 1)
	v.SetDefault("ledger.expiry_window", 86_400)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ledger.events")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
