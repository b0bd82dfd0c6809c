// Package config loads server settings from defaults, an optional YAML file
// and QUANTSIM_* environment variables, in that precedence order.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"quantsim/services/engine"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Server      ServerConfig     `mapstructure:"server"`
	Engine      EngineConfig     `mapstructure:"engine"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig bounds the job machinery: Workers is the simulation pool size
// (0 picks the CPU count), QueueDepth the number of queued jobs accepted
// before the API pushes back.
type EngineConfig struct {
	Workers        int     `mapstructure:"workers"`
	QueueDepth     int     `mapstructure:"queue_depth"`
	DefaultCapital float64 `mapstructure:"default_capital"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
}

// ClickHouseConfig covers both transports: Addr for the native protocol,
// HTTPURL for JSONEachRow batch inserts.
type ClickHouseConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Database  string `mapstructure:"database"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	HTTPURL   string `mapstructure:"http_url"`
	BatchSize int    `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.queue_depth", 64)
	v.SetDefault("engine.default_capital", 10000)
	v.SetDefault("engine.risk_free_rate", 0)
	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "quantsim")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.http_url", "http://localhost:8123")
	v.SetDefault("clickhouse.batch_size", 500)
}

// Load reads configuration. An empty path searches for config.yaml in the
// working directory and ./config and tolerates its absence; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, engine.NewConfigError("read config %s: %v", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, engine.NewConfigError("read config: %v", err)
			}
		}
	}

	v.SetEnvPrefix("QUANTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engine.NewConfigError("unmarshal config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return engine.NewConfigError("logging level %q not one of debug/info/warn/error", c.Logging.Level)
	}
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return engine.NewConfigError("http port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return engine.NewConfigError("grpc port %d out of range", c.Server.GRPCPort)
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		return engine.NewConfigError("http and grpc ports collide on %d", c.Server.HTTPPort)
	}
	if c.Engine.Workers < 0 {
		return engine.NewConfigError("workers must be non-negative, got %d", c.Engine.Workers)
	}
	if c.Engine.QueueDepth < 1 {
		return engine.NewConfigError("queue depth must be positive, got %d", c.Engine.QueueDepth)
	}
	if c.Engine.DefaultCapital <= 0 {
		return engine.NewConfigError("default capital must be positive, got %v", c.Engine.DefaultCapital)
	}
	if c.ClickHouse.Enabled {
		if c.ClickHouse.Addr == "" || c.ClickHouse.Database == "" {
			return engine.NewConfigError("clickhouse enabled but addr or database missing")
		}
		if c.ClickHouse.BatchSize < 1 {
			return engine.NewConfigError("clickhouse batch size must be positive, got %d", c.ClickHouse.BatchSize)
		}
	}
	return nil
}
