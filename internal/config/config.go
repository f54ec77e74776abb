package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

// Load reads config/config.<CONFIG_ENV>.yaml when present, then lets the
// environment override it. PORT is the only variable peers normally set.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 64*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)

	for key, envName := range map[string]string{
		"mode":        "MODE",
		"port":        "PORT",
		"log_level":   "LOG_LEVEL",
		"read_limit":  "READ_LIMIT",
		"ping_period": "PING_PERIOD",
		"pong_wait":   "PONG_WAIT",
		"write_wait":  "WRITE_WAIT",
		"send_buffer": "SEND_BUFFER",
	} {
		if err := v.BindEnv(key, envName); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", envName, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadLimit <= 0 || c.SendBuffer <= 0 {
		return errors.New("read_limit and send_buffer must be positive")
	}
	if c.PingPeriod <= 0 || c.PongWait <= 0 || c.WriteWait <= 0 {
		return errors.New("ping_period, pong_wait and write_wait must be positive")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period %s must be shorter than pong_wait %s", c.PingPeriod, c.PongWait)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured zerolog level, validated by Load.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
