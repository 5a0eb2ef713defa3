package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	AuthToken  string `mapstructure:"auth_token"`
	CORSOrigin string `mapstructure:"cors_origin"`

	Engine engineConfig `mapstructure:"engine"`
	Feed   feedConfig   `mapstructure:"feed"`
}

type engineConfig struct {
	PriceScale    uint8 `mapstructure:"price_scale"`
	TickSize      int64 `mapstructure:"tick_size"`
	MaxDepth      int   `mapstructure:"max_depth"`
	CommandBuffer int   `mapstructure:"command_buffer"`
	EventBuffer   int   `mapstructure:"event_buffer"`
	UpdateBuffer  int   `mapstructure:"update_buffer"`
}

type feedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// loadConfig reads config/matchbook.yaml when present and overlays
// MATCHBOOK_* environment variables (MATCHBOOK_ENGINE_PRICE_SCALE and so on).
func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigName("matchbook")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MATCHBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("engine.price_scale", 2)
	v.SetDefault("engine.tick_size", 0)
	v.SetDefault("engine.max_depth", 0)
	v.SetDefault("engine.command_buffer", 1024)
	v.SetDefault("engine.event_buffer", 4096)
	v.SetDefault("engine.update_buffer", 16)
	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.brokers", []string{"localhost:9092"})
	v.SetDefault("feed.topic", "matchbook.events")
	v.SetDefault("feed.batch_timeout", 10*time.Millisecond)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
