package config

import (
	"errors"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the exchange server's configuration. Values come from
// config/{service}.yaml with environment overrides, e.g. SKOLL_SERVER_PORT
// overrides server.port.
type Config struct {
	Server struct {
		Address string `mapstructure:"address"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"server"`
	Metrics struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Faucet struct {
		// Units of each pair asset credited to a new account on first
		// submission. 0 disables the faucet.
		Amount uint64 `mapstructure:"amount"`
	} `mapstructure:"faucet"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 9001)
	v.SetDefault("metrics.address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("faucet.amount", 0)
}

// LoadAndWatch reads config/{service}.yaml, applies env overrides and keeps
// out updated on file changes. A missing config file is fine, defaults and
// environment carry it.
func LoadAndWatch(service string, out *Config) (*viper.Viper, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("skoll")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Info().Str("file", v.ConfigFileUsed()).Msg("config loaded")

	// Hot-reload only applies when a config file actually backs the viper.
	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := v.Unmarshal(out); err != nil {
				log.Error().Err(err).Str("file", e.Name).Msg("config reload failed")
				return
			}
			log.Info().Str("file", e.Name).Msg("config reloaded")
		})
	}

	return v, nil
}
