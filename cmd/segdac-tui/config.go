package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/statsrpc"
)

// tuiConfig holds only dashboard-relevant configuration.
type tuiConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	History        int           `mapstructure:"history"`
	SocketPath     string        `mapstructure:"socket-path"`
}

// loadTUIConfig reads the dashboard config. Every key can also come from
// the environment (SEGDAC_UPDATE_INTERVAL and friends), and a missing
// config file is fine: the dashboard runs on defaults alone.
func loadTUIConfig(path string) (tuiConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("SEGDAC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range map[string]any{
		"update-interval": run.DefaultUpdateInterval,
		"history":         run.DefaultHistory,
		"socket-path":     statsrpc.DefaultSocketPath(),
	} {
		v.SetDefault(key, value)
	}

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return tuiConfig{}, fmt.Errorf("finding home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "segdac", "config.yml")
	}
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	switch {
	case err == nil:
	case errors.As(err, new(viper.ConfigFileNotFoundError)), os.IsNotExist(err):
	default:
		return tuiConfig{}, err
	}

	var cfg tuiConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return tuiConfig{}, err
	}
	return cfg, nil
}
