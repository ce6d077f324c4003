// Package config loads the node configuration: file based with SKYNET_*
// environment overrides, watchable for live environment-table updates.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the node configuration.
type Config struct {
	// Harbor is this node's id, encoded in the high bits of every handle.
	Harbor uint32 `mapstructure:"harbor"`
	// Workers sizes the dispatch pool.
	Workers int `mapstructure:"workers"`
	// Tick is the timer resolution.
	Tick time.Duration `mapstructure:"tick"`
	// Bootstrap is a launch line ("module args") executed at start.
	Bootstrap string `mapstructure:"bootstrap"`
	// DebugConsole is the listen address of the HTTP console; empty disables.
	DebugConsole string `mapstructure:"debug_console"`
	// Env seeds the runtime environment table.
	Env map[string]string `mapstructure:"env"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetDefault("harbor", 1)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("tick", 10*time.Millisecond)
	v.SetDefault("bootstrap", "")
	v.SetDefault("debug_console", "")

	v.SetEnvPrefix("SKYNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("skynet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/skynet")
	}
	return v
}

// LoadConfig reads the configuration; a missing file falls back to defaults
// unless an explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Harbor == 0 || cfg.Harbor > 0xff {
		return nil, fmt.Errorf("harbor id %d out of range [1, 255]", cfg.Harbor)
	}
	return &cfg, nil
}

// Watch re-reads the environment table when the config file changes on disk
// and hands it to onEnv.
func Watch(path string, onEnv func(env map[string]string)) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		onEnv(v.GetStringMapString("env"))
	})
	v.WatchConfig()
}
