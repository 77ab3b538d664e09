package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting the command reads. Field names map to the
// YAML keys, the ADAMANTIUM_* environment variables and the flag names.
type Config struct {
	Workers     int    `mapstructure:"workers"`
	DryRun      bool   `mapstructure:"dry-run"`
	Notify      bool   `mapstructure:"notify"`
	JSON        bool   `mapstructure:"json"`
	PreserveICC bool   `mapstructure:"preserve-icc"`
	NoProgress  bool   `mapstructure:"no-progress"`
	Verbose     bool   `mapstructure:"verbose"`
	NoColor     bool   `mapstructure:"no-color"`
	LogFile     string `mapstructure:"log-file"`
}

const envPrefix = "ADAMANTIUM"

// Keys lists every configuration key.
var Keys = []string{
	"workers", "dry-run", "notify", "json", "preserve-icc",
	"no-progress", "verbose", "no-color", "log-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("dry-run", false)
	v.SetDefault("notify", false)
	v.SetDefault("json", false)
	v.SetDefault("preserve-icc", false)
	v.SetDefault("no-progress", false)
	v.SetDefault("verbose", false)
	v.SetDefault("no-color", false)
	v.SetDefault("log-file", "")
}

// Load merges defaults, the config file, the environment and flags, in
// increasing precedence. An explicit path must exist; otherwise the user
// config directory is searched and a missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range searchDirs() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for _, key := range Keys {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	return cfg, nil
}

func searchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "adamantium"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "adamantium"))
	}
	return dirs
}
