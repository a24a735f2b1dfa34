package main

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/ringscan/internal/domain"
)

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("ringscan")
		viper.SetConfigType("yaml")
	}

	// RINGSCAN_DETECTION_FAN_THRESHOLD overrides detection.fan_threshold
	viper.SetEnvPrefix("RINGSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return setupLogging(viper.GetString("logging.level"), viper.GetString("logging.format"))
}

// loadConfig starts from the tier defaults and overlays the config file,
// environment and flags.
func loadConfig(v *viper.Viper) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	switch domain.Tier(v.GetString("tier")) {
	case domain.TierPro:
		cfg = domain.ProConfig()
	case domain.TierCommunity, "":
	default:
		return nil, fmt.Errorf("unknown tier: %s", v.GetString("tier"))
	}

	// Every key needs a default for environment overrides to be seen
	setDefaults(v, "", reflect.ValueOf(*cfg))

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, prefix+key+".", field)
			continue
		}
		v.SetDefault(prefix+key, field.Interface())
	}
}

func setupLogging(level, format string) error {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch format {
	case "json", "":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
