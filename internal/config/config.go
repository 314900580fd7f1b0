package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReplayConfig holds configuration for the replay command, loaded from flags,
// env, or config file.
type ReplayConfig struct {
	Ops               string
	Out               string
	Errors            string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         int
	PGDSN             string
	LogLevel          string
}

// LoadReplay merges config file, environment variables, and flags into
// ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v := newViper()

	v.SetDefault("out", "./data/events.jsonl")
	v.SetDefault("errors", "./data/replay_errors.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("batch-size", 200)
	v.SetDefault("log-level", "info")

	if err := readIn(v, cfgFile, flags); err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		Ops:               v.GetString("ops"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		BatchSize:         v.GetInt("batch-size"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// CheckConfig holds configuration for the check command.
type CheckConfig struct {
	In       string
	Out      string
	LogLevel string
}

// LoadCheck merges config file, environment variables, and flags into
// CheckConfig.
func LoadCheck(cfgFile string, flags *pflag.FlagSet) (CheckConfig, error) {
	v := newViper()

	v.SetDefault("out", "./data/orders.json")
	v.SetDefault("log-level", "info")

	if err := readIn(v, cfgFile, flags); err != nil {
		return CheckConfig{}, err
	}

	cfg := CheckConfig{
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}

// ExportConfig holds configuration for the export command.
type ExportConfig struct {
	In       string
	PGDSN    string
	LogLevel string
}

// LoadExport merges config file, environment variables, and flags into
// ExportConfig.
func LoadExport(cfgFile string, flags *pflag.FlagSet) (ExportConfig, error) {
	v := newViper()

	v.SetDefault("log-level", "info")

	if err := readIn(v, cfgFile, flags); err != nil {
		return ExportConfig{}, err
	}

	cfg := ExportConfig{
		In:       v.GetString("in"),
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RANGEORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func readIn(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
