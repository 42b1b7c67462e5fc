// Package config loads runtime configuration the usual way: built-in
// defaults, then an optional YAML file, then CARDBRICK_* environment
// variables, then command-line flags, each layer overriding the last.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the runtime configuration for the reviewer.
type Config struct {
	// DataDir holds per-deck persistence state (logs, snapshots, media
	// cache), one subdirectory per deck.
	DataDir string `koanf:"data_dir" validate:"required"`
	// DecksDir is scanned for .apkg archives.
	DecksDir string `koanf:"decks_dir" validate:"required"`
	// DeckSource optionally names a git repository of deck archives to
	// clone or pull into DecksDir before loading.
	DeckSource string `koanf:"deck_source"`
	// QuotaBytes caps the total size of a deck's persistence directory.
	// Zero disables the cap. The replay log is never purged.
	QuotaBytes int64 `koanf:"quota_bytes" validate:"gte=0"`
	// EaseFloor is the lower bound on a card's ease factor.
	EaseFloor float64 `koanf:"ease_floor" validate:"gte=1,lte=2.5"`
	// LearningSteps is the fixed ladder for new cards.
	LearningSteps []time.Duration `koanf:"learning_steps" validate:"min=1"`
	// RelearnStep is the delay after a lapse.
	RelearnStep time.Duration `koanf:"relearn_step" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       "data",
		DecksDir:      "decks",
		QuotaBytes:    0,
		EaseFloor:     1.30,
		LearningSteps: []time.Duration{time.Minute, 10 * time.Minute},
		RelearnStep:   10 * time.Minute,
	}
}

// Load merges defaults, the optional YAML file at path, environment
// variables and the parsed flag set, then validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("CARDBRICK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CARDBRICK_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if flags != nil {
		// Flag names use dashes; config keys use underscores.
		p := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, interface{}) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load flag config: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
