// Package config loads the YAML run configuration of the modelling command.
package config

import (
	"os"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/YuminosukeSato/mlproject/registry"
	"github.com/YuminosukeSato/mlproject/tracking"
	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration. Zero values are filled from
// Default by Load.
type Config struct {
	Data     DataConfig             `yaml:"data"`
	Tracking TrackingConfig         `yaml:"tracking"`
	Output   OutputConfig           `yaml:"output"`
	LogLevel string                 `yaml:"log_level"`
	Models   map[string]ModelConfig `yaml:"models"`
}

// DataConfig locates the input CSV and names its special columns.
type DataConfig struct {
	Path         string `yaml:"path"`
	TargetColumn string `yaml:"target_column"`
	SplitColumn  string `yaml:"split_column"`
	TrainLabel   string `yaml:"train_label"`
	TestLabel    string `yaml:"test_label"`
}

// TrackingConfig selects the tracking store and experiment.
type TrackingConfig struct {
	URI        string `yaml:"uri"`
	Experiment string `yaml:"experiment"`
}

// OutputConfig controls the comparison files.
type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Chart bool   `yaml:"chart"`
}

// ModelConfig overrides one registry configuration.
type ModelConfig struct {
	Params map[string]interface{} `yaml:"params"`
	Scaler string                 `yaml:"scaler"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Path:         "Heart_Disease_preprocessing.csv",
			TargetColumn: "Heart Disease",
			SplitColumn:  "split",
			TrainLabel:   "train",
			TestLabel:    "test",
		},
		Tracking: TrackingConfig{
			URI:        tracking.DefaultURI,
			Experiment: "Heart_Disease_Classification",
		},
		Output:   OutputConfig{Dir: "."},
		LogLevel: "info",
	}
}

// Load reads path and fills unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// yaml.v3 leaves fields absent from the file untouched, but an explicit
// empty string still overwrites the default.
func (c *Config) fillDefaults() {
	def := Default()
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	set(&c.Data.Path, def.Data.Path)
	set(&c.Data.TargetColumn, def.Data.TargetColumn)
	set(&c.Data.SplitColumn, def.Data.SplitColumn)
	set(&c.Data.TrainLabel, def.Data.TrainLabel)
	set(&c.Data.TestLabel, def.Data.TestLabel)
	set(&c.Tracking.URI, def.Tracking.URI)
	set(&c.Tracking.Experiment, def.Tracking.Experiment)
	set(&c.Output.Dir, def.Output.Dir)
	set(&c.LogLevel, def.LogLevel)
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Data.TrainLabel == c.Data.TestLabel {
		return errors.NewValidationError("data.test_label", "must differ from train_label", c.Data.TestLabel)
	}
	if c.Data.TargetColumn == c.Data.SplitColumn {
		return errors.NewValidationError("data.split_column", "must differ from target_column", c.Data.SplitColumn)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.NewValidationError("log_level", "must be debug, info, warn or error", c.LogLevel)
	}
	known := registry.Names()
	for name := range c.Models {
		if name == registry.SelectAll || !contains(known, name) {
			return errors.NewUnknownModelError(name, known[1:])
		}
	}
	return nil
}

// Overrides converts the models section for registry.ApplyOverrides.
func (c *Config) Overrides() map[string]registry.Override {
	out := make(map[string]registry.Override, len(c.Models))
	for name, m := range c.Models {
		out[name] = registry.Override{Params: m.Params, Scaler: m.Scaler}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
