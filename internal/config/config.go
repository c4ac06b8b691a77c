package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "JAYCMD"

// Config holds the shell settings.
type Config struct {
	Prompt      string      `envconfig:"PROMPT" default:"JAY-CMD $ " json:"prompt" validate:"required"`
	MaxJobs     int         `envconfig:"MAX_JOBS" default:"20" json:"max_jobs" validate:"gte=1,lte=4096"`
	HistorySize int         `envconfig:"HISTORY_SIZE" default:"20" json:"history_size" validate:"gte=1"`
	OutputMode  os.FileMode `envconfig:"OUTPUT_MODE" default:"0644" json:"output_mode" validate:"gt=0,lte=511"`
	Log         LogConfig   `json:"log"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `envconfig:"LEVEL" default:"info" json:"level" validate:"oneof=debug info warn error"`
	File  string `envconfig:"FILE" json:"file"`
}

// Validate the configuration for basic semantic errors.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})

	return validate.Struct(c)
}

// Load reads defaults and JAYCMD_* environment variables, then the YAML
// file at path if one is given. Values from the file win.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prompt:      "JAY-CMD $ ",
		MaxJobs:     20,
		HistorySize: 20,
		OutputMode:  0644,
		Log: LogConfig{
			Level: "info",
		},
	}
}
