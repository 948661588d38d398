// Package config loads folofix settings from flags, environment and an
// optional config file, all merged by viper.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Validatable interface {
	Validate() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(c any) error {
	return validate.Struct(c)
}

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Dirs      DirsConfig      `mapstructure:"dirs"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

func (c Config) Validate() error {
	return validateConfig(c)
}

func Load[T Validatable]() (T, error) {
	var out T
	if err := viper.Unmarshal(&out); err != nil {
		return out, fmt.Errorf("unable to decode config, %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("invalid config, %w", err)
	}
	return out, nil
}
