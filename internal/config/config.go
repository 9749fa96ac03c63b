package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flexprice/invoicetree/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment     DeploymentConfig     `validate:"required"`
	Logging        LoggingConfig        `validate:"required"`
	Reconciliation ReconciliationConfig `validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// ReconciliationConfig controls engine-wide defaults for a reconciliation pass.
type ReconciliationConfig struct {
	// DefaultCurrency is assumed when input items omit a currency code.
	DefaultCurrency string
	// PrettyPrintTrees enables dumping per-subscription item trees to the
	// logs after each pass. Debug aid only.
	PrettyPrintTrees bool
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/invoicetree")

	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("reconciliation.defaultcurrency", "USD")
	v.SetDefault("reconciliation.prettyprinttrees", false)

	v.SetEnvPrefix("INVOICETREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Logging.Level.Validate()
}

// GetDefaultConfig returns a sane configuration for local development and tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelInfo},
		Reconciliation: ReconciliationConfig{
			DefaultCurrency:  "USD",
			PrettyPrintTrees: false,
		},
	}
}
