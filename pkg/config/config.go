// Package config loads the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phenomenon0/polymarket-options-edge/pkg/logger"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
)

// Config is the daemon configuration.
type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr" default:":8090" validate:"required"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
	} `yaml:"http"`

	Logging logger.Config `yaml:"logging"`

	Estimator EstimatorConfig `yaml:"estimator"`

	Touch struct {
		// Nil uses the default keyword set; an empty list disables
		// touch detection.
		Keywords []string `yaml:"keywords"`
	} `yaml:"touch"`

	Deribit struct {
		BaseURL   string  `yaml:"base_url" default:"https://www.deribit.com" validate:"required,url"`
		Currency  string  `yaml:"currency" default:"BTC" validate:"required"`
		RateLimit float64 `yaml:"rate_limit" default:"5" validate:"gt=0"`
		Burst     int     `yaml:"burst" default:"5" validate:"gt=0"`
	} `yaml:"deribit"`

	Gamma struct {
		BaseURL   string  `yaml:"base_url" default:"https://gamma-api.polymarket.com" validate:"required,url"`
		RateLimit float64 `yaml:"rate_limit" default:"10" validate:"gt=0"`
		Burst     int     `yaml:"burst" default:"5" validate:"gt=0"`
	} `yaml:"gamma"`

	RefreshInterval time.Duration `yaml:"refresh_interval" default:"30s" validate:"min=1s"`

	Targets []Target `yaml:"targets" validate:"dive"`
}

// EstimatorConfig configures the probability models.
type EstimatorConfig struct {
	RiskFreeRate  *float64 `yaml:"risk_free_rate" default:"0.04"`
	Iterations    int      `yaml:"iterations" default:"50000" validate:"gt=0"`
	Workers       int      `yaml:"workers" validate:"gte=0"` // 0 = GOMAXPROCS
	Seed          uint64   `yaml:"seed"`                     // 0 = random per run
	DefaultModel  string   `yaml:"default_model" default:"closed_form"`
	VolMultiplier float64  `yaml:"vol_multiplier" default:"1" validate:"gt=0"`
}

// Rate returns the configured risk-free rate.
func (e EstimatorConfig) Rate() float64 {
	if e.RiskFreeRate == nil {
		return probability.DefaultRiskFreeRate
	}
	return *e.RiskFreeRate
}

// Model returns the parsed default model.
func (e EstimatorConfig) Model() probability.Model {
	m, err := probability.ParseModel(e.DefaultModel)
	if err != nil || m == "" {
		return probability.ModelClosedForm
	}
	return m
}

// Target is a Polymarket event to analyse.
type Target struct {
	EventSlug string   `yaml:"event_slug" validate:"required"`
	Markets   []string `yaml:"markets"` // market slugs to keep; empty keeps all

	// Per-target overrides
	Threshold     float64 `yaml:"threshold" validate:"gte=0"`
	Model         string  `yaml:"model"`
	VolMultiplier float64 `yaml:"vol_multiplier" validate:"gte=0"`
}

// Environment variables that override file values.
const (
	EnvHTTPAddr       = "EDGED_HTTP_ADDR"
	EnvLogLevel       = "EDGED_LOG_LEVEL"
	EnvDeribitBaseURL = "DERIBIT_BASE_URL"
	EnvGammaBaseURL   = "GAMMA_BASE_URL"
)

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path loads defaults only.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvDeribitBaseURL); v != "" {
		c.Deribit.BaseURL = v
	}
	if v := os.Getenv(EnvGammaBaseURL); v != "" {
		c.Gamma.BaseURL = v
	}
}

// Validate checks struct tags and model names.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := probability.ParseModel(c.Estimator.DefaultModel); err != nil {
		return fmt.Errorf("estimator.default_model: %w", err)
	}
	for i, t := range c.Targets {
		if _, err := probability.ParseModel(t.Model); err != nil {
			return fmt.Errorf("targets[%d].model: %w", i, err)
		}
	}
	return nil
}
