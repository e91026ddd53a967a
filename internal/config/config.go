// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
	Calculator Calculator `yaml:"calculator"`
	Storage    Storage    `yaml:"storage"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	CORS       CORS       `yaml:"cors"`
	UI         UI         `yaml:"ui"`
}

type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" validate:"gte=0"`
}

type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type Calculator struct {
	HistoryLimit int `yaml:"history_limit" validate:"gte=1,lte=10000"`

	// MaxOperandLength caps typed operands; 0 disables the cap.
	MaxOperandLength int `yaml:"max_operand_length" validate:"gte=0,lte=64"`

	// MaxSessions caps live sessions and SessionIdleTimeout evicts unused ones.
	// Zero disables either.
	MaxSessions        int           `yaml:"max_sessions" validate:"gte=0"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" validate:"gte=0"`
}

type Storage struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver sqlite"`
}

type Telemetry struct {
	Traces  string `yaml:"traces" validate:"oneof=otlp stdout none"`
	Metrics string `yaml:"metrics" validate:"oneof=otlp none"`
	Logs    string `yaml:"logs" validate:"oneof=otlp none"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type UI struct {
	DefaultTheme string `yaml:"default_theme" validate:"oneof=light dark"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			RateLimitRPS:    0,
			RateLimitBurst:  20,
		},
		Log: Log{Level: "info"},
		Calculator: Calculator{
			HistoryLimit:       50,
			MaxOperandLength:   10,
			MaxSessions:        10000,
			SessionIdleTimeout: 30 * time.Minute,
		},
		Storage: Storage{
			Driver: "memory",
			DSN:    "data/calculator.db",
		},
		Telemetry: Telemetry{
			Traces:  "otlp",
			Metrics: "otlp",
			Logs:    "none",
		},
		CORS: CORS{AllowedOrigins: []string{"http://localhost:3000"}},
		UI:   UI{DefaultTheme: "light"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration. path may be empty, in which case CONFIG_FILE
// is consulted; a missing file named by CONFIG_FILE is an error, a missing
// default file is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if !explicit {
		path = "config.yaml"
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("STORAGE_DSN", c.Storage.DSN)
	c.Telemetry.Traces = getEnv("TRACES_EXPORTER", c.Telemetry.Traces)
	c.Telemetry.Metrics = getEnv("METRICS_EXPORTER", c.Telemetry.Metrics)
	c.Telemetry.Logs = getEnv("LOGS_EXPORTER", c.Telemetry.Logs)
	c.UI.DefaultTheme = getEnv("DEFAULT_THEME", c.UI.DefaultTheme)

	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = splitList(v)
	}

	var err error
	if c.Log.Development, err = getEnvBool("LOG_DEVELOPMENT", c.Log.Development); err != nil {
		return err
	}
	if c.Calculator.HistoryLimit, err = getEnvInt("HISTORY_LIMIT", c.Calculator.HistoryLimit); err != nil {
		return err
	}
	if c.Calculator.MaxOperandLength, err = getEnvInt("MAX_OPERAND_LENGTH", c.Calculator.MaxOperandLength); err != nil {
		return err
	}
	if c.Calculator.MaxSessions, err = getEnvInt("MAX_SESSIONS", c.Calculator.MaxSessions); err != nil {
		return err
	}
	if c.Calculator.SessionIdleTimeout, err = getEnvDuration("SESSION_IDLE_TIMEOUT", c.Calculator.SessionIdleTimeout); err != nil {
		return err
	}
	if c.Server.RateLimitRPS, err = getEnvFloat("RATE_LIMIT_RPS", c.Server.RateLimitRPS); err != nil {
		return err
	}
	if c.Server.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	var verrs validator.ValidationErrors
	if err := validate.Struct(c); err != nil {
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
