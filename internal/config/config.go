// Package config loads the driver intake settings from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"driver_intake/internal/extract"
	"driver_intake/internal/intake"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
	"driver_intake/internal/whatsapp"
)

// DefaultPath is the config file looked up when no --config flag is given.
const DefaultPath = "driver-intake.yaml"

// Backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config holds all driver intake settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Workbook WorkbookConfig `yaml:"workbook"`
	Counter  CounterConfig  `yaml:"counter"`
	State    StateConfig    `yaml:"state"`
	Redis    RedisConfig    `yaml:"redis"`
	Report   ReportConfig   `yaml:"report"`

	// Timezone is used for RegisteredAt stamps and report days.
	Timezone string `yaml:"timezone"`
	// UnknownPolicy is one of incomplete, others or hold.
	UnknownPolicy string `yaml:"unknown_policy"`
	// Categories and Milestones replace the built-in tables when set.
	Categories []extract.CategoryRule `yaml:"categories"`
	Milestones map[int]string         `yaml:"milestones"`

	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// WorkbookConfig points at the .xlsx file.
type WorkbookConfig struct {
	Path string `yaml:"path"`
}

// CounterConfig configures the registration counter.
type CounterConfig struct {
	Backend string `yaml:"backend"` // file or redis
	Path    string `yaml:"path"`
	// Strict makes a corrupt counter file an error instead of a zero.
	Strict bool   `yaml:"strict"`
	Key    string `yaml:"key"`
}

// StateConfig selects the conversation store.
type StateConfig struct {
	Backend string `yaml:"backend"` // memory or redis
}

// RedisConfig is shared by the Redis conversation store and counter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ReportConfig configures the daily report.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8050"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Workbook: WorkbookConfig{Path: "drivers.xlsx"},
		Counter: CounterConfig{
			Backend: BackendFile,
			Path:    "counter.txt",
			Key:     "intake:counter",
		},
		State:         StateConfig{Backend: BackendMemory},
		Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "intake"},
		Report:        ReportConfig{Dir: "reports"},
		Timezone:      "America/Sao_Paulo",
		UnknownPolicy: string(intake.UnknownIncomplete),
		WhatsApp:      whatsapp.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w: %w", path, registration.ErrConfig, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w: %w", path, registration.ErrConfig, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Port = getEnv("INTAKE_PORT", c.Server.Port)
	c.Logging.Level = getEnv("INTAKE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("INTAKE_LOG_FORMAT", c.Logging.Format)
	c.Workbook.Path = getEnv("INTAKE_WORKBOOK", c.Workbook.Path)
	c.Timezone = getEnv("INTAKE_TIMEZONE", c.Timezone)
	c.UnknownPolicy = getEnv("INTAKE_UNKNOWN_POLICY", c.UnknownPolicy)
	c.Report.Dir = getEnv("INTAKE_REPORT_DIR", c.Report.Dir)

	c.Counter.Backend = getEnv("INTAKE_COUNTER_BACKEND", c.Counter.Backend)
	c.Counter.Path = getEnv("INTAKE_COUNTER_PATH", c.Counter.Path)
	c.Counter.Strict = getEnvAsBool("INTAKE_COUNTER_STRICT", c.Counter.Strict)

	c.State.Backend = getEnv("INTAKE_STATE_BACKEND", c.State.Backend)
	c.Redis.Addr = getEnv("INTAKE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("INTAKE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("INTAKE_REDIS_DB", c.Redis.DB)
	c.Redis.Prefix = getEnv("INTAKE_REDIS_PREFIX", c.Redis.Prefix)

	c.WhatsApp.DebuggerURL = getEnv("INTAKE_WHATSAPP_DEBUGGER_URL", c.WhatsApp.DebuggerURL)
	c.WhatsApp.UserDataDir = getEnv("INTAKE_WHATSAPP_USER_DATA_DIR", c.WhatsApp.UserDataDir)
	c.WhatsApp.Headless = getEnvAsBool("INTAKE_WHATSAPP_HEADLESS", c.WhatsApp.Headless)
	c.WhatsApp.PollInterval = getEnvAsDuration("INTAKE_WHATSAPP_POLL_INTERVAL", c.WhatsApp.PollInterval)
}

// Validate checks the settings and normalizes the category names. Every
// failure wraps registration.ErrConfig.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return configError("server.port is required")
	}
	if c.Workbook.Path == "" {
		return configError("workbook.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := intake.ParseUnknownPolicy(c.UnknownPolicy); err != nil {
		return err
	}

	switch c.State.Backend {
	case BackendMemory, BackendRedis:
	default:
		return configError("state.backend must be memory or redis, got %q", c.State.Backend)
	}
	switch c.Counter.Backend {
	case BackendFile:
		if c.Counter.Path == "" {
			return configError("counter.path is required for the file backend")
		}
	case BackendRedis:
	default:
		return configError("counter.backend must be file or redis, got %q", c.Counter.Backend)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return configError("redis.addr is required when a redis backend is selected")
	}

	for threshold := range c.Milestones {
		if threshold <= 0 {
			return configError("milestone thresholds must be positive, got %d", threshold)
		}
	}

	for i, rule := range c.Categories {
		category := registration.ParseCategory(string(rule.Category))
		if category == registration.CategoryUnknown {
			return configError("categories[%d]: unknown category %q", i, rule.Category)
		}
		if len(rule.Keywords) == 0 {
			return configError("categories[%d]: %s has no keywords", i, category)
		}
		c.Categories[i].Category = category
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.State.Backend == BackendRedis || c.Counter.Backend == BackendRedis
}

// Location resolves Timezone. Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w: %w", c.Timezone, registration.ErrConfig, err)
	}
	return loc, nil
}

// Policy returns the parsed unknown-category policy.
func (c *Config) Policy() intake.UnknownPolicy {
	p, err := intake.ParseUnknownPolicy(c.UnknownPolicy)
	if err != nil {
		return intake.UnknownIncomplete
	}
	return p
}

// MilestoneTable returns the configured thresholds, or the defaults when none are set.
func (c *Config) MilestoneTable() milestone.Table {
	if len(c.Milestones) == 0 {
		return milestone.DefaultTable()
	}
	return milestone.Table(c.Milestones)
}

// CategoryRules returns the configured rules, or the defaults when none are set.
func (c *Config) CategoryRules() []extract.CategoryRule {
	if len(c.Categories) == 0 {
		return extract.DefaultRules()
	}
	return c.Categories
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), registration.ErrConfig)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
