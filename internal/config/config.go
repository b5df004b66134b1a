// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing harness configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	App() AppConfig
	API() APIConfig
	TestData() TestDataConfig
	Screenshot() ScreenshotConfig
	Reporting() ReportingConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserSlowMo(d time.Duration)

	// App Setters
	SetAppBaseURL(string)
	SetAppAPIURL(string)
}

// Config holds the entire harness configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AppCfg        AppConfig        `mapstructure:"app" yaml:"app"`
	APICfg        APIConfig        `mapstructure:"api" yaml:"api"`
	TestDataCfg   TestDataConfig   `mapstructure:"testdata" yaml:"testdata"`
	ScreenshotCfg ScreenshotConfig `mapstructure:"screenshot" yaml:"screenshot"`
	ReportingCfg  ReportingConfig  `mapstructure:"reporting" yaml:"reporting"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) App() AppConfig               { return c.AppCfg }
func (c *Config) API() APIConfig               { return c.APICfg }
func (c *Config) TestData() TestDataConfig     { return c.TestDataCfg }
func (c *Config) Screenshot() ScreenshotConfig { return c.ScreenshotCfg }
func (c *Config) Reporting() ReportingConfig   { return c.ReportingCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserSlowMo(d time.Duration) { c.BrowserCfg.SlowMo = d }
func (c *Config) SetAppBaseURL(u string)           { c.AppCfg.BaseURL = u }
func (c *Config) SetAppAPIURL(u string)            { c.AppCfg.APIURL = u }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser instances driven by page objects.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// SlowMo inserts a pause after every page action, for watching a headed run.
	SlowMo time.Duration `mapstructure:"slow_mo" yaml:"slow_mo"`
}

// AppConfig points the harness at the system under test.
type AppConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIURL  string `mapstructure:"api_url" yaml:"api_url"`
}

// APIConfig tunes the REST client.
type APIConfig struct {
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RateLimit    float64           `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst        int               `mapstructure:"burst" yaml:"burst"`
	MaxRetries   int               `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration     `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	Headers      map[string]string `mapstructure:"headers" yaml:"headers"`
	Auth         APIAuthConfig     `mapstructure:"auth" yaml:"auth"`
}

// APIAuthConfig selects how outgoing API requests are authenticated.
// A static Token wins over JWT minting.
type APIAuthConfig struct {
	Token      string        `mapstructure:"token" yaml:"-"`
	JWTSecret  string        `mapstructure:"jwt_secret" yaml:"-"`
	JWTSubject string        `mapstructure:"jwt_subject" yaml:"jwt_subject"`
	JWTIssuer  string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTTTL     time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
}

// Test data backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// TestDataConfig configures where test data documents are loaded from.
type TestDataConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Watch       bool   `mapstructure:"watch" yaml:"watch"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
}

// ScreenshotConfig configures screenshot capture and retention.
type ScreenshotConfig struct {
	Dir       string        `mapstructure:"dir" yaml:"dir"`
	OnFailure bool          `mapstructure:"on_failure" yaml:"on_failure"`
	FullPage  bool          `mapstructure:"full_page" yaml:"full_page"`
	Quality   int           `mapstructure:"quality" yaml:"quality"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// ReportingConfig configures the report summary and its email delivery.
type ReportingConfig struct {
	Title         string     `mapstructure:"title" yaml:"title"`
	SubjectPrefix string     `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	SMTP          SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// SMTPConfig holds the mail relay details.
type SMTPConfig struct {
	Host     string   `mapstructure:"host" yaml:"host"`
	Port     int      `mapstructure:"port" yaml:"port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"-"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
	UseTLS   bool     `mapstructure:"use_tls" yaml:"use_tls"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harness")
	v.SetDefault("logger.log_file", "test-results/harness.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.default_timeout", "15s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.slow_mo", "0s")

	// -- App --
	v.SetDefault("app.base_url", "http://localhost:3000")
	v.SetDefault("app.api_url", "http://localhost:3000/api")

	// -- API --
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.max_retries", 2)
	v.SetDefault("api.retry_backoff", "250ms")
	v.SetDefault("api.auth.jwt_subject", "e2e-harness")
	v.SetDefault("api.auth.jwt_issuer", "e2e-harness")
	v.SetDefault("api.auth.jwt_ttl", "15m")

	// -- Test Data --
	v.SetDefault("testdata.backend", BackendFile)
	v.SetDefault("testdata.dir", "testdata")
	v.SetDefault("testdata.watch", false)

	// -- Screenshots --
	v.SetDefault("screenshot.dir", "test-results/screenshots")
	v.SetDefault("screenshot.on_failure", true)
	v.SetDefault("screenshot.full_page", true)
	v.SetDefault("screenshot.quality", 90)
	v.SetDefault("screenshot.retention", "168h")

	// -- Reporting --
	v.SetDefault("reporting.title", "E2E Test Report")
	v.SetDefault("reporting.subject_prefix", "[e2e]")
	v.SetDefault("reporting.smtp.port", 587)
	v.SetDefault("reporting.smtp.use_tls", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets have no defaults, so AutomaticEnv alone won't surface them during Unmarshal.
	_ = v.BindEnv("reporting.smtp.password", "HARNESS_SMTP_PASSWORD")
	_ = v.BindEnv("api.auth.token", "HARNESS_API_TOKEN")
	_ = v.BindEnv("api.auth.jwt_secret", "HARNESS_API_JWT_SECRET")
	_ = v.BindEnv("testdata.database_url", "HARNESS_TESTDATA_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.TestDataCfg.Dir, &c.ScreenshotCfg.Dir, &c.BrowserCfg.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("browser.default_timeout must be a positive duration")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.APICfg.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}
	if err := c.TestDataCfg.Validate(); err != nil {
		return fmt.Errorf("testdata configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the test data backend selection.
func (t *TestDataConfig) Validate() error {
	switch strings.ToLower(t.Backend) {
	case BackendFile:
		if t.Dir == "" {
			return fmt.Errorf("dir is required for the file backend")
		}
	case BackendPostgres:
		if t.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend (HARNESS_TESTDATA_DATABASE_URL)")
		}
		if t.Watch {
			return fmt.Errorf("watch is only supported by the file backend")
		}
	default:
		return fmt.Errorf("unsupported backend: %s", t.Backend)
	}
	return nil
}

// Validate checks that enough is configured to deliver a report by email.
// It is called only when sending is requested.
func (s *SMTPConfig) Validate() error {
	if s.Host == "" || s.From == "" || len(s.To) == 0 {
		return fmt.Errorf("reporting.smtp.host, reporting.smtp.from, and reporting.smtp.to are required")
	}
	if s.Port <= 0 {
		return fmt.Errorf("reporting.smtp.port must be a positive integer")
	}
	return nil
}
