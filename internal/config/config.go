// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Target() TargetConfig
	Timeouts() TimeoutConfig
	Router() RouterConfig
	Scenarios() ScenarioConfig
	Artifacts() ArtifactConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	TargetCfg    TargetConfig   `mapstructure:"target" yaml:"target"`
	TimeoutsCfg  TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	RouterCfg    RouterConfig   `mapstructure:"router" yaml:"router"`
	ScenariosCfg ScenarioConfig `mapstructure:"scenarios" yaml:"scenarios"`
	ArtifactsCfg ArtifactConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

// Ensure Config implements the interface.
var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig      { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig    { return c.BrowserCfg }
func (c *Config) Target() TargetConfig      { return c.TargetCfg }
func (c *Config) Timeouts() TimeoutConfig   { return c.TimeoutsCfg }
func (c *Config) Router() RouterConfig      { return c.RouterCfg }
func (c *Config) Scenarios() ScenarioConfig { return c.ScenariosCfg }
func (c *Config) Artifacts() ArtifactConfig { return c.ArtifactsCfg }

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

// Supported browser backends.
const (
	BackendChromedp   = "chromedp"
	BackendPlaywright = "playwright"
)

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Backend         string         `mapstructure:"backend" yaml:"backend"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// Install downloads the Playwright driver and Chromium before launching.
	Install bool `mapstructure:"install" yaml:"install"`
}

// TargetConfig describes the application under test.
type TargetConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// TimeoutConfig bounds every blocking scenario step.
type TimeoutConfig struct {
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Wait       time.Duration `mapstructure:"wait" yaml:"wait"`
	Action     time.Duration `mapstructure:"action" yaml:"action"`
}

// Unmatched request policies.
const (
	UnmatchedAbort       = "abort"
	UnmatchedPassthrough = "passthrough"
)

// Interception modes.
const (
	ModeFetch = "fetch"
	ModeProxy = "proxy"
)

// RouterConfig configures the fixture router.
type RouterConfig struct {
	// FixturesFile replaces the embedded fixture set when set.
	FixturesFile  string   `mapstructure:"fixtures_file" yaml:"fixtures_file"`
	Without       []string `mapstructure:"without" yaml:"without"`
	Unmatched     string   `mapstructure:"unmatched" yaml:"unmatched"`
	Strict        bool     `mapstructure:"strict" yaml:"strict"`
	Scope         []string `mapstructure:"scope" yaml:"scope"`
	Mode          string   `mapstructure:"mode" yaml:"mode"`
	ProxyAddr     string   `mapstructure:"proxy_addr" yaml:"proxy_addr"`
	// UpstreamHTTP2 lets the fixture proxy negotiate HTTP/2 with the backend
	// for passthrough requests.
	UpstreamHTTP2 bool     `mapstructure:"upstream_http2" yaml:"upstream_http2"`
}

// ScenarioConfig points at an optional scenario file. The built-in smoke
// scenarios run when File is empty.
type ScenarioConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// ArtifactConfig controls where screenshots and the run report land.
type ArtifactConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	FullPage bool   `mapstructure:"full_page" yaml:"full_page"`
	Report   string `mapstructure:"report" yaml:"report"`
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
	v.SetDefault("logger.service_name", "mockroute")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 720})
	v.SetDefault("browser.install", false)

	// -- Target --
	v.SetDefault("target.base_url", "http://localhost:5173")
	v.SetDefault("target.email", "test@test.com")
	v.SetDefault("target.password", "password")

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "30s")
	v.SetDefault("timeouts.wait", "30s")
	v.SetDefault("timeouts.action", "30s")

	// -- Router --
	v.SetDefault("router.fixtures_file", "")
	v.SetDefault("router.without", []string{})
	v.SetDefault("router.unmatched", UnmatchedAbort)
	v.SetDefault("router.strict", false)
	v.SetDefault("router.scope", []string{"**/api/**"})
	v.SetDefault("router.mode", ModeFetch)
	v.SetDefault("router.proxy_addr", "127.0.0.1:0")
	v.SetDefault("router.upstream_http2", false)

	// -- Scenarios --
	v.SetDefault("scenarios.file", "")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "verification")
	v.SetDefault("artifacts.full_page", true)
	v.SetDefault("artifacts.report", "report.json")
}

// NewConfigFromViper creates a new configuration object from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The password never belongs in a checked-in config file.
	v.BindEnv("target.password", "MOCKROUTE_TARGET_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.BrowserCfg.Backend) {
	case BackendChromedp, BackendPlaywright:
	default:
		return fmt.Errorf("browser.backend must be one of %q or %q, got %q", BackendChromedp, BackendPlaywright, c.BrowserCfg.Backend)
	}
	if c.TargetCfg.BaseURL == "" {
		return fmt.Errorf("target.base_url is a required configuration field")
	}
	if err := c.TimeoutsCfg.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if err := c.RouterCfg.Validate(); err != nil {
		return fmt.Errorf("router configuration invalid: %w", err)
	}
	if c.ArtifactsCfg.Dir == "" {
		return fmt.Errorf("artifacts.dir is a required configuration field")
	}
	return nil
}

// Validate checks that every wait is bounded.
func (t *TimeoutConfig) Validate() error {
	if t.Navigation <= 0 {
		return fmt.Errorf("timeouts.navigation must be a positive duration")
	}
	if t.Wait <= 0 {
		return fmt.Errorf("timeouts.wait must be a positive duration")
	}
	if t.Action <= 0 {
		return fmt.Errorf("timeouts.action must be a positive duration")
	}
	return nil
}

// Validate checks the router configuration.
func (r *RouterConfig) Validate() error {
	switch r.Unmatched {
	case UnmatchedAbort, UnmatchedPassthrough:
	default:
		return fmt.Errorf("router.unmatched must be %q or %q, got %q", UnmatchedAbort, UnmatchedPassthrough, r.Unmatched)
	}
	switch r.Mode {
	case ModeFetch:
	case ModeProxy:
		if r.ProxyAddr == "" {
			return fmt.Errorf("router.proxy_addr is required when router.mode is %q", ModeProxy)
		}
	default:
		return fmt.Errorf("router.mode must be %q or %q, got %q", ModeFetch, ModeProxy, r.Mode)
	}
	return nil
}
