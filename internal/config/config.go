// Package config loads the emulator's configuration from an optional YAML
// file with environment-variable overrides, and validates the result before
// it is handed to the core as an immutable struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// IntegrationMode selects the wire shape the Integration Dispatcher uses
// when POSTing events to the backend.
type IntegrationMode string

const (
	// ModeLambdaProxy is the default: a single JSON envelope carrying the
	// full request context, bit-compatible with the managed cloud service.
	ModeLambdaProxy IntegrationMode = "lambda-proxy"

	// ModeHTTPHeaders targets traditional HTTP services: context travels in
	// request headers and the body is the raw frame text.
	ModeHTTPHeaders IntegrationMode = "http-headers"
)

const defaultConfigPath = "/etc/wsgw/config.yaml"

// Config is the immutable configuration for one emulator instance.
type Config struct {
	// ListenPort is the TCP port the single listener binds to.
	ListenPort int `yaml:"listen_port" validate:"required,min=1,max=65535"`

	// Stage is the deployment stage name surfaced in dispatched events.
	Stage string `yaml:"stage" validate:"required"`

	// APIID is the identifier surfaced as apiId in dispatched events.
	APIID string `yaml:"api_id" validate:"required"`

	// DomainName is the public domain surfaced as domainName. Defaulted to
	// localhost:<port> when empty.
	DomainName string `yaml:"domain_name"`

	// IntegrationMode selects the Event Encoder's wire shape.
	IntegrationMode IntegrationMode `yaml:"integration_mode" validate:"required,oneof=lambda-proxy http-headers"`

	// RouteSelectionExpression is the optional $request.body.<path>
	// expression used by the Route Selector. Empty means "always $default".
	RouteSelectionExpression string `yaml:"route_selection_expression"`

	// Integrations maps route keys ($connect, $disconnect, $default, and
	// user-defined keys) to backend URIs.
	Integrations map[string]string `yaml:"integrations" validate:"required,dive,url"`

	// IdleTimeoutSeconds is the inactivity window before a session is
	// closed with code 1001.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" validate:"required,min=1"`

	// HardTimeoutSeconds is the absolute session lifetime, counted from
	// acceptance, regardless of activity.
	HardTimeoutSeconds int `yaml:"hard_timeout_seconds" validate:"required,min=1"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose"`
}

// Load reads configuration from a YAML file (falling back to defaults when
// absent) and applies environment-variable overrides, then validates the
// result. Env vars take precedence over the file.
func Load() (*Config, error) {
	cfg := defaults()

	path := defaultConfigPath
	if envPath := os.Getenv("WSGW_CONFIG_PATH"); envPath != "" {
		path = envPath
	}

	fileErr := loadFile(cfg, path)
	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.DomainName == "" {
		cfg.DomainName = fmt.Sprintf("localhost:%d", cfg.ListenPort)
	}

	// A missing config file is not fatal — defaults plus env vars may be
	// sufficient. Anything else (a present-but-malformed file) is.
	if fileErr != nil && !os.IsNotExist(fileErr) {
		return nil, fileErr
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenPort:         8080,
		Stage:              "dev",
		IntegrationMode:    ModeLambdaProxy,
		Integrations:       map[string]string{},
		IdleTimeoutSeconds: 600,
		HardTimeoutSeconds: 7200,
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WSGW_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = port
		}
	}
	if v := os.Getenv("WSGW_STAGE"); v != "" {
		cfg.Stage = v
	}
	if v := os.Getenv("WSGW_API_ID"); v != "" {
		cfg.APIID = v
	}
	if v := os.Getenv("WSGW_DOMAIN_NAME"); v != "" {
		cfg.DomainName = v
	}
	if v := os.Getenv("WSGW_INTEGRATION_MODE"); v != "" {
		cfg.IntegrationMode = IntegrationMode(v)
	}
	if v := os.Getenv("WSGW_ROUTE_SELECTION_EXPRESSION"); v != "" {
		cfg.RouteSelectionExpression = v
	}
	if v := os.Getenv("WSGW_IDLE_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("WSGW_HARD_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.HardTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("WSGW_VERBOSE"); v != "" {
		cfg.Verbose = v == "1" || strings.EqualFold(v, "true")
	}
}

var structValidator = validator.New()

// validateConfig runs struct-tag validation plus the business rules a tag
// can't express: the route-selection expression's grammar, and that
// integration-table keys are never empty or malformed.
func validateConfig(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return err
	}

	if expr := cfg.RouteSelectionExpression; expr != "" {
		const prefix = "$request.body."
		if !strings.HasPrefix(expr, prefix) || len(expr) == len(prefix) {
			return fmt.Errorf("route_selection_expression must match \"$request.body.<path>\", got %q", expr)
		}
	}

	for key := range cfg.Integrations {
		if key == "" {
			return fmt.Errorf("integration route keys must not be empty")
		}
		if key != "$connect" && key != "$disconnect" && key != "$default" && strings.HasPrefix(key, "$") {
			return fmt.Errorf("user-defined route key %q must not begin with '$'", key)
		}
	}

	return nil
}
