package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"moderngov/internal/route"
)

// EnvPrefix prefixes environment overrides, e.g. MODERNGOV_BACKEND_URL.
const EnvPrefix = "MODERNGOV"

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" envconfig:"ADDR"`
	Password string `json:"password" yaml:"password" envconfig:"PASSWORD"`
	DB       int    `json:"db" yaml:"db" envconfig:"DB"`
}

type RouteConfig struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

type Config struct {
	BackendURL string `json:"backend_url" yaml:"backend_url" envconfig:"BACKEND_URL"`
	// PublicURL, when set, is the scheme and host used for absolute URLs
	// instead of the one derived from each request.
	PublicURL string `json:"public_url" yaml:"public_url" envconfig:"PUBLIC_URL"`
	// TrustForwardedHeaders lets X-Forwarded-Proto and X-Forwarded-Host
	// pick the scheme and host. Only enable behind a front end that sets
	// or strips them.
	TrustForwardedHeaders bool          `json:"trust_forwarded_headers" yaml:"trust_forwarded_headers" envconfig:"TRUST_FORWARDED_HEADERS"`
	Redis                 RedisConfig   `json:"redis" yaml:"redis" envconfig:"REDIS"`
	Routes                []RouteConfig `json:"routes" yaml:"routes" ignored:"true"`
	CookieDenylist        []string      `json:"cookie_denylist" yaml:"cookie_denylist" envconfig:"COOKIE_DENYLIST"`
	RequestTimeout        int           `json:"request_timeout" yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxResponseSizeMB     int           `json:"max_response_size_mb" yaml:"max_response_size_mb" envconfig:"MAX_RESPONSE_SIZE_MB"`
	CacheTTL              int           `json:"cache_ttl" yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// Load reads a JSON or YAML (by extension) config file, applies
// MODERNGOV_* environment overrides, validates and fills defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setDefaults(&config)

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if err := validateBaseURL("backend_url", config.BackendURL); err != nil {
		return err
	}

	if config.PublicURL != "" {
		if err := validateBaseURL("public_url", config.PublicURL); err != nil {
			return err
		}
		if strings.HasSuffix(config.PublicURL, "/") {
			return fmt.Errorf("public_url must not end with a slash")
		}
	}

	if _, err := route.NewResolver(config.RouteTable()); err != nil {
		return err
	}

	if config.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if config.MaxResponseSizeMB < 0 {
		return fmt.Errorf("max_response_size_mb must not be negative")
	}
	if config.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}

	return nil
}

func validateBaseURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got '%s'", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", field)
	}
	return nil
}

func setDefaults(config *Config) {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30
	}
	if config.MaxResponseSizeMB == 0 {
		config.MaxResponseSizeMB = 10
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 3600
	}
	if len(config.Routes) == 0 {
		config.Routes = []RouteConfig{{Name: route.TemplateRoute, Pattern: route.DefaultTemplatePath}}
	}
}

// CacheEnabled reports whether a Redis address is configured.
func (c *Config) CacheEnabled() bool {
	return c.Redis.Addr != ""
}

// RouteTable converts the configured routes for route.NewResolver. With no
// routes configured the template page is served at its default path.
func (c *Config) RouteTable() []route.Route {
	if len(c.Routes) == 0 {
		return []route.Route{{Name: route.TemplateRoute, Pattern: route.DefaultTemplatePath}}
	}
	routes := make([]route.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, route.Route{Name: r.Name, Pattern: r.Pattern})
	}
	return routes
}
