// Package config defines the run configuration: API endpoint and
// credentials, request quota and retry policy, entity selection and
// filters, output layout and logging.
//
// Configuration is loaded from a YAML file with ${VAR} placeholders
// substituted from the environment, so credentials stay out of the
// file itself:
//
//	api:
//	  subdomain: acme
//	  email: ops@acme.example
//	  api_token: ${API_TOKEN}
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a collection run.
type Config struct {
	API        APIConfig        `yaml:"api" json:"api"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Collection CollectionConfig `yaml:"collection" json:"collection"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// APIConfig identifies the remote instance and how to authenticate
// against it. Exactly one of APIToken or OAuthToken must be set; a
// token auth also requires Email.
type APIConfig struct {
	// Subdomain of the hosted instance; the API base URL is derived
	// from it unless BaseURL overrides it outright.
	Subdomain string `yaml:"subdomain" json:"subdomain"`
	// BaseURL overrides the derived API base, mainly for testing
	// against a local server.
	BaseURL string `yaml:"base_url" json:"base_url"`

	Email      string `yaml:"email" json:"email"`
	APIToken   string `yaml:"api_token" json:"api_token"`
	OAuthToken string `yaml:"oauth_token" json:"oauth_token"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	EnableHTTP2    bool          `yaml:"enable_http2" json:"enable_http2"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
}

// RateLimitConfig sets the request quota window and the retry policy
// layered on top of it.
type RateLimitConfig struct {
	// RequestsPerWindow caps requests admitted per window.
	RequestsPerWindow int `yaml:"requests_per_window" json:"requests_per_window"`
	// WindowDuration is the length of the fixed quota window.
	WindowDuration time.Duration `yaml:"window_duration" json:"window_duration"`
	// RetryAttempts is the number of retries after the initial attempt.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// BackoffFactor b yields b^attempt seconds before the attempt-th retry.
	BackoffFactor float64 `yaml:"backoff_factor" json:"backoff_factor"`
	// MaxDelay caps a single backoff delay. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CollectionConfig selects which entity types to collect and how to
// narrow them.
type CollectionConfig struct {
	// Entities lists the entity types to collect. Empty means all.
	Entities []string `yaml:"entities" json:"entities"`
	// IncludeComments fetches each collected ticket's comment thread.
	IncludeComments bool         `yaml:"include_comments" json:"include_comments"`
	Filters         FilterConfig `yaml:"filters" json:"filters"`
}

// FilterConfig holds the declarative filter criteria. Dates use the
// YYYY-MM-DD form the API's search syntax expects.
type FilterConfig struct {
	Status        string `yaml:"status" json:"status"`
	CreatedAfter  string `yaml:"created_after" json:"created_after"`
	CreatedBefore string `yaml:"created_before" json:"created_before"`
	Role          string `yaml:"role" json:"role"`
	ActiveOnly    bool   `yaml:"active_only" json:"active_only"`
}

// OutputConfig controls where documents and resume state land.
type OutputConfig struct {
	// BaseDirectory is the root of the emitted document tree.
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	// StateFile is the checkpoint database path. Empty keeps resume
	// state in memory only.
	StateFile string `yaml:"state_file" json:"state_file"`
	// Directories overrides the per-entity output subdirectory.
	Directories map[string]string `yaml:"directories" json:"directories"`
}

// LoggingConfig mirrors the logger package's options.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns a configuration with every tunable at its default.
// Credentials and the subdomain have no defaults and must come from
// the file or flags.
func Default() *Config {
	return &Config{
		API: APIConfig{
			RequestTimeout: 30 * time.Second,
			EnableHTTP2:    true,
			UserAgent:      "comet/" + Version,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 200,
			WindowDuration:    time.Minute,
			RetryAttempts:     3,
			BackoffFactor:     2,
			MaxDelay:          2 * time.Minute,
		},
		Collection: CollectionConfig{
			IncludeComments: true,
		},
		Output: OutputConfig{
			BaseDirectory: "export",
			StateFile:     "comet-state.db",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// BaseURL returns the effective API base URL.
func (c *APIConfig) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("https://%s.zendesk.com/api/v2", c.Subdomain)
}

// Validate checks the configuration for a collection run.
func (c *Config) Validate() error {
	if c.API.Subdomain == "" && c.API.BaseURL == "" {
		return fmt.Errorf("api: subdomain or base_url is required")
	}
	switch {
	case c.API.OAuthToken != "" && c.API.APIToken != "":
		return fmt.Errorf("api: api_token and oauth_token are mutually exclusive")
	case c.API.OAuthToken == "" && c.API.APIToken == "":
		return fmt.Errorf("api: api_token or oauth_token is required")
	case c.API.APIToken != "" && c.API.Email == "":
		return fmt.Errorf("api: email is required with api_token")
	}

	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate_limit: requests_per_window must be positive")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate_limit: window_duration must be positive")
	}
	if c.RateLimit.RetryAttempts < 0 {
		return fmt.Errorf("rate_limit: retry_attempts must not be negative")
	}
	if c.RateLimit.BackoffFactor < 1 {
		return fmt.Errorf("rate_limit: backoff_factor must be at least 1")
	}

	if c.Output.BaseDirectory == "" {
		return fmt.Errorf("output: base_directory is required")
	}

	if c.Collection.Filters.CreatedAfter != "" {
		if _, err := time.Parse("2006-01-02", c.Collection.Filters.CreatedAfter); err != nil {
			return fmt.Errorf("collection: created_after must be YYYY-MM-DD: %w", err)
		}
	}
	if c.Collection.Filters.CreatedBefore != "" {
		if _, err := time.Parse("2006-01-02", c.Collection.Filters.CreatedBefore); err != nil {
			return fmt.Errorf("collection: created_before must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}
