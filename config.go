package ghauth

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretLength is the shortest SESSION_SECRET Validate accepts.
const MinSessionSecretLength = 32

type Config struct {
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	CallbackURL        string `env:"GITHUB_CALLBACK_URL"` // e.g. https://yourapp.com/auth/callback
	SessionSecret      string `env:"SESSION_SECRET"`
	AppURL             string `env:"APP_URL"` // e.g. https://yourapp.com

	// Environment set to "production" turns on Secure cookies.
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Endpoint overrides, mostly for GitHub Enterprise and tests.
	AuthURL  string `env:"GITHUB_AUTH_URL"  envDefault:"https://github.com/login/oauth/authorize"`
	TokenURL string `env:"GITHUB_TOKEN_URL" envDefault:"https://github.com/login/oauth/access_token"`
	APIURL   string `env:"GITHUB_API_URL"   envDefault:"https://api.github.com"`

	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":3000"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// ConfigFromEnv reads the process environment. It does not validate; call
// Validate before serving traffic.
//
// Required:
//
//	GITHUB_CLIENT_ID
//	GITHUB_CLIENT_SECRET
//	GITHUB_CALLBACK_URL
//	SESSION_SECRET        (at least 32 characters)
//	APP_URL
//
// Optional (with defaults):
//
//	APP_ENV                      (default: "development")
//	GITHUB_AUTH_URL              (default: GitHub authorize endpoint)
//	GITHUB_TOKEN_URL             (default: GitHub access_token endpoint)
//	GITHUB_API_URL               (default: "https://api.github.com")
//	HTTP_ADDR                    (default: ":3000")
//	LOG_LEVEL                    (default: "info")
//	OTEL_EXPORTER_OTLP_ENDPOINT  (default: "" -> tracing disabled)
func ConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{})
}

// ConfigFromMap reads settings from m instead of the process environment.
func ConfigFromMap(m map[string]string) (Config, error) {
	return parseConfig(env.Options{Environment: m})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

// Validate reports every missing required setting in a single *ConfigError,
// and rejects a session secret shorter than MinSessionSecretLength.
func (c Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"GITHUB_CLIENT_ID", c.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", c.GitHubClientSecret},
		{"GITHUB_CALLBACK_URL", c.CallbackURL},
		{"SESSION_SECRET", c.SessionSecret},
		{"APP_URL", c.AppURL},
	}

	cerr := &ConfigError{}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			cerr.Missing = append(cerr.Missing, r.key)
		}
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < MinSessionSecretLength {
		cerr.Invalid = append(cerr.Invalid,
			fmt.Sprintf("SESSION_SECRET must be at least %d characters long", MinSessionSecretLength))
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// Production reports whether cookies must carry the Secure attribute.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
