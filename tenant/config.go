package tenant

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/centra-sso/centra/pkg/config"
)

// Config is one tenant application's deployment configuration.
type Config struct {
	Slug        string `yaml:"slug"`
	ExternalURL string `yaml:"externalURL"`
	UpstreamURL string `yaml:"upstreamURL"`

	Central Central `yaml:"central"`

	// APIKey and SharedSecret authenticate this tenant's server-to-server
	// calls to the central server.
	APIKey       string `yaml:"apiKey"`
	SharedSecret string `yaml:"sharedSecret"`

	Session config.Session `yaml:"session"`
	Signing Signing        `yaml:"signing"`
	Audit   config.Audit   `yaml:"audit"`

	ListenAddress string `yaml:"listenAddress"`
}

type Central struct {
	BaseURL string `yaml:"baseURL"`
	Issuer  string `yaml:"issuer"`

	// ValidateRemotely switches token validation from local JWKS
	// verification to synchronous calls against the central validate
	// endpoint.
	ValidateRemotely bool `yaml:"validateRemotely"`
}

type Signing struct {
	SignedHeaders   []string        `yaml:"signedHeaders"`
	FreshnessWindow config.Duration `yaml:"freshnessWindow"`
}

// LoadConfig reads and validates a tenant application config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant configuration: %w", err)
	}

	if cfg.Slug == "" {
		return nil, fmt.Errorf("tenant slug must not be empty")
	}

	if cfg.ExternalURL == "" {
		return nil, fmt.Errorf("tenant external URL must not be empty")
	}

	if cfg.Central.BaseURL == "" {
		return nil, fmt.Errorf("central base URL must not be empty")
	}

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream URL must not be empty")
	}

	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("listen address must not be empty")
	}

	if cfg.Session.LifeTime == 0 {
		cfg.Session.LifeTime = config.Duration(config.DefaultSessionLifeTime)
	}

	if cfg.Signing.FreshnessWindow == 0 {
		cfg.Signing.FreshnessWindow = config.Duration(config.DefaultFreshnessWindow)
	}

	if len(cfg.Signing.SignedHeaders) == 0 {
		cfg.Signing.SignedHeaders = append([]string(nil), config.DefaultSignedHeaders...)
	}

	if cfg.Audit.MaxAttempts == 0 {
		cfg.Audit.MaxAttempts = config.DefaultAuditAttempts
	}

	if cfg.Audit.RequestTimeout == 0 {
		cfg.Audit.RequestTimeout = config.Duration(config.DefaultRequestTimeout)
	}

	if cfg.Audit.Endpoint == "" {
		cfg.Audit.Endpoint = cfg.Central.BaseURL + "/api/v1/audit/events"
	}

	return &cfg, nil
}
