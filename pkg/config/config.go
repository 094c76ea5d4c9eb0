package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration with yaml support for values like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("error parsing duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type AppConfig struct {
	Environment string  `yaml:"environment"`
	Issuer      string  `yaml:"issuer"`
	Server      Server  `yaml:"server"`
	Token       Token   `yaml:"token"`
	Keys        Keys    `yaml:"keys"`
	Signing     Signing `yaml:"signing"`

	APIKeys []APIKey `yaml:"apiKeys"`
	Tenants []Tenant `yaml:"tenants"`
	Users   []User   `yaml:"users"`

	Session Session `yaml:"session"`
	Redis   Redis   `yaml:"redis"`
	Audit   Audit   `yaml:"audit"`
}

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
}

type Token struct {
	AccessLifeTime  Duration `yaml:"accessLifeTime"`
	RefreshLifeTime Duration `yaml:"refreshLifeTime"`
}

type Keys struct {
	// PrivateKey is a PEM-encoded RSA private key. When empty a fresh key
	// is generated at startup, which invalidates all outstanding tokens on
	// restart.
	PrivateKey string `yaml:"privateKey"`
	KeyID      string `yaml:"keyID"`
}

type Signing struct {
	SignedHeaders    []string `yaml:"signedHeaders"`
	FreshnessWindow  Duration `yaml:"freshnessWindow"`
	AllowQueryAPIKey bool     `yaml:"allowQueryAPIKey"`
}

type APIKey struct {
	Key    string   `yaml:"key"`
	Tenant string   `yaml:"tenant"`
	Scopes []string `yaml:"scopes"`
}

type Tenant struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
	// CallbackURL is the exact prefix SSO redirects for this tenant must
	// target. Check-auth refuses callback URLs outside it.
	CallbackURL  string `yaml:"callbackURL"`
	SharedSecret string `yaml:"sharedSecret"`
}

type User struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"`
	SubjectID    string   `yaml:"subjectID"`
	Tenants      []string `yaml:"tenants"`
}

type Session struct {
	LifeTime Duration `yaml:"lifeTime"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Audit struct {
	Endpoint       string   `yaml:"endpoint"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	RequestTimeout Duration `yaml:"requestTimeout"`
}

const (
	DefaultAccessLifeTime  = 60 * time.Minute
	DefaultRefreshLifeTime = 14 * 24 * time.Hour
	DefaultFreshnessWindow = 5 * time.Minute
	DefaultSessionLifeTime = 12 * time.Hour
	DefaultAuditAttempts   = 3
	DefaultRequestTimeout  = 10 * time.Second
)

// DefaultSignedHeaders is the canonical subset of headers covered by the
// request signature when the config does not name its own list.
var DefaultSignedHeaders = []string{
	"content-type",
	"x-request-id",
	"x-tenant-id",
	"x-timestamp",
}

// Load reads, env-resolves, defaults and validates the configuration file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml configuration: %w", err)
	}

	if err := resolveEnvVariables(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Token.AccessLifeTime == 0 {
		cfg.Token.AccessLifeTime = Duration(DefaultAccessLifeTime)
	}

	if cfg.Token.RefreshLifeTime == 0 {
		cfg.Token.RefreshLifeTime = Duration(DefaultRefreshLifeTime)
	}

	if cfg.Signing.FreshnessWindow == 0 {
		cfg.Signing.FreshnessWindow = Duration(DefaultFreshnessWindow)
	}

	if len(cfg.Signing.SignedHeaders) == 0 {
		cfg.Signing.SignedHeaders = append([]string(nil), DefaultSignedHeaders...)
	}

	if cfg.Session.LifeTime == 0 {
		cfg.Session.LifeTime = Duration(DefaultSessionLifeTime)
	}

	if cfg.Audit.MaxAttempts == 0 {
		cfg.Audit.MaxAttempts = DefaultAuditAttempts
	}

	if cfg.Audit.RequestTimeout == 0 {
		cfg.Audit.RequestTimeout = Duration(DefaultRequestTimeout)
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Issuer == "" {
		return fmt.Errorf("issuer must not be empty")
	}

	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server listen address must not be empty")
	}

	tenantSlugs := make(map[string]bool, len(cfg.Tenants))

	for _, tenant := range cfg.Tenants {
		if tenant.Slug == "" {
			return fmt.Errorf("tenant slug must not be empty")
		}

		if tenantSlugs[tenant.Slug] {
			return fmt.Errorf("duplicate tenant slug %q", tenant.Slug)
		}

		tenantSlugs[tenant.Slug] = true

		if tenant.CallbackURL == "" {
			return fmt.Errorf("tenant %q has no callback URL", tenant.Slug)
		}
	}

	// A key value shared by two records would be resolved by iteration
	// order at lookup time. Refuse the configuration instead.
	seenKeys := make(map[string]string, len(cfg.APIKeys))

	for _, record := range cfg.APIKeys {
		if record.Key == "" {
			return fmt.Errorf("api key for tenant %q must not be empty", record.Tenant)
		}

		if other, dup := seenKeys[record.Key]; dup {
			return fmt.Errorf("api key configured for tenant %q collides with tenant %q", record.Tenant, other)
		}

		seenKeys[record.Key] = record.Tenant

		if !tenantSlugs[record.Tenant] {
			return fmt.Errorf("api key references unknown tenant %q", record.Tenant)
		}
	}

	for _, user := range cfg.Users {
		if user.Username == "" || user.SubjectID == "" {
			return fmt.Errorf("user entries require username and subjectID")
		}

		for _, slug := range user.Tenants {
			if !tenantSlugs[slug] {
				return fmt.Errorf("user %q references unknown tenant %q", user.Username, slug)
			}
		}
	}

	return nil
}

// FindTenant returns the tenant record for a slug.
func (cfg *AppConfig) FindTenant(slug string) (Tenant, bool) {
	for _, tenant := range cfg.Tenants {
		if tenant.Slug == slug {
			return tenant, true
		}
	}

	return Tenant{}, false
}

var envVarRegex = regexp.MustCompile(`^\$\{([^}]+)\}$`)

func resolveEnvVariables(cfg *AppConfig) error {
	return resolveEnvVariablesUtil(reflect.ValueOf(cfg))
}

func resolveEnvVariablesUtil(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := resolveEnvVariablesUtil(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := resolveEnvVariablesUtil(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.String:
		matches := envVarRegex.FindStringSubmatch(v.String())
		if len(matches) > 1 {
			value, exists := os.LookupEnv(matches[1])
			if !exists {
				return fmt.Errorf("environment variable %s not set", matches[1])
			}

			if v.CanSet() {
				v.SetString(value)
			}
		}
	}

	return nil
}
