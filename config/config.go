// Package config loads the service configuration. Values are layered:
// built in defaults, then a YAML file, then command line flags, then AUTH_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	auth "github.com/goliatone/go-auth-issuer"
)

const (
	AssetsMemory = "memory"
	AssetsLocal  = "local"
	AssetsS3     = "s3"
)

// Config is the full service configuration.
type Config struct {
	Token      Token      `koanf:"token" json:"token"`
	Database   Database   `koanf:"database" json:"database"`
	Accounts   Accounts   `koanf:"accounts" json:"accounts"`
	Assets     Assets     `koanf:"assets" json:"assets"`
	Federation Federation `koanf:"federation" json:"federation"`
	HTTP       HTTP       `koanf:"http" json:"http"`
	Log        Log        `koanf:"log" json:"log"`
}

type Token struct {
	SigningKey string   `koanf:"signing_key" json:"signing_key" env:"AUTH_SIGNING_KEY"`
	Issuer     string   `koanf:"issuer" json:"issuer" env:"AUTH_TOKEN_ISSUER"`
	Audience   []string `koanf:"audience" json:"audience" env:"AUTH_TOKEN_AUDIENCE" envSeparator:","`
	// DefaultTTLMinutes applies to roles without an override.
	DefaultTTLMinutes int `koanf:"default_ttl_minutes" json:"default_ttl_minutes" env:"AUTH_TOKEN_DEFAULT_TTL_MINUTES"`
	// NeverExpireTTLMinutes is used for roles overridden with "never".
	// Unset falls back to DefaultTTLMinutes, zero omits the exp claim.
	NeverExpireTTLMinutes *int `koanf:"never_expire_ttl_minutes" json:"never_expire_ttl_minutes" env:"AUTH_TOKEN_NEVER_EXPIRE_TTL_MINUTES"`
	// RoleOverrides maps role to "never" or minutes, e.g. admin:never,member:15
	RoleOverrides map[string]string `koanf:"role_overrides" json:"role_overrides" env:"AUTH_TOKEN_ROLE_OVERRIDES" envSeparator:"," envKeyValSeparator:":"`
}

// TTL returns the ttl policy settings.
func (t Token) TTL() auth.TTLConfig {
	return auth.TTLConfig{
		DefaultTTLMinutes:     t.DefaultTTLMinutes,
		NeverExpireTTLMinutes: t.NeverExpireTTLMinutes,
		RoleOverrides:         t.RoleOverrides,
	}
}

type Database struct {
	Driver       string `koanf:"driver" json:"driver" env:"AUTH_DATABASE_DRIVER"`
	DSN          string `koanf:"dsn" json:"dsn" env:"AUTH_DATABASE_DSN"`
	Debug        bool   `koanf:"debug" json:"debug" env:"AUTH_DATABASE_DEBUG"`
	MaxOpenConns int    `koanf:"max_open_conns" json:"max_open_conns" env:"AUTH_DATABASE_MAX_OPEN_CONNS"`
}

type Accounts struct {
	PhoneRegion string `koanf:"phone_region" json:"phone_region" env:"AUTH_PHONE_REGION"`
	UseHashid   bool   `koanf:"use_hashid" json:"use_hashid" env:"AUTH_USE_HASHID"`
	// SelfRegisterMaxRole is the highest role a registration request may ask for.
	SelfRegisterMaxRole string `koanf:"self_register_max_role" json:"self_register_max_role" env:"AUTH_SELF_REGISTER_MAX_ROLE"`
}

type Assets struct {
	Backend string `koanf:"backend" json:"backend" env:"AUTH_ASSETS_BACKEND"`
	// LocalRoot is the directory of the local backend. With the s3 backend it
	// is still consulted for deletes of avatars written before the move.
	LocalRoot      string        `koanf:"local_root" json:"local_root" env:"AUTH_ASSETS_LOCAL_ROOT"`
	S3             S3            `koanf:"s3" json:"s3"`
	AvatarPrefix   string        `koanf:"avatar_prefix" json:"avatar_prefix" env:"AUTH_ASSETS_AVATAR_PREFIX"`
	AvatarMaxBytes int64         `koanf:"avatar_max_bytes" json:"avatar_max_bytes" env:"AUTH_ASSETS_AVATAR_MAX_BYTES"`
	FetchTimeout   time.Duration `koanf:"fetch_timeout" json:"fetch_timeout" env:"AUTH_ASSETS_FETCH_TIMEOUT"`
}

type S3 struct {
	Bucket    string `koanf:"bucket" json:"bucket" env:"AUTH_S3_BUCKET"`
	Region    string `koanf:"region" json:"region" env:"AUTH_S3_REGION"`
	Prefix    string `koanf:"prefix" json:"prefix" env:"AUTH_S3_PREFIX"`
	Endpoint  string `koanf:"endpoint" json:"endpoint" env:"AUTH_S3_ENDPOINT"`
	PathStyle bool   `koanf:"path_style" json:"path_style" env:"AUTH_S3_PATH_STYLE"`
}

type Federation struct {
	StateSecret string        `koanf:"state_secret" json:"state_secret"`
	StateTTL    time.Duration `koanf:"state_ttl" json:"state_ttl"`
	DefaultRole string        `koanf:"default_role" json:"default_role"`
	Providers   []Provider    `koanf:"providers" json:"providers"`
}

type Provider struct {
	Name         string   `koanf:"name" json:"name"`
	ClientID     string   `koanf:"client_id" json:"client_id"`
	ClientSecret string   `koanf:"client_secret" json:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url" json:"redirect_url"`
	AuthURL      string   `koanf:"auth_url" json:"auth_url"`
	TokenURL     string   `koanf:"token_url" json:"token_url"`
	Issuer       string   `koanf:"issuer" json:"issuer"`
	JWKSURL      string   `koanf:"jwks_url" json:"jwks_url"`
	Scopes       []string `koanf:"scopes" json:"scopes"`
}

type HTTP struct {
	Addr     string `koanf:"addr" json:"addr" env:"AUTH_HTTP_ADDR"`
	BasePath string `koanf:"base_path" json:"base_path" env:"AUTH_HTTP_BASE_PATH"`
	// SuccessRedirectURL receives the token in its fragment after a
	// federated login. ErrorRedirectURL receives ?error=<reason>.
	SuccessRedirectURL string `koanf:"success_redirect_url" json:"success_redirect_url" env:"AUTH_HTTP_SUCCESS_REDIRECT_URL"`
	ErrorRedirectURL   string `koanf:"error_redirect_url" json:"error_redirect_url" env:"AUTH_HTTP_ERROR_REDIRECT_URL"`
	Metrics            bool   `koanf:"metrics" json:"metrics" env:"AUTH_HTTP_METRICS"`
}

type Log struct {
	Level string `koanf:"level" json:"level" env:"AUTH_LOG_LEVEL"`
	// Format is "json" or "console".
	Format string `koanf:"format" json:"format" env:"AUTH_LOG_FORMAT"`
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		Token: Token{
			Issuer:            "go-auth-issuer",
			DefaultTTLMinutes: 60,
			RoleOverrides:     map[string]string{},
		},
		Database: Database{
			Driver: "sqlite",
			DSN:    "file:auth.db?cache=shared",
		},
		Accounts: Accounts{
			PhoneRegion:         auth.DefaultPhoneRegion,
			SelfRegisterMaxRole: string(auth.RoleCustomer),
		},
		Assets: Assets{
			Backend:        AssetsMemory,
			AvatarPrefix:   "avatars",
			AvatarMaxBytes: 5 << 20,
			FetchTimeout:   10 * time.Second,
		},
		Federation: Federation{
			StateTTL:    10 * time.Minute,
			DefaultRole: string(auth.DefaultRole),
		},
		HTTP: HTTP{
			Addr:     ":8080",
			BasePath: "/auth",
			Metrics:  true,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"addr":        "http.addr",
	"db-driver":   "database.driver",
	"db-dsn":      "database.dsn",
	"db-debug":    "database.debug",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"default-ttl": "token.default_ttl_minutes",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("db-driver", d.Database.Driver, "database driver: sqlite or postgres")
	fs.String("db-dsn", d.Database.DSN, "database connection string")
	fs.Bool("db-debug", false, "log every SQL query")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "log format: json or console")
	fs.Int("default-ttl", d.Token.DefaultTTLMinutes, "default token ttl in minutes")
}

// Load builds the configuration. path may be empty and fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.parseEnv(); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// federationEnv holds the federation settings that may come from the
// environment. Providers are only read from the config file.
type federationEnv struct {
	StateSecret string        `env:"AUTH_FEDERATION_STATE_SECRET"`
	StateTTL    time.Duration `env:"AUTH_FEDERATION_STATE_TTL"`
	DefaultRole string        `env:"AUTH_FEDERATION_DEFAULT_ROLE"`
}

func (c *Config) parseEnv() error {
	for _, section := range []any{&c.Token, &c.Database, &c.Accounts, &c.Assets, &c.HTTP, &c.Log} {
		if err := env.Parse(section); err != nil {
			return err
		}
	}

	fed := federationEnv{
		StateSecret: c.Federation.StateSecret,
		StateTTL:    c.Federation.StateTTL,
		DefaultRole: c.Federation.DefaultRole,
	}
	if err := env.Parse(&fed); err != nil {
		return err
	}
	c.Federation.StateSecret = fed.StateSecret
	c.Federation.StateTTL = fed.StateTTL
	c.Federation.DefaultRole = fed.DefaultRole
	return nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Assets.Backend = strings.ToLower(strings.TrimSpace(c.Assets.Backend))
	if c.Token.RoleOverrides == nil {
		c.Token.RoleOverrides = map[string]string{}
	}
}

// Validate checks the settings needed to start the service.
func (c *Config) Validate() error {
	err := validation.Errors{
		"token": validation.ValidateStruct(&c.Token,
			validation.Field(&c.Token.SigningKey, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.Token.DefaultTTLMinutes, validation.Required, validation.Min(1)),
			validation.Field(&c.Token.NeverExpireTTLMinutes, validation.Min(0)),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite", "sqlite3", "postgres", "postgresql", "pg")),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"accounts": validation.ValidateStruct(&c.Accounts,
			validation.Field(&c.Accounts.SelfRegisterMaxRole, validation.In(rolesAsAny()...)),
		),
		"assets": validation.ValidateStruct(&c.Assets,
			validation.Field(&c.Assets.Backend, validation.Required, validation.In(AssetsMemory, AssetsLocal, AssetsS3)),
			validation.Field(&c.Assets.LocalRoot, validation.When(c.Assets.Backend == AssetsLocal, validation.Required)),
			validation.Field(&c.Assets.S3, validation.When(c.Assets.Backend == AssetsS3, validation.By(s3Required))),
		),
		"federation": c.validateFederation(),
		"http": validation.ValidateStruct(&c.HTTP,
			validation.Field(&c.HTTP.Addr, validation.Required),
			validation.Field(&c.HTTP.SuccessRedirectURL, is.URL),
			validation.Field(&c.HTTP.ErrorRedirectURL, is.URL),
		),
	}.Filter()
	if err != nil {
		return auth.WrapError(auth.ErrValidation, err, map[string]any{"scope": "config"})
	}
	return nil
}

func (c *Config) validateFederation() error {
	if len(c.Federation.Providers) == 0 {
		return nil
	}
	errs := validation.Errors{
		"state_secret": validation.Validate(c.Federation.StateSecret, validation.Required, validation.Length(16, 0)),
	}
	for i := range c.Federation.Providers {
		p := &c.Federation.Providers[i]
		errs[fmt.Sprintf("providers.%d", i)] = validation.ValidateStruct(p,
			validation.Field(&p.Name, validation.Required),
			validation.Field(&p.ClientID, validation.Required),
			validation.Field(&p.TokenURL, validation.Required, is.URL),
			validation.Field(&p.JWKSURL, validation.Required, is.URL),
		)
	}
	return errs.Filter()
}

func s3Required(value any) error {
	s3, _ := value.(S3)
	if s3.Bucket == "" {
		return fmt.Errorf("bucket is required for the s3 backend")
	}
	return nil
}

func rolesAsAny() []any {
	roles := auth.GetAllRoles()
	out := make([]any, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
