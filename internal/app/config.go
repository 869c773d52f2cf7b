package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
	"github.com/xenking/apikeyd/internal/storage"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (APIKEYD_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store     storage.Config
	Keys      KeysConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// KeysConfig controls secret generation and the access level lattice.
type KeysConfig struct {
	Pepper        string   `usage:"HMAC pepper for secret digests; empty means plain SHA-256" flag:"key-pepper"`
	Prefix        string   `default:"" usage:"Prefix prepended to generated secrets, e.g. ak_" flag:"key-prefix"`
	IssueAttempts int      `default:"3" usage:"Secrets generated before giving up on digest collisions" flag:"issue-attempts"`
	Levels        []string `default:"COMPLETION,ADMIN" usage:"Known access levels"`
	Grants        []string `default:"ADMIN>COMPLETION" usage:"Level grants written as HIGHER>LOWER"`
	AdminLevel    string   `default:"ADMIN" usage:"Level required to issue and revoke keys over HTTP" flag:"admin-level"`
}

// RateLimitConfig controls per-client token buckets. RPS <= 0 disables
// rate limiting.
type RateLimitConfig struct {
	RPS        float64 `default:"50" usage:"Sustained requests per second per client" flag:"rate-limit-rps"`
	Burst      int     `default:"100" usage:"Requests a client may burst" flag:"rate-limit-burst"`
	TrustProxy bool    `default:"false" usage:"Key clients on X-Real-IP/X-Forwarded-For set by a reverse proxy" flag:"rate-limit-trust-proxy"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// configFiles are tried in order; missing files are skipped.
var configFiles = []string{"config.yaml", "/etc/apikeyd/config.yaml"}

// LoadConfig loads configuration from environment variables, flags, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return load(loaderConfig(configFiles, false))
}

// LoadFileConfig is LoadConfig for tools that own their command line: flags
// are not parsed and path, when set, replaces the default file list.
func LoadFileConfig(path string) (*Config, error) {
	files := configFiles
	if path != "" {
		files = []string{path}
	}
	return load(loaderConfig(files, true))
}

func loaderConfig(files []string, skipFlags bool) aconfig.Config {
	return aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "APIKEYD",
		// APIKEYD_SEED_* variables belong to the seeder.
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	}
}

func load(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Store.Validate(); err != nil {
		return nil, errors.Wrap(err, "store config")
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, errors.Wrap(err, "keys config")
	}
	if !policy.Known(apikey.AccessLevel(cfg.Keys.AdminLevel)) {
		return nil, errors.Errorf("keys config: admin level %q is not one of the configured levels", cfg.Keys.AdminLevel)
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's APIKEYD_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Policy builds the access level lattice from Keys.Levels and Keys.Grants.
func (c *Config) Policy() (*apikey.Policy, error) {
	return apikey.ParsePolicy(c.Keys.Levels, c.Keys.Grants)
}

// Codec builds the secret codec from Keys.
func (c *Config) Codec() *secret.Codec {
	var opts []secret.Option
	if c.Keys.Pepper != "" {
		opts = append(opts, secret.WithPepper([]byte(c.Keys.Pepper)))
	}
	if c.Keys.Prefix != "" {
		opts = append(opts, secret.WithPrefix(c.Keys.Prefix))
	}
	return secret.NewCodec(opts...)
}
