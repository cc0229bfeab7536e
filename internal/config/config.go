// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"media-gen-orchestrator/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // memory|postgres|etcd
	Cache   bool   `yaml:"cache"`   // redis read-through cache in front of the backend
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Lease    bool          `yaml:"lease"` // per-job lease lock across instances
}

type OrchestratorConfig struct {
	Workers           int           `yaml:"workers"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	LeaseTTL          time.Duration `yaml:"lease_ttl"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	DBStatsInterval   time.Duration `yaml:"db_stats_interval"`

	InitialPollDelay  time.Duration `yaml:"initial_poll_delay"`
	MaxPollInterval   time.Duration `yaml:"max_poll_interval"`
	SubmitBackoff     time.Duration `yaml:"submit_backoff"`
	MaxSubmitAttempts int           `yaml:"max_submit_attempts"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"`
}

// Policy builds the job lifecycle policy.
func (o OrchestratorConfig) Policy() model.Policy {
	return model.Policy{
		InitialPollDelay:  o.InitialPollDelay,
		MaxPollInterval:   o.MaxPollInterval,
		SubmitBackoff:     o.SubmitBackoff,
		MaxSubmitAttempts: o.MaxSubmitAttempts,
		MaxLifetime:       o.MaxLifetime,
	}
}

type ProviderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	Concurrency   int    `yaml:"concurrency"`     // max in-flight calls
	RatePerMinute int    `yaml:"rate_per_minute"` // 0 disables the shared limiter
	APIKey        string `yaml:"-"`
}

type SimulatedConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ProvidersConfig struct {
	Veo       ProviderConfig  `yaml:"veo"`
	Sora      ProviderConfig  `yaml:"sora"`
	Replicate ProviderConfig  `yaml:"replicate"`
	Simulated SimulatedConfig `yaml:"simulated"`
}

// Secrets never live in the YAML file.
type Secrets struct {
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	ReplicateAPIToken string `envconfig:"REPLICATE_API_TOKEN"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
}

type Config struct {
	Log          LogConfig          `yaml:"log"`
	HTTP         HTTPConfig         `yaml:"http"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	Etcd         EtcdConfig         `yaml:"etcd"`
	Redis        RedisConfig        `yaml:"redis"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Providers    ProvidersConfig    `yaml:"providers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (optional when empty), overlays
// secrets from the environment and validates the result. In dev mode a
// .env file in the working directory is loaded first.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if dev {
		_ = godotenv.Load()
	}
	var sec Secrets
	if err := envconfig.Process("", &sec); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg.applySecrets(sec)
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	c.Providers.Veo.APIKey = s.GeminiAPIKey
	c.Providers.Sora.APIKey = s.OpenAIAPIKey
	c.Providers.Replicate.APIKey = s.ReplicateAPIToken
	if s.DatabaseURL != "" {
		c.Database.URL = s.DatabaseURL
	}
	if s.RedisPassword != "" {
		c.Redis.Password = s.RedisPassword
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	c.HTTP.RequestTimeout = orDefault(c.HTTP.RequestTimeout, 15*time.Second)
	c.HTTP.ShutdownTimeout = orDefault(c.HTTP.ShutdownTimeout, 10*time.Second)

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Etcd.DialTimeout = orDefault(c.Etcd.DialTimeout, 5*time.Second)
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = "/mediagen/jobs/"
	}
	c.Redis.TTL = orDefault(c.Redis.TTL, time.Hour)

	o := &c.Orchestrator
	if o.Workers <= 0 {
		o.Workers = 8
	}
	o.TickInterval = orDefault(o.TickInterval, time.Second)
	o.CallTimeout = orDefault(o.CallTimeout, 60*time.Second)
	o.LeaseTTL = orDefault(o.LeaseTTL, 2*time.Minute)
	o.ReconcileInterval = orDefault(o.ReconcileInterval, 30*time.Second)
	o.DBStatsInterval = orDefault(o.DBStatsInterval, 15*time.Second)

	def := model.DefaultPolicy()
	o.InitialPollDelay = orDefault(o.InitialPollDelay, def.InitialPollDelay)
	o.MaxPollInterval = orDefault(o.MaxPollInterval, def.MaxPollInterval)
	o.SubmitBackoff = orDefault(o.SubmitBackoff, def.SubmitBackoff)
	o.MaxLifetime = orDefault(o.MaxLifetime, def.MaxLifetime)
	if o.MaxSubmitAttempts <= 0 {
		o.MaxSubmitAttempts = def.MaxSubmitAttempts
	}

	for _, p := range []*ProviderConfig{&c.Providers.Veo, &c.Providers.Sora, &c.Providers.Replicate} {
		if p.Concurrency <= 0 {
			p.Concurrency = 4
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url (or DATABASE_URL) is required for the postgres store"))
		}
	case "etcd":
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("etcd.endpoints is required for the etcd store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, postgres, etcd", c.Store.Backend))
	}
	if (c.Store.Cache || c.Redis.Lease) && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when store.cache or redis.lease is set"))
	}
	// a lease must outlive the provider call it guards
	if c.Redis.Lease && c.Orchestrator.LeaseTTL <= c.Orchestrator.CallTimeout {
		errs = append(errs, fmt.Errorf("orchestrator.lease_ttl (%s) must be longer than orchestrator.call_timeout (%s)",
			c.Orchestrator.LeaseTTL, c.Orchestrator.CallTimeout))
	}
	if err := c.Orchestrator.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator: %w", err))
	}

	p := c.Providers
	if !p.Veo.Enabled && !p.Sora.Enabled && !p.Replicate.Enabled && !p.Simulated.Enabled {
		errs = append(errs, errors.New("at least one provider must be enabled"))
	}
	if p.Veo.Enabled && p.Veo.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for the veo provider"))
	}
	if p.Sora.Enabled && p.Sora.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required for the sora provider"))
	}
	if p.Replicate.Enabled && p.Replicate.APIKey == "" {
		errs = append(errs, errors.New("REPLICATE_API_TOKEN is required for the replicate provider"))
	}
	return errors.Join(errs...)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
