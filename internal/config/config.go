package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quantumflow/finassist/internal/agent"
	"github.com/quantumflow/finassist/internal/inference"
	"github.com/quantumflow/finassist/internal/policy"
)

// ErrConfigNotFound is returned when an explicitly named config file does not exist
var ErrConfigNotFound = errors.New("config file not found")

// EnvPrefix prefixes every environment override
const EnvPrefix = "FINASSIST_"

// Config is the full application configuration
type Config struct {
	LogLevel string       `yaml:"log_level" validate:"oneof=debug info warn error"`
	Engine   EngineConfig `yaml:"engine"`
	Agent    AgentConfig  `yaml:"agent"`
	Policy   PolicyConfig `yaml:"policy"`
	Gold     GoldConfig   `yaml:"gold"`
	Audit    AuditConfig  `yaml:"audit"`
	Server   ServerConfig `yaml:"server"`
}

// EngineConfig configures the reasoning engine client
type EngineConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Model             string        `yaml:"model" validate:"required"`
	Temperature       float64       `yaml:"temperature" validate:"min=0,max=2"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"min=0,max=10"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" validate:"min=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"min=0"`
	Burst             int           `yaml:"burst" validate:"min=0"`
	APIKeyEnv         string        `yaml:"api_key_env" validate:"required"`

	// APIKey is read from the environment variable named by APIKeyEnv, never from the file
	APIKey string `yaml:"-"`
}

// AgentConfig configures the answer loop
type AgentConfig struct {
	MaxRounds int           `yaml:"max_rounds" validate:"min=1,max=10"`
	TopK      int           `yaml:"top_k" validate:"min=0,max=50"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=0"`
}

// PolicyConfig configures the policy index and ingestion
type PolicyConfig struct {
	Backend          string        `yaml:"backend" validate:"oneof=memory badger redis dgraph"`
	DocumentsDir     string        `yaml:"documents_dir"`
	Dimensions       int           `yaml:"dimensions" validate:"min=1"`
	EmbeddingURL     string        `yaml:"embedding_url" validate:"omitempty,url"`
	EmbeddingModel   string        `yaml:"embedding_model"`
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout" validate:"min=0"`
	BadgerPath       string        `yaml:"badger_path" validate:"required_if=Backend badger"`
	RedisURL         string        `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db" validate:"min=0"`
	RedisPrefix      string        `yaml:"redis_prefix"`
	DgraphAlphaURL   string        `yaml:"dgraph_alpha_url" validate:"required_if=Backend dgraph"`
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"min=0"`
	IngestWorkers    int           `yaml:"ingest_workers" validate:"min=1,max=64"`
}

// GoldConfig selects where the gold tables are loaded from
type GoldConfig struct {
	Source     string `yaml:"source" validate:"oneof=csv sqlite"`
	Dir        string `yaml:"dir" validate:"required_if=Source csv"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Source sqlite"`
}

// AuditConfig configures the conversation audit log
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	engine := inference.DefaultConfig()
	orchestrator := agent.DefaultOrchestratorConfig()
	index := policy.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			BaseURL:           engine.BaseURL,
			Model:             engine.Model,
			Temperature:       engine.Temperature,
			Timeout:           engine.Timeout,
			MaxRetries:        engine.MaxRetries,
			RetryBackoff:      engine.RetryBackoff,
			RequestsPerSecond: engine.RequestsPerSecond,
			Burst:             engine.Burst,
			APIKeyEnv:         "MISTRAL_API_KEY",
		},
		Agent: AgentConfig{
			MaxRounds: orchestrator.MaxRounds,
			TopK:      orchestrator.TopK,
			Timeout:   orchestrator.Timeout,
		},
		Policy: PolicyConfig{
			Backend:          index.Backend,
			DocumentsDir:     "data/documents",
			Dimensions:       index.EmbeddingDimensions,
			EmbeddingModel:   index.EmbeddingModel,
			EmbeddingTimeout: index.EmbeddingTimeout,
			BadgerPath:       index.BadgerPath,
			RedisURL:         index.RedisURL,
			RedisPrefix:      index.RedisPrefix,
			DgraphAlphaURL:   index.DgraphAlphaURL,
			CacheTTL:         index.CacheTTL,
			IngestWorkers:    4,
		},
		Gold: GoldConfig{
			Source:     "csv",
			Dir:        "data/gold",
			SQLitePath: "~/.finassist/gold.db",
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "~/.finassist/audit.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Engine.APIKey = strings.TrimSpace(os.Getenv(cfg.Engine.APIKeyEnv))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type override struct {
	name  string
	apply func(c *Config, v string) error
}

var overrides = []override{
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"ENGINE_BASE_URL", func(c *Config, v string) error { c.Engine.BaseURL = v; return nil }},
	{"ENGINE_MODEL", func(c *Config, v string) error { c.Engine.Model = v; return nil }},
	{"ENGINE_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Engine.Timeout, v) }},
	{"AGENT_MAX_ROUNDS", func(c *Config, v string) error { return setInt(&c.Agent.MaxRounds, v) }},
	{"AGENT_TOP_K", func(c *Config, v string) error { return setInt(&c.Agent.TopK, v) }},
	{"POLICY_BACKEND", func(c *Config, v string) error { c.Policy.Backend = v; return nil }},
	{"POLICY_DOCUMENTS_DIR", func(c *Config, v string) error { c.Policy.DocumentsDir = v; return nil }},
	{"EMBEDDING_URL", func(c *Config, v string) error { c.Policy.EmbeddingURL = v; return nil }},
	{"BADGER_PATH", func(c *Config, v string) error { c.Policy.BadgerPath = v; return nil }},
	{"REDIS_URL", func(c *Config, v string) error { c.Policy.RedisURL = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Policy.RedisPassword = v; return nil }},
	{"DGRAPH_ADDR", func(c *Config, v string) error { c.Policy.DgraphAlphaURL = v; return nil }},
	{"GOLD_SOURCE", func(c *Config, v string) error { c.Gold.Source = v; return nil }},
	{"GOLD_DIR", func(c *Config, v string) error { c.Gold.Dir = v; return nil }},
	{"GOLD_SQLITE_PATH", func(c *Config, v string) error { c.Gold.SQLitePath = v; return nil }},
	{"AUDIT_ENABLED", func(c *Config, v string) error { return setBool(&c.Audit.Enabled, v) }},
	{"AUDIT_PATH", func(c *Config, v string) error { c.Audit.Path = v; return nil }},
	{"SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// InferenceConfig converts the engine section for inference.NewClient
func (c *Config) InferenceConfig() *inference.Config {
	return &inference.Config{
		BaseURL:           c.Engine.BaseURL,
		APIKey:            c.Engine.APIKey,
		Model:             c.Engine.Model,
		Temperature:       c.Engine.Temperature,
		Timeout:           c.Engine.Timeout,
		MaxRetries:        c.Engine.MaxRetries,
		RetryBackoff:      c.Engine.RetryBackoff,
		RequestsPerSecond: c.Engine.RequestsPerSecond,
		Burst:             c.Engine.Burst,
	}
}

// OrchestratorConfig converts the agent section
func (c *Config) OrchestratorConfig() *agent.OrchestratorConfig {
	return &agent.OrchestratorConfig{
		MaxRounds: c.Agent.MaxRounds,
		TopK:      c.Agent.TopK,
		Timeout:   c.Agent.Timeout,
	}
}

// PolicyConfig converts the policy section for policy.Open
func (c *Config) PolicyConfig() *policy.Config {
	return &policy.Config{
		Backend:             c.Policy.Backend,
		EmbeddingDimensions: c.Policy.Dimensions,
		EmbeddingURL:        c.Policy.EmbeddingURL,
		EmbeddingModel:      c.Policy.EmbeddingModel,
		EmbeddingTimeout:    c.Policy.EmbeddingTimeout,
		BadgerPath:          c.Policy.BadgerPath,
		RedisURL:            c.Policy.RedisURL,
		RedisPassword:       c.Policy.RedisPassword,
		RedisDB:             c.Policy.RedisDB,
		RedisPrefix:         c.Policy.RedisPrefix,
		DgraphAlphaURL:      c.Policy.DgraphAlphaURL,
		CacheTTL:            c.Policy.CacheTTL,
	}
}
