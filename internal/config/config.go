package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeOpenAI    = "openai"
	TypeSerper    = "serper"
	TypeFirecrawl = "firecrawl"
	TypeFetch     = "fetch"
)

const SecretRefPrefix = "secret:"

type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Retry     RetryConfig               `yaml:"retry"`
	Crews     CrewsConfig               `yaml:"crews"`
	Router    RouterConfig              `yaml:"router"`
	NATS      NATSConfig                `yaml:"nats"`
	Store     StoreConfig               `yaml:"store"`
	Web       WebConfig                 `yaml:"web"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Telegram  TelegramConfig            `yaml:"telegram"`
	Vault     VaultConfig               `yaml:"vault"`
	Export    ExportConfig              `yaml:"export"`
}

// ProviderConfig describes one capability provider: a language model
// backend or a tool service.
type ProviderConfig struct {
	Type        string        `yaml:"type"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// IsModel reports whether the provider is a language model backend.
func (p ProviderConfig) IsModel() bool {
	switch p.Type {
	case TypeAnthropic, TypeGemini, TypeOpenAI:
		return true
	}
	return false
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type CrewsConfig struct {
	Dir           string `yaml:"dir"`
	Watch         bool   `yaml:"watch"`
	Provider      string `yaml:"provider"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type RouterConfig struct {
	DefaultCrew string `yaml:"default_crew"`
	Provider    string `yaml:"provider"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Providers: map[string]ProviderConfig{
			"openai":    {Type: TypeOpenAI},
			"gemini":    {Type: TypeGemini},
			"anthropic": {Type: TypeAnthropic},
			"serper":    {Type: TypeSerper},
			"firecrawl": {Type: TypeFirecrawl},
			"fetch":     {Type: TypeFetch},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
		},
		Crews: CrewsConfig{
			Dir:           "crews",
			Provider:      "openai",
			MaxConcurrent: 4,
		},
		Router: RouterConfig{
			DefaultCrew: "qa",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/crew.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Export: ExportConfig{
			Dir:    "output",
			Format: "md",
		},
	}
}

// providerDefaults fills type-specific defaults left empty in the file.
func providerDefaults(p ProviderConfig) ProviderConfig {
	switch p.Type {
	case TypeOpenAI:
		if p.Model == "" {
			p.Model = "gpt-4-turbo"
		}
		if p.BaseURL == "" {
			p.BaseURL = "https://api.openai.com"
		}
	case TypeGemini:
		if p.Model == "" {
			p.Model = "gemini-1.5-flash"
		}
	case TypeAnthropic:
		if p.Model == "" {
			p.Model = "claude-sonnet-4-20250514"
		}
	case TypeSerper:
		if p.BaseURL == "" {
			p.BaseURL = "https://google.serper.dev"
		}
	case TypeFirecrawl:
		if p.BaseURL == "" {
			p.BaseURL = "https://api.firecrawl.dev"
		}
		if p.CacheTTL == 0 {
			p.CacheTTL = 24 * time.Hour
		}
	case TypeFetch:
		if p.CacheTTL == 0 {
			p.CacheTTL = time.Hour
		}
	}
	if p.IsModel() {
		if p.Temperature == 0 {
			p.Temperature = 0.6
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 2048
		}
	}
	if p.Timeout == 0 {
		p.Timeout = 2 * time.Minute
	}
	return p
}

func Load() (*Config, error) {
	path := os.Getenv("CREW_CONFIG")
	if path == "" {
		path = "config/crew.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields defaults plus
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	for name, p := range cfg.Providers {
		cfg.Providers[name] = providerDefaults(p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross references between sections.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		switch p.Type {
		case TypeAnthropic, TypeGemini, TypeOpenAI, TypeSerper, TypeFirecrawl, TypeFetch:
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	if c.Crews.Provider != "" {
		p, ok := c.Providers[c.Crews.Provider]
		if !ok {
			return fmt.Errorf("crews.provider: unknown provider %q", c.Crews.Provider)
		}
		if !p.IsModel() {
			return fmt.Errorf("crews.provider: %q is not a model provider", c.Crews.Provider)
		}
	}
	if c.Router.Provider != "" {
		if _, ok := c.Providers[c.Router.Provider]; !ok {
			return fmt.Errorf("router.provider: unknown provider %q", c.Router.Provider)
		}
	}
	if c.Crews.MaxConcurrent < 1 {
		return fmt.Errorf("crews.max_concurrent must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	switch c.Export.Format {
	case "", "md", "txt", "zst":
	default:
		return fmt.Errorf("export.format: unsupported format %q", c.Export.Format)
	}
	return nil
}

// ProviderNames returns the configured provider names, sorted.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveSecrets replaces secret:<name> API keys using lookup.
func (c *Config) ResolveSecrets(lookup func(name string) (string, error)) error {
	for name, p := range c.Providers {
		ref, ok := strings.CutPrefix(p.APIKey, SecretRefPrefix)
		if !ok {
			continue
		}
		v, err := lookup(ref)
		if err != nil {
			return fmt.Errorf("provider %q: resolve secret %q: %w", name, ref, err)
		}
		p.APIKey = v
		c.Providers[name] = p
	}
	return nil
}

// apiKeyEnv maps provider types to the environment variable holding their
// key. Keys set in the file take precedence.
var apiKeyEnv = map[string]string{
	TypeOpenAI:    "OPENAI_API_KEY",
	TypeGemini:    "GOOGLE_API_KEY",
	TypeAnthropic: "ANTHROPIC_API_KEY",
	TypeFirecrawl: "FIRECRAWL_API_KEY",
	TypeSerper:    "SERPER_API_KEY",
}

func applyEnv(cfg *Config) {
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			continue
		}
		if env, ok := apiKeyEnv[p.Type]; ok {
			if v := os.Getenv(env); v != "" {
				p.APIKey = v
				cfg.Providers[name] = p
			}
		}
	}
	if v := os.Getenv("CREW_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CREW_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CREW_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CREW_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CREW_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREW_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CREW_CREWS_DIR"); v != "" {
		cfg.Crews.Dir = v
	}
	if v := os.Getenv("CREW_DEFAULT_CREW"); v != "" {
		cfg.Router.DefaultCrew = v
	}
}
