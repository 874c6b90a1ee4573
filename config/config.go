package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the trip research pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Tool      ToolConfig      `mapstructure:"tool"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Output    OutputConfig    `mapstructure:"output"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig selects the structured generation provider.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // openai, gemini
	Model        string        `mapstructure:"model"`
	OpenAIAPIKey string        `mapstructure:"openai_api_key"`
	GoogleAPIKey string        `mapstructure:"google_api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// APIKey returns the credential for the configured provider.
func (l LLMConfig) APIKey() string {
	switch l.Provider {
	case "gemini":
		return l.GoogleAPIKey
	default:
		return l.OpenAIAPIKey
	}
}

func (l LLMConfig) Normalize() LLMConfig {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = "gemini"
	}
	if strings.TrimSpace(l.Model) == "" {
		switch l.Provider {
		case "openai":
			l.Model = "gpt-4o-mini"
		default:
			l.Model = "gemini-flash-latest"
		}
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 4096
	}
	return l
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider %q is not supported (openai, gemini)", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// SearchConfig controls the hosted search API used inside the tool process.
type SearchConfig struct {
	Provider           string        `mapstructure:"provider"` // tavily, serper, brave
	TavilyAPIKey       string        `mapstructure:"tavily_api_key"`
	SerperAPIKey       string        `mapstructure:"serper_api_key"`
	BraveAPIKey        string        `mapstructure:"brave_api_key"`
	MaxQueriesPerBatch int           `mapstructure:"max_queries_per_batch"`
	MaxCharsPerResult  int           `mapstructure:"max_chars_per_result"`
	MaxResults         int           `mapstructure:"max_results"`
	Concurrency        int           `mapstructure:"concurrency"`
	EnrichEmptyResults bool          `mapstructure:"enrich_empty_results"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// APIKey returns the credential for the configured search provider.
func (s SearchConfig) APIKey() string {
	switch s.Provider {
	case "serper":
		return s.SerperAPIKey
	case "brave":
		return s.BraveAPIKey
	default:
		return s.TavilyAPIKey
	}
}

func (s SearchConfig) Normalize() SearchConfig {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = "tavily"
	}
	if s.MaxQueriesPerBatch <= 0 {
		s.MaxQueriesPerBatch = 3
	}
	if s.MaxCharsPerResult <= 0 {
		s.MaxCharsPerResult = 300
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 2
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = 20 * time.Second
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "tavily", "serper", "brave":
	default:
		return fmt.Errorf("search.provider %q is not supported (tavily, serper, brave)", s.Provider)
	}
	return nil
}

// ToolConfig describes how the tool process is spawned.
type ToolConfig struct {
	Command          string        `mapstructure:"command"`
	Args             []string      `mapstructure:"args"`
	Env              []string      `mapstructure:"env"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
}

// Normalize defaults the command to the running executable's own
// "tools serve" subcommand.
func (t ToolConfig) Normalize() ToolConfig {
	if strings.TrimSpace(t.Command) == "" {
		if exe, err := os.Executable(); err == nil {
			t.Command = exe
		}
		if len(t.Args) == 0 {
			t.Args = []string{"tools", "serve"}
		}
	}
	if t.HandshakeTimeout <= 0 {
		t.HandshakeTimeout = 10 * time.Second
	}
	if t.CallTimeout <= 0 {
		t.CallTimeout = 2 * time.Minute
	}
	return t
}

// StorageConfig contains checkpoint persistence settings
type StorageConfig struct {
	SessionStore string         `mapstructure:"session_store"` // inmemory, redis, postgres
	SessionTTL   time.Duration  `mapstructure:"session_ttl"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.SessionStore {
	case "inmemory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.session_store %q is not supported (inmemory, redis, postgres)", s.SessionStore)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the settings.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// OutputConfig controls where finished itineraries are rendered.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"` // markdown, json, yaml
}

func (o OutputConfig) Normalize() OutputConfig {
	if strings.TrimSpace(o.Dir) == "" {
		o.Dir = "."
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "markdown"
	}
	return o
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.default_timeout", "60s")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.openai_api_key", os.Getenv("OPENAI_API_KEY"))
	v.SetDefault("llm.google_api_key", os.Getenv("GOOGLE_API_KEY"))
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavily_api_key", os.Getenv("TAVILY_API_KEY"))
	v.SetDefault("search.serper_api_key", os.Getenv("SERPER_API_KEY"))
	v.SetDefault("search.brave_api_key", os.Getenv("BRAVE_SEARCH_KEY"))
	v.SetDefault("search.max_queries_per_batch", 3)
	v.SetDefault("search.max_chars_per_result", 300)
	v.SetDefault("search.max_results", 2)
	v.SetDefault("search.concurrency", 1)
	v.SetDefault("search.enrich_empty_results", false)
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("tool.command", "")
	v.SetDefault("tool.args", []string{})
	v.SetDefault("tool.env", []string{})
	v.SetDefault("tool.handshake_timeout", "10s")
	v.SetDefault("tool.call_timeout", "2m")

	v.SetDefault("storage.session_store", "inmemory")
	v.SetDefault("storage.session_ttl", "0s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.key_prefix", "wayfarer")
	v.SetDefault("storage.postgres.url", os.Getenv("DATABASE_URL"))
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "wayfarer")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")

	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "markdown")
}

// Load reads configuration from path (or the default search locations when
// path is empty) and applies WAYFARER_* environment overrides. A missing
// config file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("WAYFARER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Search = cfg.Search.Normalize()
	cfg.Tool = cfg.Tool.Normalize()
	cfg.Output = cfg.Output.Normalize()

	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
