// Package config loads cvstore settings. CVSTORE_* environment variables
// override the YAML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// Name is the config file base name looked up in the working directory.
	Name = "cvstore"
	// EnvPrefix prefixes environment overrides, e.g. CVSTORE_GITHUB_REPO.
	EnvPrefix = "CVSTORE"
)

const (
	BackendGitHub = "github"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

type Config struct {
	Backend string       `mapstructure:"backend"`
	GitHub  GitHubConfig `mapstructure:"github"`
	GCS     GCSConfig    `mapstructure:"gcs"`
	Store   StoreConfig  `mapstructure:"store"`
	Loader  LoaderConfig `mapstructure:"loader"`
	Layout  LayoutConfig `mapstructure:"layout"`
	AI      AIConfig     `mapstructure:"ai"`
}

type GitHubConfig struct {
	Repo      string          `mapstructure:"repo"`
	Branch    string          `mapstructure:"branch"`
	APIURL    string          `mapstructure:"api-url"`
	Token     string          `mapstructure:"token"`
	TokenFile string          `mapstructure:"token-file"`
	Committer CommitterConfig `mapstructure:"committer"`
}

type CommitterConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

type GCSConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

type StoreConfig struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	BackoffBase time.Duration `mapstructure:"backoff-base"`
	BackoffMax  time.Duration `mapstructure:"backoff-max"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Author      string        `mapstructure:"author"`
}

type LoaderConfig struct {
	Workers  int           `mapstructure:"workers"`
	CacheTTL time.Duration `mapstructure:"cache-ttl"`
}

type LayoutConfig struct {
	ResultsPrefix   string `mapstructure:"results-prefix"`
	PositionsPrefix string `mapstructure:"positions-prefix"`
	// MirrorDir is a local copy of the shards read when the backend fails.
	MirrorDir string `mapstructure:"mirror-dir"`
}

type AIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Language the model writes its explanations in.
	Language string       `mapstructure:"language"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Backend: BackendGitHub,
		GitHub: GitHubConfig{
			Branch: "main",
			APIURL: "https://api.github.com",
		},
		Store: StoreConfig{
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  8 * time.Second,
			Timeout:     30 * time.Second,
			Author:      Name,
		},
		Loader: LoaderConfig{
			Workers:  8,
			CacheTTL: 5 * time.Minute,
		},
		Layout: LayoutConfig{
			ResultsPrefix: "results",
		},
		AI: AIConfig{
			Gemini: GeminiConfig{
				Model:        "gemini-2.5-pro",
				MaxRetries:   2,
				MaxLogLength: 200,
			},
		},
	}
}

// defaults flattens Default into viper keys. Every key has to be known to
// viper for environment overrides to reach Unmarshal.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"backend":                  d.Backend,
		"github.repo":              d.GitHub.Repo,
		"github.branch":            d.GitHub.Branch,
		"github.api-url":           d.GitHub.APIURL,
		"github.token":             d.GitHub.Token,
		"github.token-file":        d.GitHub.TokenFile,
		"github.committer.name":    d.GitHub.Committer.Name,
		"github.committer.email":   d.GitHub.Committer.Email,
		"gcs.bucket":               d.GCS.Bucket,
		"gcs.endpoint":             d.GCS.Endpoint,
		"store.max-attempts":       d.Store.MaxAttempts,
		"store.backoff-base":       d.Store.BackoffBase,
		"store.backoff-max":        d.Store.BackoffMax,
		"store.timeout":            d.Store.Timeout,
		"store.author":             d.Store.Author,
		"loader.workers":           d.Loader.Workers,
		"loader.cache-ttl":         d.Loader.CacheTTL,
		"layout.results-prefix":    d.Layout.ResultsPrefix,
		"layout.positions-prefix":  d.Layout.PositionsPrefix,
		"layout.mirror-dir":        d.Layout.MirrorDir,
		"ai.enabled":               d.AI.Enabled,
		"ai.language":              d.AI.Language,
		"ai.gemini.api-key":        d.AI.Gemini.APIKey,
		"ai.gemini.api-key-file":   d.AI.Gemini.APIKeyFile,
		"ai.gemini.model":          d.AI.Gemini.Model,
		"ai.gemini.max-retries":    d.AI.Gemini.MaxRetries,
		"ai.gemini.max-log-length": d.AI.Gemini.MaxLogLength,
	}
}

// Prepare registers defaults and environment lookups on v.
func Prepare(v *viper.Viper) {
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads file, or cvstore.yaml from the working directory when file
// is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load prepares v, reads the config file and returns validated settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	Prepare(v)
	if err := ReadFile(v, file); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Layout.ResultsPrefix = strings.Trim(cfg.Layout.ResultsPrefix, "/")
	cfg.Layout.PositionsPrefix = strings.Trim(cfg.Layout.PositionsPrefix, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGitHub:
		owner, name, ok := strings.Cut(c.GitHub.Repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("config error: github.repo must be \"owner/name\", got %q", c.GitHub.Repo)
		}
	case BackendGCS:
		if strings.TrimSpace(c.GCS.Bucket) == "" {
			return errors.New("config error: gcs.bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config error: unknown backend %q (want %s, %s or %s)", c.Backend, BackendGitHub, BackendGCS, BackendMemory)
	}

	if c.Store.MaxAttempts < 1 {
		return errors.New("config error: store.max-attempts must be at least 1")
	}
	if c.Store.BackoffBase < 0 || c.Store.BackoffMax < 0 || c.Store.Timeout < 0 {
		return errors.New("config error: store durations must not be negative")
	}
	if c.Store.BackoffMax > 0 && c.Store.BackoffBase > c.Store.BackoffMax {
		return errors.New("config error: store.backoff-base exceeds store.backoff-max")
	}
	if c.Loader.Workers < 1 {
		return errors.New("config error: loader.workers must be at least 1")
	}
	if c.Loader.CacheTTL < 0 {
		return errors.New("config error: loader.cache-ttl must not be negative")
	}
	if c.AI.Gemini.MaxRetries < 0 {
		return errors.New("config error: ai.gemini.max-retries must not be negative")
	}
	return nil
}
