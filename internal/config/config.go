// Package config loads codecrew settings from defaults, a YAML file, a
// workspace .env file and CODECREW_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CODECREW_"

// FileName is the per-workspace config file.
const FileName = "codecrew.yaml"

// Config holds all codecrew settings.
type Config struct {
	Workspace    string             `koanf:"workspace"`
	DataDir      string             `koanf:"data_dir"`
	LLM          LLMConfig          `koanf:"llm"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Context      ContextConfig      `koanf:"context"`
	Tools        ToolsConfig        `koanf:"tools"`
	Events       EventsConfig       `koanf:"events"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Log          LogConfig          `koanf:"log"`
}

// LLMConfig points at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL       string        `koanf:"base_url"`
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxRetries    int           `koanf:"max_retries"`
}

type OrchestratorConfig struct {
	MaxIterations int `koanf:"max_iterations"`
	MaxSteps      int `koanf:"max_steps"`
}

// ContextConfig bounds what a worker sees of the conversation.
type ContextConfig struct {
	TokenBudget     int    `koanf:"token_budget"`
	KeepLastPlanner int    `koanf:"keep_last_planner"`
	KeepLast        int    `koanf:"keep_last"`
	Estimator       string `koanf:"estimator"`
}

type ToolsConfig struct {
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	BackoffMin     time.Duration `koanf:"backoff_min"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	ShellTimeout   time.Duration `koanf:"shell_timeout"`
	SearchEndpoint string        `koanf:"search_endpoint"`
}

type EventsConfig struct {
	Buffer int `koanf:"buffer"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// sections are the env var segments that map to nested keys.
var sections = map[string]bool{
	"llm":          true,
	"orchestrator": true,
	"context":      true,
	"tools":        true,
	"events":       true,
	"metrics":      true,
	"log":          true,
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir: DataDir(),
		LLM: LLMConfig{
			Model:      "gpt-4o",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Orchestrator: OrchestratorConfig{MaxIterations: 10, MaxSteps: 50},
		Context: ContextConfig{
			TokenBudget:     100000,
			KeepLastPlanner: 50,
			KeepLast:        30,
			Estimator:       "chars",
		},
		Tools: ToolsConfig{
			Timeout:      60 * time.Second,
			MaxRetries:   2,
			BackoffMin:   time.Second,
			BackoffMax:   10 * time.Second,
			ShellTimeout: 60 * time.Second,
		},
		Events: EventsConfig{Buffer: 256},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration for workspace. An empty workspace means the
// current directory. configPath overrides the file lookup.
func Load(workspace, configPath string) (*Config, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workspace = wd
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	k := koanf.New(".")

	if configPath == "" {
		configPath = findFile(abs)
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// .env never overrides variables already set in the environment.
	dotenv := filepath.Join(abs, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workspace == "" {
		cfg.Workspace = abs
	}
	applyFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps CODECREW_LLM_BASE_URL to llm.base_url and
// CODECREW_DATA_DIR to data_dir.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + parts[1]
	}
	return lower
}

func applyFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DataDir()
	}
}

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.MaxIterations < 1 {
		errs = append(errs, errors.New("orchestrator.max_iterations must be at least 1"))
	}
	if c.Orchestrator.MaxSteps < 1 {
		errs = append(errs, errors.New("orchestrator.max_steps must be at least 1"))
	}
	if c.Context.TokenBudget < 1 {
		errs = append(errs, errors.New("context.token_budget must be positive"))
	}
	if c.Context.KeepLast < 1 || c.Context.KeepLastPlanner < 1 {
		errs = append(errs, errors.New("context.keep_last and context.keep_last_planner must be positive"))
	}
	switch c.Context.Estimator {
	case "chars", "tiktoken":
	default:
		errs = append(errs, fmt.Errorf("context.estimator %q: want chars or tiktoken", c.Context.Estimator))
	}
	if c.Tools.MaxRetries < 0 {
		errs = append(errs, errors.New("tools.max_retries must not be negative"))
	}
	if c.Events.Buffer < 1 {
		errs = append(errs, errors.New("events.buffer must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

// findFile returns the first config file that exists: the workspace file,
// then the user config dir.
func findFile(workspace string) string {
	candidates := []string{filepath.Join(workspace, FileName)}
	if dir := configDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func configDir() string {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "codecrew")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "codecrew")
}

// DataDir is where the journal and pattern files live
// ($XDG_DATA_HOME/codecrew, else ~/.local/share/codecrew).
func DataDir() string {
	if x := os.Getenv("XDG_DATA_HOME"); x != "" {
		return filepath.Join(x, "codecrew")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "codecrew")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
