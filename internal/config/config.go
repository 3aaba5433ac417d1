package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ongoal/internal/goal"
)

const DefaultPath = "ongoal.yaml"

type LLM struct {
	Backend    string        `yaml:"backend"`
	Model      string        `yaml:"model"`
	ChatModel  string        `yaml:"chat_model"`
	OllamaHost string        `yaml:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxTokens  int           `yaml:"max_tokens"`
}

type Pipeline struct {
	HistoryTurns  int           `yaml:"history_turns"`
	MergeStrategy string        `yaml:"merge_strategy"`
	Similarity    float64       `yaml:"similarity"`
	Stages        goal.Settings `yaml:"stages"`
}

type Server struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Pipeline Pipeline `yaml:"pipeline"`
	Server   Server   `yaml:"server"`
	LogFile  string   `yaml:"log_file"`
	Debug    bool     `yaml:"debug"`
}

func Default() Config {
	return Config{
		LLM: LLM{
			Backend:   "gemini",
			Timeout:   30 * time.Second,
			MaxTokens: 2000,
		},
		Pipeline: Pipeline{
			HistoryTurns:  6,
			MergeStrategy: "llm",
			Similarity:    0.6,
			Stages:        goal.DefaultSettings(),
		},
		Server: Server{
			Addr:           ":8000",
			AllowedOrigins: []string{"http://localhost:8080", "http://localhost:3000"},
		},
		LogFile: "ongoal.log",
	}
}

// Load layers defaults, the yaml file, .env and the environment. A missing
// file is only an error when the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("could not parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("could not read config %s: %w", path, err)
	}

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ONGOAL_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := os.Getenv("ONGOAL_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ONGOAL_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" && cfg.LLM.Model == "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.OllamaHost = v
	}
	if v := os.Getenv("ONGOAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("ONGOAL_HISTORY_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.HistoryTurns = n
		}
	}
	if v := os.Getenv("ONGOAL_MERGE_STRATEGY"); v != "" {
		cfg.Pipeline.MergeStrategy = v
	}
	if v := os.Getenv("ONGOAL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ONGOAL_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ONGOAL_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("ONGOAL_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Debug = true
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.LLM.Backend) {
	case "gemini", "ollama", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM backend: %s", c.LLM.Backend)
	}
	switch c.Pipeline.MergeStrategy {
	case "llm", "rules":
	default:
		return fmt.Errorf("unsupported merge strategy: %s", c.Pipeline.MergeStrategy)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm timeout must be positive")
	}
	if c.Pipeline.Similarity <= 0 || c.Pipeline.Similarity > 1 {
		return fmt.Errorf("similarity must be in (0, 1]")
	}
	if c.Pipeline.HistoryTurns < 0 {
		return fmt.Errorf("history_turns must not be negative")
	}
	return nil
}
