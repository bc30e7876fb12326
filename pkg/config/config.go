// Package config loads the engine's settings from an optional YAML
// file with environment-variable fallbacks for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full settings surface.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	Safety  SafetyConfig  `yaml:"safety"`
}

// ServerConfig configures the websocket endpoint.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// AllowedOrigins limits websocket upgrades and CORS. Empty allows
	// the local dev frontend origins.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig configures the plan-generation backend.
type LLMConfig struct {
	// APIKey authenticates against the OpenAI-compatible API. Falls
	// back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint. Falls back to
	// OPENAI_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// Model is the completion model name. Falls back to
	// TASKPILOT_MODEL.
	Model string `yaml:"model"`
}

// BrowserConfig configures launched browser sessions.
type BrowserConfig struct {
	Headless  bool    `yaml:"headless"`
	TimeoutMs float64 `yaml:"timeout_ms"`
	SlowMoMs  float64 `yaml:"slow_mo_ms"`
}

// EngineConfig configures plan execution.
type EngineConfig struct {
	// MaxSteps caps generated plan length.
	MaxSteps int `yaml:"max_steps"`

	// FrameIntervalMs is the frame snapshot cadence; 0 disables frames.
	FrameIntervalMs int `yaml:"frame_interval_ms"`

	// LoginWaitMs is the pause on a detected login page.
	LoginWaitMs int `yaml:"login_wait_ms"`

	// CredentialsTimeoutMs bounds the interactive credentials wait.
	// 0 keeps the documented default of waiting forever.
	CredentialsTimeoutMs int `yaml:"credentials_timeout_ms"`

	// ContinueOnFailure disables abort-on-first-failure.
	ContinueOnFailure bool `yaml:"continue_on_failure"`

	// PlannerFallback enables the heuristic plan when the LLM fails.
	PlannerFallback bool `yaml:"planner_fallback"`
}

// SafetyConfig configures the pre-execution step guard.
type SafetyConfig struct {
	Enabled            bool     `yaml:"enabled"`
	BlockedKeywords    []string `yaml:"blocked_keywords"`
	BlockedURLPatterns []string `yaml:"blocked_url_patterns"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "localhost:8000",
			AllowedOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
		},
		LLM: LLMConfig{},
		Browser: BrowserConfig{
			Headless:  false,
			TimeoutMs: 30000,
		},
		Engine: EngineConfig{
			MaxSteps:        20,
			FrameIntervalMs: 500,
			LoginWaitMs:     60000,
			PlannerFallback: true,
		},
		Safety: SafetyConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, overlays the YAML file
// at path when given, then applies environment fallbacks.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = os.Getenv("TASKPILOT_MODEL")
	}
	if v := os.Getenv("TASKPILOT_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
	if v := os.Getenv("TASKPILOT_ADDR"); v != "" {
		c.Server.Addr = v
	}
}
