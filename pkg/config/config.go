// Package config holds the bridge's file-based configuration: backend
// selection, turn tuning, and the serving surfaces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vango-go/voicebridge/pkg/brain"
)

// Config is the full bridge configuration.
type Config struct {
	// Listen is the HTTP address serving metrics and the websocket side
	// channel.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel         string `yaml:"log_level" json:"log_level"`
	MetricsNamespace string `yaml:"metrics_namespace" json:"metrics_namespace"`

	Brain   BrainSelection `yaml:"brain" json:"brain"`
	Session SessionConfig  `yaml:"session" json:"session"`
	Turn    TurnConfig     `yaml:"turn" json:"turn"`
	Redis   RedisConfig    `yaml:"redis" json:"redis"`
}

// BrainSelection picks the active backend: a type naming a registered kind,
// plus one block per kind with that kind's settings, keyed by the kind name.
type BrainSelection struct {
	Type     string                   `yaml:"type" json:"type"`
	Backends map[string]BackendConfig `yaml:",inline" json:"-"`
}

// UnmarshalJSON accepts the same shape as the YAML form: a "type" key next
// to one object per backend kind.
func (s *BrainSelection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &s.Type); err != nil {
			return fmt.Errorf("brain.type: %w", err)
		}
		delete(raw, "type")
	}
	s.Backends = make(map[string]BackendConfig, len(raw))
	for kind, blob := range raw {
		var bc BackendConfig
		if err := json.Unmarshal(blob, &bc); err != nil {
			return fmt.Errorf("brain.%s: %w", kind, err)
		}
		s.Backends[kind] = bc
	}
	return nil
}

// BackendConfig is one backend kind's settings.
type BackendConfig struct {
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	Token    string            `yaml:"token" json:"token"`
	Model    string            `yaml:"model" json:"model"`
	Options  map[string]string `yaml:"options" json:"options"`
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	DisconnectTTL time.Duration `yaml:"disconnect_ttl" json:"disconnect_ttl"`
}

// TurnConfig tunes the orchestrator.
type TurnConfig struct {
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	EnableSpeculative   bool          `yaml:"enable_speculative" json:"enable_speculative"`
	SpeculativeDebounce time.Duration `yaml:"speculative_debounce" json:"speculative_debounce"`
	SystemPrompt        string        `yaml:"system_prompt" json:"system_prompt"`
	FailureUtterance    string        `yaml:"failure_utterance" json:"failure_utterance"`
}

// RedisConfig enables the optional session mirror.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Listen:           ":8790",
		LogLevel:         "info",
		MetricsNamespace: "voicebridge",
		Brain:            BrainSelection{Type: "openai"},
		Session:          SessionConfig{DisconnectTTL: 5 * time.Minute},
		Turn: TurnConfig{
			Timeout:             30 * time.Second,
			SpeculativeDebounce: 400 * time.Millisecond,
			FailureUtterance:    "Sorry, something went wrong. Could you say that again?",
		},
	}
}

// tokenEnvVars maps backend kinds to their conventional credential variable.
var tokenEnvVars = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// BrainConfig resolves the selected backend's settings into the registry's
// create configuration. A missing token falls back to the kind's
// conventional environment variable.
func (c *Config) BrainConfig() (brain.Config, error) {
	if c.Brain.Type == "" {
		return brain.Config{}, fmt.Errorf("brain.type is required")
	}
	block := c.Brain.Backends[c.Brain.Type]
	if block.Token == "" {
		if envVar, ok := tokenEnvVars[c.Brain.Type]; ok {
			block.Token = os.Getenv(envVar)
		}
	}
	return brain.Config{
		Kind:     c.Brain.Type,
		Model:    block.Model,
		Endpoint: block.Endpoint,
		Token:    block.Token,
		Options:  block.Options,
	}, nil
}

// Validate checks startup-fatal configuration problems.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Brain.Type == "" {
		return fmt.Errorf("brain.type is required")
	}
	for kind := range c.Brain.Backends {
		if kind == "" {
			return fmt.Errorf("backend block with empty kind name")
		}
	}
	return nil
}
