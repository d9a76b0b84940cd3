package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/synaptic-ai/chatstream/store"
)

const (
	defaultBaseURL        = "http://localhost:3000"
	defaultAskPath        = "/askAI"
	defaultHistoryPath    = "/chatHistory"
	defaultClearPath      = "/clearChat"
	defaultRequestTimeout = 15 // seconds, history and clear only
)

// Config holds initialization parameters for the engine and its subsystems.
type Config struct {
	// BaseURL is the agent service root.
	BaseURL string `json:"base_url,omitempty" toml:"base_url"`
	// Endpoint paths, resolved against BaseURL.
	AskPath     string `json:"ask_path,omitempty" toml:"ask_path"`
	HistoryPath string `json:"history_path,omitempty" toml:"history_path"`
	ClearPath   string `json:"clear_path,omitempty" toml:"clear_path"`
	// NotesBaseURL is the site root note citations resolve against.
	NotesBaseURL string `json:"notes_base_url,omitempty" toml:"notes_base_url"`
	// AutoSave persists the transcript after every accepted message instead
	// of waiting for an explicit SaveLocal.
	AutoSave bool `json:"auto_save,omitempty" toml:"auto_save"`
	// FlushTrailing parses a final unterminated stream line instead of
	// dropping it. See sse.Options.
	FlushTrailing bool `json:"flush_trailing,omitempty" toml:"flush_trailing"`
	// RequestTimeoutSeconds bounds the history and clear calls. The ask
	// stream is bounded only by its context.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty" toml:"request_timeout_seconds"`

	Store store.Config `json:"store" toml:"store"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		BaseURL:               defaultBaseURL,
		AskPath:               defaultAskPath,
		HistoryPath:           defaultHistoryPath,
		ClearPath:             defaultClearPath,
		RequestTimeoutSeconds: defaultRequestTimeout,
		Store:                 store.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.AskPath != "" {
		c.AskPath = source.AskPath
	}
	if source.HistoryPath != "" {
		c.HistoryPath = source.HistoryPath
	}
	if source.ClearPath != "" {
		c.ClearPath = source.ClearPath
	}
	if source.NotesBaseURL != "" {
		c.NotesBaseURL = source.NotesBaseURL
	}
	if source.AutoSave {
		c.AutoSave = true
	}
	if source.FlushTrailing {
		c.FlushTrailing = true
	}
	if source.RequestTimeoutSeconds > 0 {
		c.RequestTimeoutSeconds = source.RequestTimeoutSeconds
	}
	c.Store.Merge(&source.Store)
}

// LoadConfig reads a config file, merges it with defaults, and returns the
// resulting Config. The format follows the file extension: .toml is parsed
// as TOML, anything else as JSON.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
