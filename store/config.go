package store

import "time"

// Config holds snapshot store initialization parameters.
type Config struct {
	// Path is the FileKV root directory; empty selects the in-memory KV.
	Path string `json:"path,omitempty" toml:"path"`
	// Key overrides the snapshot key.
	Key string `json:"key,omitempty" toml:"key"`
	// ExpiryMinutes overrides the snapshot validity window.
	ExpiryMinutes int `json:"expiry_minutes,omitempty" toml:"expiry_minutes"`
}

// DefaultConfig returns the default store configuration (in-memory KV,
// default key, 30-minute expiry).
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.Key != "" {
		c.Key = source.Key
	}
	if source.ExpiryMinutes > 0 {
		c.ExpiryMinutes = source.ExpiryMinutes
	}
}

// NewFromConfig creates a Store from configuration.
func NewFromConfig(cfg *Config) *Store {
	var kv KV
	if cfg.Path != "" {
		kv = NewFileKV(cfg.Path)
	} else {
		kv = NewMemoryKV()
	}

	opts := []Option{}
	if cfg.Key != "" {
		opts = append(opts, WithKey(cfg.Key))
	}
	if cfg.ExpiryMinutes > 0 {
		opts = append(opts, WithExpiry(time.Duration(cfg.ExpiryMinutes)*time.Minute))
	}
	return New(kv, opts...)
}
