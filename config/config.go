// Package config — .tskit.yaml configuration file support.
//
// When a .tskit.yaml file exists in the working directory, it supplies
// defaults for export/apply/translate options. Command-line flags
// always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = ".tskit.yaml"

// File is the top-level .tskit.yaml structure.
type File struct {
	// Template is the default TS template path.
	Template string `yaml:"template,omitempty"`
	// Model is the batch payload model name.
	Model string `yaml:"model,omitempty"`
	// SystemPrompt overrides the built-in system prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	// StartIndex is the first custom_id ordinal (default 1).
	StartIndex int `yaml:"start_index,omitempty"`
	// ContextMode: "full", "compact", or "minimal" (default "compact").
	ContextMode string `yaml:"context_mode,omitempty"`
	// MaxLocations limits location references per prompt (default 3).
	MaxLocations *int `yaml:"max_locations,omitempty"`
	// Deduplicate folds duplicate source strings into one request.
	Deduplicate bool `yaml:"deduplicate,omitempty"`
	// IncludeFinished also exports/overwrites finished entries.
	IncludeFinished bool `yaml:"include_finished,omitempty"`
	// Strict requires exact custom_id set equality on apply.
	Strict bool `yaml:"strict,omitempty"`
	// MaxEntries caps exported request records (0 = no cap).
	MaxEntries int `yaml:"max_entries,omitempty"`

	// Translate holds settings for the direct translate command.
	Translate Translate `yaml:"translate,omitempty"`
}

// Translate configures the streaming translate command.
type Translate struct {
	// BaseURL is the OpenAI-compatible endpoint base URL.
	BaseURL string `yaml:"base_url,omitempty"`
	// Model is the chat model name.
	Model string `yaml:"model,omitempty"`
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string `yaml:"proxy,omitempty"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// BackupInterval is how many translated units between template saves.
	BackupInterval int `yaml:"backup_interval,omitempty"`
}

// Load reads .tskit.yaml from the given directory. Returns a config
// with defaults applied when no file exists.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	cfg := &File{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if cfg.ContextMode != "" {
		switch cfg.ContextMode {
		case "full", "compact", "minimal":
		default:
			return nil, fmt.Errorf("%s: invalid context_mode %q (valid: full, compact, minimal)", path, cfg.ContextMode)
		}
	}
	if cfg.StartIndex < 0 {
		return nil, fmt.Errorf("%s: start_index must not be negative", path)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *File) applyDefaults() {
	if c.StartIndex == 0 {
		c.StartIndex = 1
	}
	if c.ContextMode == "" {
		c.ContextMode = "compact"
	}
	if c.MaxLocations == nil {
		def := 3
		c.MaxLocations = &def
	}
	if c.Translate.BackupInterval == 0 {
		c.Translate.BackupInterval = 10
	}
}
