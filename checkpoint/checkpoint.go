// Package checkpoint implements resume state for streaming translation
// runs. A checkpoint file beside the template records which units have
// already been translated (keyed "context:source"), so an interrupted
// run continues where it stopped instead of re-translating.
//
// The file is removed by Clear after the final template save.
package checkpoint

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Suffix is appended to the template path to form the checkpoint path.
const Suffix = ".checkpoint.yaml"

// Version is the checkpoint file format version.
const Version = 1

// File represents the checkpoint state.
type File struct {
	Version   int             `yaml:"version"`
	Processed map[string]bool `yaml:"processed"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// PathFor returns the checkpoint path for a template path.
func PathFor(templatePath string) string {
	return templatePath + Suffix
}

// Load reads the checkpoint for a template. Returns an empty checkpoint
// if the file doesn't exist.
func Load(templatePath string) (*File, error) {
	path := PathFor(templatePath)
	cp := &File{
		Version:   Version,
		Processed: make(map[string]bool),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cp.path = path

	if cp.Processed == nil {
		cp.Processed = make(map[string]bool)
	}
	return cp, nil
}

// Save writes the checkpoint to disk.
func (cp *File) Save() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.path == "" {
		return fmt.Errorf("checkpoint path not set")
	}

	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := os.WriteFile(cp.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", cp.path, err)
	}
	return nil
}

// Path returns the checkpoint file path.
func (cp *File) Path() string {
	return cp.path
}

// Done reports whether a unit key has already been processed.
func (cp *File) Done(key string) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.Processed[key]
}

// Mark records a unit key as processed.
func (cp *File) Mark(key string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.Processed[key] = true
}

// Count returns the number of processed keys.
func (cp *File) Count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.Processed)
}

// Keys returns the processed keys, sorted.
func (cp *File) Keys() []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	keys := make([]string, 0, len(cp.Processed))
	for k := range cp.Processed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear deletes the checkpoint file and resets the in-memory state.
// Called after the translated template is fully saved.
func (cp *File) Clear() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.Processed = make(map[string]bool)
	if cp.path == "" {
		return nil
	}
	if err := os.Remove(cp.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", cp.path, err)
	}
	return nil
}
