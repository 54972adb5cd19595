// Package settings provides storage for tskit user settings, currently
// the API key for the translation endpoint.
//
// Settings are stored in the XDG data directory:
//
//	$XDG_DATA_HOME/tskit/  (default: ~/.local/share/tskit/)
//
// File permissions are 0600 (owner read/write only).
//
// Lookup order for the API key:
//  1. --api-key flag (highest priority)
//  2. TSKIT_API_KEY environment variable
//  3. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dataDirName = "tskit"
	fileName    = "auth.json"
)

// Info is one stored credential entry.
type Info struct {
	// Key is the API key.
	Key string `json:"key,omitempty"`
	// BaseURL is an optional endpoint override stored with the key.
	BaseURL string `json:"baseUrl,omitempty"`
}

// Store holds credentials keyed by endpoint name.
type Store map[string]*Info

// dataDir returns the XDG data directory for tskit.
// Respects $XDG_DATA_HOME (falls back to ~/.local/share).
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return make(Store)
	}
	if store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// SetAPIKey stores an API key (and optional base URL) for an endpoint name.
func SetAPIKey(name, key, baseURL string) error {
	store := Load()
	store[name] = &Info{Key: key, BaseURL: baseURL}
	return Save(store)
}

// GetAPIKey retrieves the stored API key for an endpoint name.
func GetAPIKey(name string) string {
	info := Load()[name]
	if info == nil {
		return ""
	}
	return info.Key
}

// GetBaseURL retrieves the stored base URL for an endpoint name.
func GetBaseURL(name string) string {
	info := Load()[name]
	if info == nil {
		return ""
	}
	return info.BaseURL
}

// Remove deletes credentials for an endpoint name.
func Remove(name string) error {
	store := Load()
	if _, ok := store[name]; !ok {
		return nil
	}
	delete(store, name)
	return Save(store)
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
