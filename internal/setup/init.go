// Package setup initializes and locates the promptdock base directory.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/store"
)

// DefaultDir returns the base directory: $PROMPTDOCK_DIR when set, otherwise
// ~/.promptdock.
func DefaultDir() (string, error) {
	if dir := os.Getenv("PROMPTDOCK_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".promptdock"), nil
}

// Run initializes the base directory. Safe to re-run: existing config and
// store content are never overwritten, only missing pieces are created.
func Run(baseDir string) error {
	dirs := []string{
		"store",
		"locks",
		"logs",
		"timers",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfgPath := filepath.Join(baseDir, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := writeConfig(cfgPath, model.DefaultConfig()); err != nil {
			return fmt.Errorf("write config.yaml: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(baseDir, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return initStore(baseDir)
}

// initStore seeds the library (version, root folder, empty prompts) unless
// one already exists.
func initStore(baseDir string) error {
	fs, err := store.NewFileStore(filepath.Join(baseDir, "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	existing, err := fs.Get([]string{store.LibraryKey})
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	if _, ok := existing[store.LibraryKey]; ok {
		return nil
	}
	if err := store.SaveLibrary(fs, model.NewLibrary()); err != nil {
		return fmt.Errorf("seed library: %w", err)
	}
	return nil
}

// LoadConfig reads and defaults <baseDir>/config.yaml.
func LoadConfig(baseDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func writeConfig(path string, cfg model.Config) error {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
