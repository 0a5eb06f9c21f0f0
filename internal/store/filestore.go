package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/promptdock/promptdock/internal/lock"
)

// FileStore persists one JSON document per key under dir. Every write goes
// through a temp file, is re-read and validated, then renamed into place, so
// a crash mid-write never leaves a torn value behind.
type FileStore struct {
	dir     string
	lockMap *lock.MutexMap
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		lockMap: lock.NewMutexMap(),
	}, nil
}

func (s *FileStore) Get(keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		path, err := s.keyPath(key)
		if err != nil {
			return nil, err
		}

		s.lockMap.Lock(key)
		data, err := os.ReadFile(path)
		s.lockMap.Unlock(key)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read key %s: %w", key, err)
		}
		out[key] = json.RawMessage(data)
	}
	return out, nil
}

func (s *FileStore) Set(values map[string]json.RawMessage) error {
	for key, value := range values {
		path, err := s.keyPath(key)
		if err != nil {
			return err
		}

		s.lockMap.Lock(key)
		err = atomicWriteJSON(path, value)
		s.lockMap.Unlock(key)
		if err != nil {
			return fmt.Errorf("write key %s: %w", key, err)
		}
	}
	return nil
}

func (s *FileStore) Remove(keys []string) error {
	for _, key := range keys {
		path, err := s.keyPath(key)
		if err != nil {
			return err
		}

		s.lockMap.Lock(key)
		err = os.Remove(path)
		s.lockMap.Unlock(key)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove key %s: %w", key, err)
		}
	}
	return nil
}

func (s *FileStore) keyPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid store key: %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// atomicWriteJSON writes content to path via temp file + rename, validating
// the written bytes parse as JSON before the rename.
func atomicWriteJSON(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".promptdock-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	if !json.Valid(written) {
		return fmt.Errorf("refusing to store invalid JSON at %s", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
