package store

import (
	"encoding/json"
	"fmt"

	"github.com/promptdock/promptdock/internal/model"
)

// LoadLibrary reads the library document, returning a fresh initialized
// library when none has been stored yet.
func LoadLibrary(s Store) (*model.Library, error) {
	values, err := s.Get([]string{LibraryKey})
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	raw, ok := values[LibraryKey]
	if !ok {
		return model.NewLibrary(), nil
	}

	var lib model.Library
	if err := json.Unmarshal(raw, &lib); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	if lib.Prompts == nil {
		lib.Prompts = map[string]model.Prompt{}
	}
	if len(lib.Folders) == 0 {
		lib.Folders = model.NewLibrary().Folders
	}
	return &lib, nil
}

// SaveLibrary writes the library document back. Last write wins.
func SaveLibrary(s Store, lib *model.Library) error {
	raw, err := json.Marshal(lib)
	if err != nil {
		return fmt.Errorf("encode library: %w", err)
	}
	if err := s.Set(map[string]json.RawMessage{LibraryKey: raw}); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	return nil
}

// UpdateLibrary runs a fetch-merge-store cycle: load, mutate, save. The
// store has no cross-invocation critical section; the mutation must be
// self-contained.
func UpdateLibrary(s Store, fn func(*model.Library) error) (*model.Library, error) {
	lib, err := LoadLibrary(s)
	if err != nil {
		return nil, err
	}
	if err := fn(lib); err != nil {
		return nil, err
	}
	if err := SaveLibrary(s, lib); err != nil {
		return nil, err
	}
	return lib, nil
}
