package config

import (
	"fmt"
	"sync/atomic"
)

// Store keeps the runtime-reloadable state files behind atomic pointers.
// Readers take a snapshot; reloads swap the whole value so an in-flight
// request never sees a half-applied file.
type Store struct {
	cfg *Config

	settings  atomic.Pointer[Settings]
	models    atomic.Pointer[map[string]ModelEntry]
	endpoints atomic.Pointer[map[string][]EndpointEntry]
}

// NewStore loads all state files once and returns the store. The settings
// file must exist; the model map and endpoint map may be absent.
func NewStore(cfg *Config) (*Store, error) {
	s := &Store{cfg: cfg}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	s.settings.Store(&settings)

	models, err := LoadModelMap(cfg.ModelsPath)
	if err != nil {
		return nil, err
	}
	s.models.Store(&models)

	endpoints, err := LoadEndpointMap(cfg.EndpointMapPath)
	if err != nil {
		return nil, err
	}
	s.endpoints.Store(&endpoints)

	return s, nil
}

// Settings returns the current settings snapshot.
func (s *Store) Settings() Settings {
	return *s.settings.Load()
}

// Models returns the current model map. Callers must treat it as read-only.
func (s *Store) Models() map[string]ModelEntry {
	return *s.models.Load()
}

// Endpoints returns the current endpoint map. Callers must treat it as
// read-only.
func (s *Store) Endpoints() map[string][]EndpointEntry {
	return *s.endpoints.Load()
}

// ReloadSettings re-reads the settings file and swaps it in.
func (s *Store) ReloadSettings() error {
	settings, err := LoadSettings(s.cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	s.settings.Store(&settings)
	return nil
}

// ReloadModels re-reads the model map file and swaps it in.
func (s *Store) ReloadModels() error {
	models, err := LoadModelMap(s.cfg.ModelsPath)
	if err != nil {
		return fmt.Errorf("reload model map: %w", err)
	}
	s.models.Store(&models)
	return nil
}

// SetModels replaces the in-memory model map with an inventory pushed by
// the peer. The seed file on disk is left alone.
func (s *Store) SetModels(models map[string]ModelEntry) {
	s.models.Store(&models)
}

// ReloadEndpoints re-reads the endpoint map file and swaps it in.
func (s *Store) ReloadEndpoints() error {
	endpoints, err := LoadEndpointMap(s.cfg.EndpointMapPath)
	if err != nil {
		return fmt.Errorf("reload endpoint map: %w", err)
	}
	s.endpoints.Store(&endpoints)
	return nil
}
