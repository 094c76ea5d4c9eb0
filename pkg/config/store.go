package config

import (
	"sync/atomic"
)

// Store holds the active configuration and supports atomic replacement.
// Components read through Current on each use, so an admin-triggered
// Reload takes effect without restarting the process.
type Store struct {
	path    string
	current atomic.Pointer[AppConfig]
}

// NewStore loads the configuration from path and wraps it in a Store.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path}
	s.current.Store(cfg)

	return s, nil
}

// Current returns the active configuration.
func (s *Store) Current() *AppConfig {
	return s.current.Load()
}

// Reload re-reads and re-validates the configuration file and swaps it in.
// On failure the previous configuration stays active.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}

	s.current.Store(cfg)

	return nil
}
