package config

import "sync/atomic"

// Source exposes the live configuration snapshot.
type Source interface {
	Current() *Config
}

// Static is a Source that returns a fixed (but replaceable) snapshot.
// Used by tests and by callers that do not need hot reload.
type Static struct {
	cfg atomic.Pointer[Config]
}

func NewStatic(cfg *Config) *Static {
	s := &Static{}
	s.cfg.Store(cfg)
	return s
}

func (s *Static) Current() *Config { return s.cfg.Load() }

// Set swaps the snapshot.
func (s *Static) Set(cfg *Config) { s.cfg.Store(cfg) }
