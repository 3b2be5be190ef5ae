package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non power of two shards", func(c *Config) { c.Service.Shards = 100 }},
		{"zero queue size", func(c *Config) { c.Delivery.MaxQueueSize = 0 }},
		{"unknown queue kind", func(c *Config) { c.Delivery.QueueKind = "disk" }},
		{"zero sessions", func(c *Config) { c.Delivery.MaxSessionsAmount = 0 }},
		{"poll timeout above max", func(c *Config) { c.Delivery.PollTimeout = 2 * c.Delivery.MaxPollTimeout }},
		{"unknown limiter", func(c *Config) { c.RateLimiter.Kind = "leaky" }},
		{"enabled limiter without rps", func(c *Config) { c.RateLimiter.MaxRps = 0 }},
		{"zero gc period", func(c *Config) { c.GC.Period = 0 }},
		{"bus without url", func(c *Config) { c.Bus.Enabled = true; c.Bus.URL = "" }},
		{"bus retry interval inverted", func(c *Config) { c.Bus.Enabled = true; c.Bus.Retry.MaxInterval = time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestProviderPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
delivery:
  max_queue_size: 64
  session_idle_timeout: 90s
gc:
  period: 5s
`), 0o600))

	t.Setenv("IM_DELIVERY_MAX_SESSIONS_AMOUNT", "3")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--service.address=:9999"}))

	p, err := NewProvider(file, fs)
	require.NoError(t, err)

	cfg := p.Current()
	assert.Equal(t, ":9999", cfg.Service.Address)
	assert.Equal(t, 64, cfg.Delivery.MaxQueueSize)
	assert.Equal(t, 90*time.Second, cfg.Delivery.SessionIdleTimeout)
	assert.Equal(t, 3, cfg.Delivery.MaxSessionsAmount)
	assert.Equal(t, 5*time.Second, cfg.GC.Period)
	assert.Equal(t, 256, cfg.Service.Shards)
}

func TestProviderRejectsInvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("service:\n  shards: 3\n"), 0o600))

	_, err := NewProvider(file, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStatic(t *testing.T) {
	s := NewStatic(Default())
	next := Default()
	next.GC.Enabled = false
	s.Set(next)
	assert.False(t, s.Current().GC.Enabled)
}
