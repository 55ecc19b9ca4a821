package petal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
coalescing: false
max_chain_length: 4
cache:
  idle_budget_bytes: 1048576
`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.Coalescing = false
	want.MaxChainLength = 4
	want.Cache.IdleBudgetBytes = 1 << 20
	assert.Equal(t, want, cfg)
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"chain too short", "max_chain_length: 0", "max_chain_length"},
		{"chain too long", "max_chain_length: 65", "max_chain_length"},
		{"no concurrency", "max_concurrent_renders: 0", "max_concurrent_renders"},
		{"negative budget", "cache:\n  idle_budget_bytes: -1", "cache.idle_budget_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "error %v must match ErrInvalidConfig", err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.NotEmpty(t, ce.Reason)
		})
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("coalesce: true"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_renders: 16\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxConcurrentRenders)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOptionsApplyInOrder(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{WithCoalescing(false), WithMaxChain(3)} {
		opt(&o)
	}
	assert.False(t, o.cfg.Coalescing)
	assert.Equal(t, 3, o.cfg.MaxChainLength)

	WithConfig(DefaultConfig())(&o)
	assert.True(t, o.cfg.Coalescing, "WithConfig replaces earlier settings")
}
