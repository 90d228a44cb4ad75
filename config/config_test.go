package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/solver"
	"github.com/timewave-computer/causality-sub016/zk"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, zk.MockName, c.ZK.Backend)
	assert.Equal(t, 100000, c.Machine.Limits().MaxSteps)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "causality.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
solver:
  location: L1
  parallel_workers: 4
  node_timeout: 2s
zk:
  backend: gnark
  max_trace_steps: 64
`), 0o644))
	t.Setenv("CAUSALITY_SOLVER_PARALLEL_WORKERS", "8")
	t.Setenv("CAUSALITY_STORE_PATH", "/tmp/c.db")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "auto", c.Log.Format)
	assert.Equal(t, "L1", c.Solver.Location)
	assert.Equal(t, 8, c.Solver.ParallelWorkers)
	assert.Equal(t, 2*time.Second, c.Solver.NodeTimeout)
	assert.Equal(t, zk.GnarkName, c.ZK.Backend)
	assert.Equal(t, 64, c.ZK.MaxTraceSteps)
	assert.Equal(t, zk.DefaultCacheSize, c.ZK.VKCacheSize)
	assert.Equal(t, "/tmp/c.db", c.Store.Path)
	key, err := c.ZK.AttestationKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestAttestationKey(t *testing.T) {
	t.Setenv("CAUSALITY_ZK_KEY", "000102030405060708090a0b0c0d0e0f")
	c, err := Load("")
	require.NoError(t, err)
	key, err := c.ZK.AttestationKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Equal(t, byte(0x0f), key[15])
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
	}{
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"domain", func(c *Config) { c.Machine.Domain = "" }},
		{"steps", func(c *Config) { c.Machine.MaxSteps = 0 }},
		{"instructions", func(c *Config) { c.Machine.MaxInstructions = 1 << 20 }},
		{"workers", func(c *Config) { c.Solver.ParallelWorkers = -1 }},
		{"timeout", func(c *Config) { c.Solver.NodeTimeout = -time.Second }},
		{"backend", func(c *Config) { c.ZK.Backend = "halo2" }},
		{"cache", func(c *Config) { c.ZK.VKCacheSize = 0 }},
		{"key not hex", func(c *Config) { c.ZK.Key = "not-hex" }},
		{"key short", func(c *Config) { c.ZK.Key = "00ff" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mod(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}

	c := Default()
	err := c.applyEnv(func(name string) (string, bool) {
		if name == "CAUSALITY_ZK_VK_CACHE_SIZE" {
			return "lots", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSolverFromConfig(t *testing.T) {
	c := Default()
	c.Solver.Location = "L2"
	c.Solver.NodeTimeout = 3 * time.Second
	s := c.Solver.New()
	assert.Equal(t, solver.Location("L2"), s.Location)
	assert.Equal(t, 3*time.Second, s.NodeTimeout)
	assert.Len(t, c.ExecOptions(), 2)
}
