// Package config loads the settings the CLI passes to every component. Values
// come from defaults, then an optional YAML file, then CAUSALITY_* environment
// variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/solver"
	"github.com/timewave-computer/causality-sub016/zk"
)

var ErrInvalid = errors.New("invalid configuration")

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Machine struct {
	Domain          string `yaml:"domain"`
	MaxSteps        int    `yaml:"max_steps"`
	MaxInstructions int    `yaml:"max_instructions"`
	MaxCallDepth    int    `yaml:"max_call_depth"`
	MaxResources    int    `yaml:"max_resources"`
}

// Limits are the run limits the section describes.
func (m Machine) Limits() machine.Limits {
	return machine.Limits{MaxSteps: m.MaxSteps, MaxCallDepth: m.MaxCallDepth, MaxResources: m.MaxResources}
}

type Solver struct {
	Location        string        `yaml:"location"`
	ParallelWorkers int           `yaml:"parallel_workers"`
	NodeTimeout     time.Duration `yaml:"node_timeout"`
}

// New builds a solver for the configured location.
func (s Solver) New(opts ...solver.Option) *solver.Solver {
	if s.NodeTimeout > 0 {
		opts = append([]solver.Option{solver.WithNodeTimeout(s.NodeTimeout)}, opts...)
	}
	return solver.New(solver.Location(s.Location), opts...)
}

// ExecOptions are the options solution execution runs with.
func (c *Config) ExecOptions() []solver.ExecOption {
	return []solver.ExecOption{
		solver.WithWorkers(c.Solver.ParallelWorkers),
		solver.WithLimits(c.Machine.Limits()),
	}
}

type ZK struct {
	Backend       string `yaml:"backend"`
	VKCacheSize   int    `yaml:"vk_cache_size"`
	MaxTraceSteps int    `yaml:"max_trace_steps"`
	// Key is the hex attestation key of the mock and gnark backends. Empty
	// means the store's key, or a per-process one without a store.
	Key string `yaml:"key"`
}

// minKeyBytes is the shortest attestation key accepted from configuration.
const minKeyBytes = 16

// AttestationKey decodes Key; nil when unset.
func (z ZK) AttestationKey() ([]byte, error) {
	if z.Key == "" {
		return nil, nil
	}
	k, err := hex.DecodeString(z.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: zk.key: %v", ErrInvalid, err)
	}
	if len(k) < minKeyBytes {
		return nil, fmt.Errorf("%w: zk.key is %d bytes, want at least %d", ErrInvalid, len(k), minKeyBytes)
	}
	return k, nil
}

type Store struct {
	Path string `yaml:"path"`
}

type Config struct {
	Log     Log     `yaml:"log"`
	Machine Machine `yaml:"machine"`
	Solver  Solver  `yaml:"solver"`
	ZK      ZK      `yaml:"zk"`
	Store   Store   `yaml:"store"`
}

func Default() *Config {
	l := machine.DefaultLimits()
	return &Config{
		Log: Log{Level: "info", Format: "auto"},
		Machine: Machine{
			Domain:          "local",
			MaxSteps:        l.MaxSteps,
			MaxInstructions: machine.MaxInstructions,
			MaxCallDepth:    l.MaxCallDepth,
			MaxResources:    l.MaxResources,
		},
		Solver: Solver{Location: "local", ParallelWorkers: 1},
		ZK:     ZK{Backend: zk.MockName, VKCacheSize: zk.DefaultCacheSize, MaxTraceSteps: zk.DefaultSteps},
	}
}

// Load reads path over the defaults, applies the environment and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type envVar struct {
	name string
	set  func(string) error
}

func str(p *string) func(string) error {
	return func(s string) error { *p = s; return nil }
}

func num(p *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func dur(p *time.Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

func (c *Config) env() []envVar {
	return []envVar{
		{"CAUSALITY_LOG_LEVEL", str(&c.Log.Level)},
		{"CAUSALITY_LOG_FORMAT", str(&c.Log.Format)},
		{"CAUSALITY_MACHINE_DOMAIN", str(&c.Machine.Domain)},
		{"CAUSALITY_MACHINE_MAX_STEPS", num(&c.Machine.MaxSteps)},
		{"CAUSALITY_MACHINE_MAX_INSTRUCTIONS", num(&c.Machine.MaxInstructions)},
		{"CAUSALITY_MACHINE_MAX_CALL_DEPTH", num(&c.Machine.MaxCallDepth)},
		{"CAUSALITY_MACHINE_MAX_RESOURCES", num(&c.Machine.MaxResources)},
		{"CAUSALITY_SOLVER_LOCATION", str(&c.Solver.Location)},
		{"CAUSALITY_SOLVER_PARALLEL_WORKERS", num(&c.Solver.ParallelWorkers)},
		{"CAUSALITY_SOLVER_NODE_TIMEOUT", dur(&c.Solver.NodeTimeout)},
		{"CAUSALITY_ZK_BACKEND", str(&c.ZK.Backend)},
		{"CAUSALITY_ZK_VK_CACHE_SIZE", num(&c.ZK.VKCacheSize)},
		{"CAUSALITY_ZK_MAX_TRACE_STEPS", num(&c.ZK.MaxTraceSteps)},
		{"CAUSALITY_ZK_KEY", str(&c.ZK.Key)},
		{"CAUSALITY_STORE_PATH", str(&c.Store.Path)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, e := range c.env() {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}
		if err := e.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, e.name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil || c.Log.Level == "" {
		errs = append(errs, fmt.Sprintf("log.level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q", c.Log.Format))
	}
	if c.Machine.Domain == "" {
		errs = append(errs, "machine.domain is empty")
	}
	positive := []struct {
		name string
		v    int
	}{
		{"machine.max_steps", c.Machine.MaxSteps},
		{"machine.max_instructions", c.Machine.MaxInstructions},
		{"machine.max_call_depth", c.Machine.MaxCallDepth},
		{"machine.max_resources", c.Machine.MaxResources},
		{"solver.parallel_workers", c.Solver.ParallelWorkers},
		{"zk.vk_cache_size", c.ZK.VKCacheSize},
		{"zk.max_trace_steps", c.ZK.MaxTraceSteps},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if c.Machine.MaxInstructions > machine.MaxInstructions {
		errs = append(errs, fmt.Sprintf("machine.max_instructions above %d", machine.MaxInstructions))
	}
	if c.Solver.NodeTimeout < 0 {
		errs = append(errs, "solver.node_timeout is negative")
	}
	switch c.ZK.Backend {
	case zk.MockName, zk.GnarkName, zk.GnarkGroth16Name:
	default:
		errs = append(errs, fmt.Sprintf("zk.backend %q", c.ZK.Backend))
	}
	if _, err := c.ZK.AttestationKey(); err != nil {
		errs = append(errs, "zk.key is not a hex key of at least 16 bytes")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}
