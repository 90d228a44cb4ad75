package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/config"
)

const mintSrc = "(let x (alloc (witness Int)) (let y (consume x) (+ y 1)))\n"

type harness struct {
	t   *testing.T
	dir string
	a   *app
	out *bytes.Buffer
	err *bytes.Buffer
}

func newHarness(t *testing.T, mod func(c *config.Config)) *harness {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.ZK.MaxTraceSteps = 64
	if mod != nil {
		mod(cfg)
	}
	h := &harness{t: t, dir: t.TempDir(), out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	a, err := newAppWith(cfg, h.out, h.err)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h.a = a
	return h
}

func (h *harness) file(name, data string) string {
	p := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func (h *harness) run(args ...string) int {
	h.out.Reset()
	h.err.Reset()
	return h.a.dispatch(args[0], args[1:])
}

func TestCompileRunProveVerify(t *testing.T) {
	h := newHarness(t, nil)
	src := h.file("mint.cl", mintSrc)
	w := h.file("w.yaml", "witness:\n  - 41\n")
	other := h.file("other.yaml", "witness:\n  - 1\n")
	art := filepath.Join(h.dir, "mint.artifact")

	require.Equal(t, exitOK, h.run("compile", src), h.err.String())
	assert.Contains(t, h.out.String(), art)

	require.Equal(t, exitOK, h.run("run", art, "--witness", w), h.err.String())
	assert.True(t, strings.HasPrefix(h.out.String(), "42\n"), h.out.String())

	require.Equal(t, exitOK, h.run("prove", art, "--witness", w), h.err.String())
	proof := filepath.Join(h.dir, "mint.proof")
	public := filepath.Join(h.dir, "mint.public")
	require.Equal(t, exitOK, h.run("verify", proof, "--public-inputs", public), h.err.String())

	require.Equal(t, exitOK, h.run("prove", art, "--witness", other, "-o", filepath.Join(h.dir, "other.proof")))
	assert.Equal(t, exitVerify, h.run("verify", proof, "--public-inputs", filepath.Join(h.dir, "other.public")))
}

func TestExitCodes(t *testing.T) {
	h := newHarness(t, nil)
	src := h.file("mint.cl", mintSrc)
	bad := h.file("bad.cl", "(let x (alloc 1) (+ (consume x) (consume x)))\n")
	require.Equal(t, exitOK, h.run("compile", src, "-o", filepath.Join(h.dir, "m.artifact")))

	assert.Equal(t, exitUsage, h.run("frobnicate"))
	assert.Equal(t, exitUsage, h.run("compile"))
	assert.Equal(t, exitUsage, h.run("compile", filepath.Join(h.dir, "missing.cl")))
	assert.Equal(t, exitUsage, h.run("prove", filepath.Join(h.dir, "m.artifact")))
	assert.Equal(t, exitSource, h.run("compile", bad))
	assert.Equal(t, exitSource, h.run("diagnose", bad))
	assert.Equal(t, exitOK, h.run("diagnose", src))
	assert.Equal(t, exitFault, h.run("run", filepath.Join(h.dir, "m.artifact")))
	assert.Contains(t, h.err.String(), "witness")
	garbage := h.file("garbage.proof", "not cbor")
	assert.Equal(t, exitVerify, h.run("verify", garbage, "--public-inputs", garbage))
}

func TestPersistedNullifiers(t *testing.T) {
	db := filepath.Join(t.TempDir(), "causality.db")
	h := newHarness(t, func(c *config.Config) { c.Store.Path = db })
	src := h.file("mint.cl", mintSrc)
	w := h.file("w.yaml", "witness:\n  - 41\n")
	art := filepath.Join(h.dir, "mint.artifact")
	require.Equal(t, exitOK, h.run("compile", src))

	n, err := h.a.store.Objects.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Equal(t, exitOK, h.run("run", art, "--witness", w, "--persist"), h.err.String())
	assert.Equal(t, exitFault, h.run("run", art, "--witness", w, "--persist"))
	assert.Equal(t, exitOK, h.run("run", art, "--witness", w))
}

func TestProofsVerifyAcrossProcesses(t *testing.T) {
	db := filepath.Join(t.TempDir(), "causality.db")
	tests := []struct {
		name   string
		mod    func(c *config.Config)
		verify int
	}{
		{"shared store", func(c *config.Config) { c.Store.Path = db }, exitOK},
		{"shared key", func(c *config.Config) { c.ZK.Key = "000102030405060708090a0b0c0d0e0f" }, exitOK},
		{"no key", nil, exitVerify},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prover := newHarness(t, tc.mod)
			src := prover.file("mint.cl", mintSrc)
			w := prover.file("w.yaml", "witness:\n  - 41\n")
			require.Equal(t, exitOK, prover.run("compile", src), prover.err.String())
			require.Equal(t, exitOK, prover.run("prove", filepath.Join(prover.dir, "mint.artifact"), "--witness", w), prover.err.String())

			verifier := newHarness(t, tc.mod)
			assert.Equal(t, tc.verify, verifier.run("verify",
				filepath.Join(prover.dir, "mint.proof"), "--public-inputs", filepath.Join(prover.dir, "mint.public")))
		})
	}
}
