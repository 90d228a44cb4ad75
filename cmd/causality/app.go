package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/timewave-computer/causality-sub016/config"
	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/store"
	"github.com/timewave-computer/causality-sub016/zk"
)

// app holds what every subcommand shares.
type app struct {
	cfg    *config.Config
	zk     *zk.Registry
	store  *store.Store
	out    io.Writer
	errOut io.Writer
}

func newApp(out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(os.Getenv("CAUSALITY_CONFIG"))
	if err != nil {
		return nil, err
	}
	return newAppWith(cfg, out, errOut)
}

func newAppWith(cfg *config.Config, out, errOut io.Writer) (*app, error) {
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format, errOut); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, out: out, errOut: errOut}
	if cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("cannot open store %q: %w", cfg.Store.Path, err)
		}
		a.store = s
	}
	key, err := a.attestationKey()
	if err != nil {
		a.Close()
		return nil, err
	}
	cache := zk.NewVKCache(cfg.ZK.VKCacheSize)
	reg, err := zk.NewRegistry(
		zk.NewKeyedMockBackend(cache, key),
		zk.NewGnarkBackend(zk.WithCache(cache), zk.WithAttestationKey(key)),
		zk.NewGnarkBackend(zk.WithCache(cache), zk.WithGroth16()),
	)
	if err == nil {
		err = reg.SetDefault(cfg.ZK.Backend)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.zk = reg
	return a, nil
}

// attestationKey is the configured key, else the store's, else nil, which
// gives the backends a key that dies with the process.
func (a *app) attestationKey() ([]byte, error) {
	key, err := a.cfg.ZK.AttestationKey()
	if err != nil || key != nil {
		return key, err
	}
	if a.store != nil {
		return a.store.Secret("zk.attestation", zk.KeySize)
	}
	logger.Logger().Warn().Msg("no zk.key or store configured; proofs verify only in this process")
	return nil, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// machineOptions are the run options from configuration. With persist set
// and a store configured, consumed resources are recorded in the store's
// nullifier set and survive the process.
func (a *app) machineOptions(persist bool) []machine.Option {
	opts := []machine.Option{
		machine.WithDomain(content.DomainFromName(a.cfg.Machine.Domain)),
		machine.WithLimits(a.cfg.Machine.Limits()),
	}
	if persist && a.store != nil {
		opts = append(opts, machine.WithNullifiers(a.store.Nullifiers))
	}
	return opts
}

func (a *app) errorf(code int, format string, args ...any) int {
	fmt.Fprintf(a.errOut, "causality: "+format+"\n", args...)
	return code
}

// failure prints err and maps it to an exit code.
func (a *app) failure(cmd string, err error) int {
	code := exitSource
	var f *machine.Fault
	switch {
	case errors.As(err, &f):
		code = exitFault
	case errors.Is(err, zk.ErrInvalidProof), errors.Is(err, zk.ErrEmptyProofData),
		errors.Is(err, zk.ErrEmptyVerificationKey):
		code = exitVerify
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		code = exitUsage
	}
	return a.errorf(code, "%s: %v", cmd, err)
}
