package main

import (
	"context"
	"fmt"
	"os"

	causality "github.com/timewave-computer/causality-sub016"
)

func (a *app) cmdProve(args []string) int {
	fs := a.flagSet("prove")
	witness := fs.String("witness", "", "YAML witness file")
	out := fs.String("o", "", "proof path (default: artifact with .proof)")
	backend := fs.String("backend", "", "proof backend (default from configuration)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pos) != 1 || *witness == "" {
		return a.errorf(exitUsage, "usage: causality prove <artifact> --witness file [-o proof] [--backend name]")
	}
	b, err := a.zk.Default()
	if *backend != "" {
		b, err = a.zk.Get(*backend)
	}
	if err != nil {
		return a.errorf(exitUsage, "prove: %v", err)
	}
	res, err := a.loadArtifact(pos[0])
	if err != nil {
		return a.failure("prove", err)
	}
	w, err := a.loadWitness(*witness)
	if err != nil {
		return a.failure("prove", err)
	}
	p, err := causality.Prove(context.Background(), b, res, a.cfg.ZK.MaxTraceSteps, w, a.machineOptions(false)...)
	if err != nil {
		return a.failure("prove", err)
	}
	enc, err := causality.EncodeProof(p)
	if err != nil {
		return a.failure("prove", err)
	}
	path := *out
	if path == "" {
		path = withExt(pos[0], ".proof")
	}
	pubPath := withExt(path, ".public")
	if err := os.WriteFile(path, enc, 0o644); err != nil {
		return a.errorf(exitUsage, "prove: %v", err)
	}
	if err := os.WriteFile(pubPath, causality.EncodePublicInputs(p.PublicInputs), 0o644); err != nil {
		return a.errorf(exitUsage, "prove: %v", err)
	}
	fmt.Fprintf(a.out, "%s %s %s %s\n", p.ID, p.Backend, path, pubPath)
	return exitOK
}
