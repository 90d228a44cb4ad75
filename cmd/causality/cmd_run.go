package main

import (
	"fmt"
	"os"

	causality "github.com/timewave-computer/causality-sub016"
	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/value"
)

func (a *app) loadArtifact(path string) (*causality.CompileResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return causality.DecodeArtifact(b)
}

func (a *app) loadWitness(path string) ([]value.Value, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return causality.DecodeWitness(b)
}

func (a *app) cmdRun(args []string) int {
	fs := a.flagSet("run")
	witness := fs.String("witness", "", "YAML witness file")
	trace := fs.Bool("trace", false, "print the execution trace")
	persist := fs.Bool("persist", false, "record nullifiers in the configured store")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pos) != 1 {
		return a.errorf(exitUsage, "usage: causality run <artifact> [--witness file] [--trace]")
	}
	res, err := a.loadArtifact(pos[0])
	if err != nil {
		return a.failure("run", err)
	}
	w, err := a.loadWitness(*witness)
	if err != nil {
		return a.failure("run", err)
	}
	_, tr, err := res.Run(w, a.machineOptions(*persist)...)
	if *trace && tr != nil {
		fmt.Fprint(a.out, tr.Print())
	}
	if err != nil {
		return a.failure("run", err)
	}
	fmt.Fprintln(a.out, lisp.FormatValue(tr.Result))
	fmt.Fprintf(a.out, "trace %s gas %d steps %d\n", tr.Hash(), tr.TotalGas, len(tr.Steps))
	return exitOK
}
