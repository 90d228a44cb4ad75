package main

import (
	"context"
	"fmt"
	"os"

	causality "github.com/timewave-computer/causality-sub016"
)

func (a *app) cmdVerify(args []string) int {
	fs := a.flagSet("verify")
	public := fs.String("public-inputs", "", "public inputs file")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pos) != 1 || *public == "" {
		return a.errorf(exitUsage, "usage: causality verify <proof> --public-inputs file")
	}
	pb, err := os.ReadFile(pos[0])
	if err != nil {
		return a.errorf(exitUsage, "verify: %v", err)
	}
	ib, err := os.ReadFile(*public)
	if err != nil {
		return a.errorf(exitUsage, "verify: %v", err)
	}
	p, err := causality.DecodeProof(pb)
	if err != nil {
		return a.errorf(exitVerify, "verify: %v", err)
	}
	in, err := causality.DecodePublicInputs(ib)
	if err != nil {
		return a.errorf(exitVerify, "verify: %v", err)
	}
	if err := causality.Verify(context.Background(), a.zk, p, in); err != nil {
		return a.errorf(exitVerify, "verify: %v", err)
	}
	fmt.Fprintf(a.out, "ok %s %s\n", p.ID, p.Backend)
	return exitOK
}
