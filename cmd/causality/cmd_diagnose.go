package main

import (
	"os"

	"github.com/timewave-computer/causality-sub016/diagnostics"
)

func (a *app) cmdDiagnose(args []string) int {
	fs := a.flagSet("diagnose")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pos) != 1 {
		return a.errorf(exitUsage, "usage: causality diagnose <source>")
	}
	src, err := os.ReadFile(pos[0])
	if err != nil {
		return a.errorf(exitUsage, "diagnose: %v", err)
	}
	r := diagnostics.Run(string(src))
	r.Print(a.out)
	if r.HasErrors() {
		return exitSource
	}
	return exitOK
}
