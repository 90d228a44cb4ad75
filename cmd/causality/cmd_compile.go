package main

import (
	"fmt"
	"os"

	causality "github.com/timewave-computer/causality-sub016"
)

func (a *app) cmdCompile(args []string) int {
	fs := a.flagSet("compile")
	out := fs.String("o", "", "artifact path (default: source with .artifact)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(pos) != 1 {
		return a.errorf(exitUsage, "usage: causality compile <source> [-o artifact]")
	}
	src, err := os.ReadFile(pos[0])
	if err != nil {
		return a.errorf(exitUsage, "compile: %v", err)
	}
	res, err := causality.Compile(string(src))
	if err != nil {
		return a.failure("compile", err)
	}
	if n := res.Program.NumInstructions(); n > a.cfg.Machine.MaxInstructions {
		return a.errorf(exitSource, "compile: %d instructions, limit is %d", n, a.cfg.Machine.MaxInstructions)
	}
	b, err := causality.EncodeArtifact(res)
	if err != nil {
		return a.failure("compile", err)
	}
	if a.store != nil {
		if _, err := a.store.Objects.Put(res.Program.Serialize()); err != nil {
			return a.errorf(exitUsage, "compile: store: %v", err)
		}
	}
	path := *out
	if path == "" {
		path = withExt(pos[0], ".artifact")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return a.errorf(exitUsage, "compile: %v", err)
	}
	fmt.Fprintf(a.out, "%s %s %s\n", res.ID, res.Type, path)
	return exitOK
}
