// Command causality compiles, runs, proves and verifies programs.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK     = 0
	exitUsage  = 1
	exitSource = 2
	exitFault  = 3
	exitVerify = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("causality", version)
		return
	}

	a, err := newApp(os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "causality: %v\n", err)
		os.Exit(exitUsage)
	}
	code := a.dispatch(os.Args[1], os.Args[2:])
	a.Close()
	os.Exit(code)
}

func (a *app) dispatch(cmd string, args []string) int {
	switch cmd {
	case "compile":
		return a.cmdCompile(args)
	case "run":
		return a.cmdRun(args)
	case "diagnose":
		return a.cmdDiagnose(args)
	case "prove":
		return a.cmdProve(args)
	case "verify":
		return a.cmdVerify(args)
	}
	fmt.Fprintf(a.errOut, "causality: unknown command %q\n", cmd)
	fmt.Fprintln(a.errOut, "Run 'causality --help' for usage.")
	return exitUsage
}

func printUsage() {
	fmt.Print(`causality: linear resource programs with verifiable execution

Usage:
  causality <command> [flags]

Commands:
  compile <source> [-o artifact]                 Check and lower a source file
  run <artifact> [--witness file] [--trace]      Execute an artifact
  diagnose <source>                              Report errors, lifetimes and cost
  prove <artifact> --witness file [-o proof]     Run and prove an artifact
  verify <proof> --public-inputs file            Verify a proof

Environment:
  CAUSALITY_CONFIG   YAML configuration file
  CAUSALITY_*        Overrides for single settings, e.g. CAUSALITY_ZK_BACKEND

Witness files are YAML with a 'witness' list of value literals.

Exit codes:
  0  success
  1  usage error
  2  source or compile error
  3  runtime fault
  4  verification failed
`)
}
