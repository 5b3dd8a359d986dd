package main

import (
	"fmt"
	"io"
	"os"

	"github.com/enfyra/app/npm"
)

var version = "dev"

// stdout is where commands print results.
var stdout io.Writer = os.Stdout

var commands = map[string]func([]string) error{
	"validate":  runValidate,
	"compile":   runCompile,
	"bundle":    runBundle,
	"resolve":   runResolve,
	"install":   runInstall,
	"uninstall": runUninstall,
	"filter":    runFilter,
}

func usage() {
	fmt.Fprintf(os.Stderr, `extctl - extension and package tooling (version %s)

Usage:
  extctl <command> [options]

Commands:
  validate   Check an extension source file (.vue component or JS bundle)
  compile    Compile a component into a browser script for an extension id
  bundle     Bundle an installed npm package into an ES module
  resolve    Show the resolved entry of an installed package
  install    Install a package with the detected package manager
  uninstall  Remove a package with the detected package manager
  filter     Encode or decode a URL filter parameter

Run 'extctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}
	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}

// projectFlag resolves the -root flag, searching upward from the working
// directory when it is empty.
func projectFlag(root string) (string, error) {
	if root != "" {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return npm.FindProjectRoot(wd)
}
