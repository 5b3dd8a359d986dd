package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/enfyra/app/extension"
)

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	id := fs.String("id", "", "Extension id the script assigns (generated when empty)")
	root := fs.String("root", "", "Project root holding node_modules (searched upward when empty)")
	out := fs.String("o", "", "Write the compiled script to this file instead of stdout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl compile [options] <file>\n\nCompile a component into a browser script.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("source file path is required")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	dir, err := projectFlag(*root)
	if err != nil {
		return err
	}
	extID := extension.EnsureID(*id)
	svc := extension.NewService(extension.NewCompiler(dir))
	code, err := svc.Build(context.Background(), string(data), extID)
	if err != nil {
		return err
	}

	if *out == "" {
		fmt.Fprintln(stdout, code)
		return nil
	}
	if err := os.WriteFile(*out, []byte(code), 0o644); err != nil { //nolint:gosec // G306: compiled output is public
		return fmt.Errorf("failed to write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "compiled %s as %s (%d bytes)\n", fs.Arg(0), extID, len(code))
	return nil
}
