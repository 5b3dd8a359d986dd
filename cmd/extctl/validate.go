package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/enfyra/app/extension"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl validate <file>\n\nCheck the structure of a component or JS bundle without compiling it.\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("source file path is required")
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	src := string(data)

	kind := "bundle"
	if extension.LooksLikeSFC(src) {
		kind = "component"
		err = extension.AssertValidSFC(src)
	} else {
		err = extension.AssertValidJSBundle(src)
	}
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	fmt.Fprintf(stdout, "%s is a valid %s\n", path, kind)
	return nil
}
