package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/enfyra/app/bundler"
	"github.com/enfyra/app/npm"
	"github.com/enfyra/app/packages"
)

func runBundle(args []string) error {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	root := fs.String("root", "", "Project root holding node_modules (searched upward when empty)")
	minify := fs.Bool("minify", false, "Minify the output")
	asJSON := fs.Bool("json", false, "Print the bundle with its dependencies, exports and warnings as JSON")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl bundle [options] <package>\n\nBundle an installed package into a browser ES module.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("package name is required")
	}

	dir, err := projectFlag(*root)
	if err != nil {
		return err
	}
	b := bundler.New(npm.NewResolver(dir))
	res, err := b.Bundle(context.Background(), bundler.Options{PackageName: fs.Arg(0), Minify: *minify})
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Code)
	return nil
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	root := fs.String("root", "", "Project root holding node_modules (searched upward when empty)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl resolve [options] <package>\n\nShow where an installed package's browser entry lives.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("package name is required")
	}

	dir, err := projectFlag(*root)
	if err != nil {
		return err
	}
	res, err := npm.NewResolver(dir).Resolve(fs.Arg(0))
	if err != nil {
		return err
	}
	format := "ESM"
	if npm.IsCommonJS(res.Source) {
		format = "CommonJS"
	}
	fmt.Fprintf(stdout, "package:      %s@%s\n", res.Name, res.Manifest.Version)
	fmt.Fprintf(stdout, "entry:        %s\n", res.EntryPath)
	fmt.Fprintf(stdout, "format:       %s\n", format)
	fmt.Fprintf(stdout, "dependencies: %s\n", strings.Join(res.Dependencies, ", "))
	return nil
}

// splitSpec splits "name@version" while keeping the leading @ of scoped
// names.
func splitSpec(spec string) (name, version string) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 {
		return spec, ""
	}
	return spec[:at], spec[at+1:]
}

func newInstaller(root, manager string) (*packages.Installer, error) {
	dir, err := projectFlag(root)
	if err != nil {
		return nil, err
	}
	var opts []packages.InstallerOption
	if manager != "" {
		m, ok := packages.ParseManager(manager)
		if !ok {
			return nil, fmt.Errorf("unknown package manager %q", manager)
		}
		opts = append(opts, packages.WithManager(m))
	}
	return packages.NewInstaller(dir, opts...), nil
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	root := fs.String("root", "", "Project root (searched upward when empty)")
	manager := fs.String("manager", "", "Package manager to use (npm, yarn, pnpm, bun); detected when empty")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl install [options] <package>[@version] [flags...]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("package name is required")
	}

	inst, err := newInstaller(*root, *manager)
	if err != nil {
		return err
	}
	name, ver := splitSpec(fs.Arg(0))
	res, err := inst.Install(context.Background(), packages.InstallRequest{Name: name, Version: ver, Flags: fs.Args()[1:]})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "installed %s@%s with %s\n", name, res.Version, inst.Manager())
	return nil
}

func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ContinueOnError)
	root := fs.String("root", "", "Project root (searched upward when empty)")
	manager := fs.String("manager", "", "Package manager to use (npm, yarn, pnpm, bun); detected when empty")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl uninstall [options] <package>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("package name is required")
	}

	inst, err := newInstaller(*root, *manager)
	if err != nil {
		return err
	}
	if err := inst.Uninstall(context.Background(), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "removed %s with %s\n", fs.Arg(0), inst.Manager())
	return nil
}
