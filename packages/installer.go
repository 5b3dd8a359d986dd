package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/npm"
)

// DefaultTimeout bounds a single package manager invocation.
const DefaultTimeout = 120 * time.Second

// InstallRequest describes a package to add to the project.
type InstallRequest struct {
	Name    string
	Version string
	Flags   []string
}

// Spec returns the name@version argument handed to the manager.
func (r InstallRequest) Spec() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// InstallResult reports what actually landed in node_modules.
type InstallResult struct {
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Recorder receives package operation outcomes.
type Recorder interface {
	ObservePackageOperation(manager, operation string, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObservePackageOperation(string, string, error) {}

// Installer runs the project's package manager as a child process.
type Installer struct {
	root     string
	manager  Manager
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer

	// execCommand is injectable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// InstallerOption configures an Installer.
type InstallerOption func(*Installer)

// WithManager forces a manager instead of detecting one.
func WithManager(m Manager) InstallerOption {
	return func(i *Installer) {
		if m != "" {
			i.manager = m
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) InstallerOption {
	return func(i *Installer) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithInstallerLogger sets the logger.
func WithInstallerLogger(l *slog.Logger) InstallerOption {
	return func(i *Installer) { i.logger = l }
}

// WithInstallerRecorder sets the metrics recorder.
func WithInstallerRecorder(r Recorder) InstallerOption {
	return func(i *Installer) { i.recorder = r }
}

// NewInstaller creates an Installer for the project at root.
func NewInstaller(root string, opts ...InstallerOption) *Installer {
	i := &Installer{
		root:        root,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		recorder:    nopRecorder{},
		tracer:      otel.Tracer("github.com/enfyra/app/packages"),
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.manager == "" {
		i.manager = DetectManager(root)
	}
	return i
}

// Manager returns the manager this installer drives.
func (i *Installer) Manager() Manager { return i.manager }

// Install adds the package and reports the resolved version from its
// installed package.json.
func (i *Installer) Install(ctx context.Context, req InstallRequest) (result *InstallResult, err error) {
	if !npm.ValidName(req.Name) {
		return nil, apperr.BadRequest("invalid package name %q", req.Name)
	}
	ctx, span := i.tracer.Start(ctx, "packages.Install", trace.WithAttributes(
		attribute.String("package", req.Name),
		attribute.String("manager", i.manager.String()),
	))
	defer func() {
		i.recorder.ObservePackageOperation(i.manager.String(), "install", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	i.logger.Info("installing package", "package", req.Spec(), "manager", i.manager)
	if err := i.run(ctx, i.manager.InstallArgs(req.Spec(), req.Flags)); err != nil {
		return nil, apperr.Internal(err, "failed to install %s", req.Spec())
	}

	m, err := npm.ReadManifest(filepath.Join(npm.PackageDir(i.root, req.Name), "package.json"))
	if err != nil {
		return nil, apperr.Internal(err, "installed %s but could not read its package.json", req.Name)
	}
	return &InstallResult{Version: m.Version, Description: m.Description}, nil
}

// Uninstall removes the package. Removing a package that was never
// installed succeeds.
func (i *Installer) Uninstall(ctx context.Context, name string) (err error) {
	if !npm.ValidName(name) {
		return apperr.BadRequest("invalid package name %q", name)
	}
	ctx, span := i.tracer.Start(ctx, "packages.Uninstall", trace.WithAttributes(
		attribute.String("package", name),
		attribute.String("manager", i.manager.String()),
	))
	defer func() {
		i.recorder.ObservePackageOperation(i.manager.String(), "uninstall", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := i.run(ctx, i.manager.UninstallArgs(name)); err != nil {
		if notInstalled(err) {
			i.logger.Debug("package was not installed", "package", name, "error", err)
			return nil
		}
		return apperr.Internal(err, "failed to uninstall %s", name)
	}
	return nil
}

// IsInstalled reports whether the root package.json declares name in
// dependencies or devDependencies.
func (i *Installer) IsInstalled(name string) (bool, error) {
	m, err := npm.ReadManifest(filepath.Join(i.root, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return m.HasDependency(name), nil
}

func (i *Installer) run(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := i.execCommand(ctx, i.manager.String(), args...) //nolint:gosec // G204: args built from a validated package name
	cmd.Dir = i.root
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	i.logger.Debug("package manager finished",
		"manager", i.manager, "args", strings.Join(args, " "), "duration", time.Since(start))
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s %s timed out after %s", i.manager, args[0], i.timeout)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w\nstderr: %s", i.manager, args[0], err, strings.TrimSpace(stderr.String()))
	}
	if msg := fatalStderr(stderr.String()); msg != "" {
		return fmt.Errorf("%s %s: %s", i.manager, args[0], msg)
	}
	return nil
}

// fatalStderr returns stderr unless every non-empty line is a warning or
// notice.
func fatalStderr(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		l := strings.ToLower(strings.TrimSpace(line))
		if l == "" || strings.Contains(l, "warn") || strings.HasPrefix(l, "npm notice") {
			continue
		}
		return strings.TrimSpace(stderr)
	}
	return ""
}

func notInstalled(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not found", "enoent", "no such file", "not installed", "is not in"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
