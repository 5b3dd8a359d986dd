package packages

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/notify"
	"github.com/enfyra/app/store"
)

// PackageInstaller is the physical side of the package lifecycle.
type PackageInstaller interface {
	Install(ctx context.Context, req InstallRequest) (*InstallResult, error)
	Uninstall(ctx context.Context, name string) error
}

// Notifier receives lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, kind, name string)
}

// Service keeps package_definition records and node_modules in step.
// Only App-type records touch the installer.
type Service struct {
	records   store.Records
	installer PackageInstaller
	notifier  Notifier
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier publishes install and uninstall events.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(records store.Records, installer PackageInstaller, opts ...ServiceOption) *Service {
	s := &Service{records: records, installer: installer, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every package record.
func (s *Service) List(ctx context.Context) ([]store.Record, error) {
	return s.records.List(ctx, store.TablePackages)
}

// Get returns one package record.
func (s *Service) Get(ctx context.Context, id string) (store.Record, error) {
	return s.records.Get(ctx, store.TablePackages, id)
}

// Create persists the record, then installs the package. If installation
// fails the record is deleted again.
func (s *Service) Create(ctx context.Context, body store.Record) (store.Record, error) {
	pkg, err := decodePackage(body)
	if err != nil {
		return nil, err
	}
	if pkg.Type != store.PackageTypeApp {
		return s.records.Create(ctx, store.TablePackages, body)
	}
	if pkg.Name == "" {
		return nil, apperr.BadRequest("name is required")
	}

	var created store.Record
	var installed *InstallResult
	saga := NewSaga("create package "+pkg.Name, s.logger,
		Step{
			Name: "persist",
			Do: func(ctx context.Context) error {
				rec, err := s.records.Create(ctx, store.TablePackages, body)
				created = rec
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.records.Delete(ctx, store.TablePackages, created.ID())
			},
		},
		Step{
			Name: "install",
			Do: func(ctx context.Context) error {
				res, err := s.installer.Install(ctx, InstallRequest{Name: pkg.Name, Version: pkg.Version, Flags: pkg.Flags})
				installed = res
				return err
			},
		},
	)
	if err := saga.Run(ctx); err != nil {
		return nil, err
	}

	updated, err := s.records.Update(ctx, store.TablePackages, created.ID(), store.Record{
		"version":     installed.Version,
		"description": installed.Description,
	})
	if err != nil {
		s.logger.Warn("package installed but record not refreshed", "package", pkg.Name, "error", err)
		updated = created
	}
	s.notify(ctx, notify.PackageInstalled, pkg.Name)
	return updated, nil
}

// Update applies patch. A version change on an App package reinstalls
// before the record is written, so a failed install leaves the record as
// it was.
func (s *Service) Update(ctx context.Context, id string, patch store.Record) (store.Record, error) {
	existing, err := s.records.Get(ctx, store.TablePackages, id)
	if err != nil {
		return nil, err
	}
	current, err := decodePackage(existing)
	if err != nil {
		return nil, err
	}
	merged := existing.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	next, err := decodePackage(merged)
	if err != nil {
		return nil, err
	}

	patch = patch.Clone()
	if next.Type == store.PackageTypeApp && versionChanged(current.Version, next.Version) {
		res, err := s.installer.Install(ctx, InstallRequest{Name: next.Name, Version: next.Version, Flags: next.Flags})
		if err != nil {
			return nil, err
		}
		patch["version"] = res.Version
		patch["description"] = res.Description
		defer s.notify(ctx, notify.PackageInstalled, next.Name)
	}
	return s.records.Update(ctx, store.TablePackages, id, patch)
}

// Delete uninstalls an App package, best-effort, then removes the record.
// System packages cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	existing, err := s.records.Get(ctx, store.TablePackages, id)
	if err != nil {
		return err
	}
	pkg, err := decodePackage(existing)
	if err != nil {
		return err
	}
	if pkg.IsSystem {
		return apperr.Forbidden("cannot uninstall system package %q", pkg.Name)
	}
	if pkg.Type == store.PackageTypeApp && pkg.Name != "" {
		if err := s.installer.Uninstall(ctx, pkg.Name); err != nil {
			s.logger.Warn("uninstall failed, removing record anyway", "package", pkg.Name, "error", err)
		}
	}
	if err := s.records.Delete(ctx, store.TablePackages, id); err != nil {
		return err
	}
	if pkg.Type == store.PackageTypeApp {
		s.notify(ctx, notify.PackageUninstalled, pkg.Name)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, kind, name string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, kind, name)
	}
}

func decodePackage(rec store.Record) (*store.PackageRecord, error) {
	var pkg store.PackageRecord
	if err := rec.Decode(&pkg); err != nil {
		return nil, apperr.Wrap(http.StatusBadRequest, err, "invalid package record")
	}
	pkg.ID = rec.ID()
	pkg.Name = strings.TrimSpace(pkg.Name)
	return &pkg, nil
}

// versionChanged compares two version specs. Valid semver values compare
// by precedence so "1.2.0" and "v1.2.0" are the same version; anything
// else ("latest", ranges) compares as text.
func versionChanged(old, next string) bool {
	if next == "" {
		return false
	}
	a, b := canonical(old), canonical(next)
	if semver.IsValid(a) && semver.IsValid(b) {
		return semver.Compare(a, b) != 0
	}
	return old != next
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
