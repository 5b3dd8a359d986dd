package packages

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/notify"
	"github.com/enfyra/app/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectManager(t *testing.T) {
	t.Setenv(EnvOverride, "")
	tests := []struct {
		lockfiles []string
		want      Manager
	}{
		{nil, NPM},
		{[]string{"pnpm-lock.yaml"}, PNPM},
		{[]string{"bun.lockb"}, Bun},
		{[]string{"bun.lock"}, Bun},
		{[]string{"yarn.lock"}, Yarn},
		{[]string{"package-lock.json"}, NPM},
		{[]string{"pnpm-lock.yaml", "yarn.lock"}, Yarn},
		{[]string{"package-lock.json", "bun.lockb"}, Bun},
	}
	for _, tt := range tests {
		root := t.TempDir()
		for _, f := range tt.lockfiles {
			writeFile(t, filepath.Join(root, f), "")
		}
		if got := DetectManager(root); got != tt.want {
			t.Errorf("DetectManager(%v) = %s, want %s", tt.lockfiles, got, tt.want)
		}
	}
}

func TestDetectManagerOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "yarn.lock"), "")
	t.Setenv(EnvOverride, "PNPM")
	if got := DetectManager(root); got != PNPM {
		t.Errorf("got %s, want pnpm", got)
	}
	t.Setenv(EnvOverride, "cargo")
	if got := DetectManager(root); got != Yarn {
		t.Errorf("unknown override should fall back to lockfiles, got %s", got)
	}
}

func TestInstallArgs(t *testing.T) {
	if got := strings.Join(NPM.InstallArgs("dayjs@1.11.0", []string{"--save-exact"}), " "); got != "install dayjs@1.11.0 --legacy-peer-deps --save-exact" {
		t.Errorf("npm args = %q", got)
	}
	for _, m := range []Manager{Bun, Yarn, PNPM} {
		if got := strings.Join(m.InstallArgs("dayjs", nil), " "); got != "add dayjs" {
			t.Errorf("%s args = %q", m, got)
		}
	}
	if got := strings.Join(NPM.UninstallArgs("dayjs"), " "); got != "uninstall dayjs" {
		t.Errorf("npm uninstall = %q", got)
	}
	if got := strings.Join(Yarn.UninstallArgs("dayjs"), " "); got != "remove dayjs" {
		t.Errorf("yarn uninstall = %q", got)
	}
}

// commandLog records invocations and answers them with a canned command.
type commandLog struct {
	mu    sync.Mutex
	calls []string
	reply func(name string, args []string) *exec.Cmd
}

func (c *commandLog) exec(_ context.Context, name string, args ...string) *exec.Cmd {
	c.mu.Lock()
	c.calls = append(c.calls, name+" "+strings.Join(args, " "))
	c.mu.Unlock()
	if c.reply != nil {
		return c.reply(name, args)
	}
	return exec.Command("true")
}

func newProject(t *testing.T, lockfile string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"),
		`{"name":"app","dependencies":{"vue":"^3.4.0"},"devDependencies":{"vite":"^5.0.0"}}`)
	if lockfile != "" {
		writeFile(t, filepath.Join(root, lockfile), "")
	}
	return root
}

func installedManifest(t *testing.T, root, name, version string) {
	writeFile(t, filepath.Join(root, "node_modules", name, "package.json"),
		`{"name":"`+name+`","version":"`+version+`","description":"`+name+` for tests"}`)
}

func TestInstallerIssuesManagerCommand(t *testing.T) {
	t.Setenv(EnvOverride, "")
	for _, tt := range []struct {
		lockfile string
		want     string
	}{
		{"pnpm-lock.yaml", "pnpm add dayjs@latest"},
		{"bun.lockb", "bun add dayjs@latest"},
	} {
		root := newProject(t, tt.lockfile)
		installedManifest(t, root, "dayjs", "1.11.13")
		log := &commandLog{}
		inst := NewInstaller(root)
		inst.execCommand = log.exec

		res, err := inst.Install(context.Background(), InstallRequest{Name: "dayjs", Version: "latest"})
		if err != nil {
			t.Fatalf("Install: %v", err)
		}
		if len(log.calls) != 1 || log.calls[0] != tt.want {
			t.Errorf("calls = %v, want [%s]", log.calls, tt.want)
		}
		if res.Version != "1.11.13" || res.Description != "dayjs for tests" {
			t.Errorf("result = %+v, want resolved version from installed manifest", res)
		}
	}
}

func TestInstallerFailure(t *testing.T) {
	root := newProject(t, "")
	inst := NewInstaller(root, WithManager(NPM))
	inst.execCommand = (&commandLog{reply: func(string, []string) *exec.Cmd {
		return exec.Command("false")
	}}).exec

	_, err := inst.Install(context.Background(), InstallRequest{Name: "dayjs"})
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apperr.StatusOf(err))
	}
}

func TestInstallerStderr(t *testing.T) {
	root := newProject(t, "")
	installedManifest(t, root, "dayjs", "1.0.0")
	inst := NewInstaller(root, WithManager(NPM))

	inst.execCommand = (&commandLog{reply: func(string, []string) *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'npm WARN deprecated left-pad' >&2")
	}}).exec
	if _, err := inst.Install(context.Background(), InstallRequest{Name: "dayjs"}); err != nil {
		t.Errorf("warnings on stderr should not fail: %v", err)
	}

	inst.execCommand = (&commandLog{reply: func(string, []string) *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'npm ERR! code E404' >&2")
	}}).exec
	if _, err := inst.Install(context.Background(), InstallRequest{Name: "dayjs"}); err == nil || !strings.Contains(err.Error(), "E404") {
		t.Errorf("err = %v, want stderr failure", err)
	}
}

func TestInstallerRejectsBadName(t *testing.T) {
	inst := NewInstaller(t.TempDir(), WithManager(NPM))
	log := &commandLog{}
	inst.execCommand = log.exec
	_, err := inst.Install(context.Background(), InstallRequest{Name: "../etc; rm -rf"})
	if apperr.StatusOf(err) != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apperr.StatusOf(err))
	}
	if len(log.calls) != 0 {
		t.Errorf("no command should run, got %v", log.calls)
	}
}

func TestUninstallNotInstalledSucceeds(t *testing.T) {
	inst := NewInstaller(newProject(t, ""), WithManager(NPM))
	inst.execCommand = (&commandLog{reply: func(string, []string) *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'ENOENT: no such file or directory' >&2; exit 1")
	}}).exec
	if err := inst.Uninstall(context.Background(), "ghost-package"); err != nil {
		t.Fatalf("Uninstall of absent package: %v", err)
	}

	inst.execCommand = (&commandLog{reply: func(string, []string) *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'EACCES: permission denied' >&2; exit 1")
	}}).exec
	if err := inst.Uninstall(context.Background(), "dayjs"); err == nil {
		t.Fatal("other failures should propagate")
	}
}

func TestIsInstalled(t *testing.T) {
	inst := NewInstaller(newProject(t, ""), WithManager(NPM))
	for name, want := range map[string]bool{"vue": true, "vite": true, "dayjs": false} {
		got, err := inst.IsInstalled(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("IsInstalled(%s) = %v, want %v", name, got, want)
		}
	}
	missing := NewInstaller(t.TempDir(), WithManager(NPM))
	if ok, err := missing.IsInstalled("vue"); ok || err != nil {
		t.Errorf("no package.json: got %v, %v", ok, err)
	}
}

func TestSagaCompensatesInReverse(t *testing.T) {
	var order []string
	step := func(name string, fail bool) Step {
		return Step{
			Name: name,
			Do: func(context.Context) error {
				order = append(order, "do "+name)
				if fail {
					return errors.New(name + " failed")
				}
				return nil
			},
			Compensate: func(context.Context) error {
				order = append(order, "undo "+name)
				return nil
			},
		}
	}
	err := NewSaga("test", nil, step("a", false), step("b", false), step("c", true)).Run(context.Background())
	if err == nil || err.Error() != "c failed" {
		t.Fatalf("err = %v", err)
	}
	want := "do a,do b,do c,undo b,undo a"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestSagaCompensationError(t *testing.T) {
	boom := errors.New("delete failed")
	err := NewSaga("test", nil,
		Step{Name: "a", Do: func(context.Context) error { return nil }, Compensate: func(context.Context) error { return boom }},
		Step{Name: "b", Do: func(context.Context) error { return errors.New("b failed") }},
	).Run(context.Background())
	var ce *CompensationError
	if !errors.As(err, &ce) || ce.Step != "a" || !errors.Is(err, boom) {
		t.Errorf("err = %v, want CompensationError for a", err)
	}
}

type fakeInstaller struct {
	installErr   error
	uninstallErr error
	installed    []InstallRequest
	uninstalled  []string
}

func (f *fakeInstaller) Install(_ context.Context, req InstallRequest) (*InstallResult, error) {
	f.installed = append(f.installed, req)
	if f.installErr != nil {
		return nil, f.installErr
	}
	v := req.Version
	if v == "" || v == "latest" {
		v = "2.0.0"
	}
	return &InstallResult{Version: v, Description: req.Name + " package"}, nil
}

func (f *fakeInstaller) Uninstall(_ context.Context, name string) error {
	f.uninstalled = append(f.uninstalled, name)
	return f.uninstallErr
}

type eventLog struct{ events []string }

func (e *eventLog) Notify(_ context.Context, kind, name string) {
	e.events = append(e.events, kind+":"+name)
}

func TestServiceCreateInstalls(t *testing.T) {
	records := store.NewMemoryStore()
	inst := &fakeInstaller{}
	events := &eventLog{}
	svc := NewService(records, inst, WithNotifier(events))

	rec, err := svc.Create(context.Background(), store.Record{"name": "dayjs", "type": "App", "version": "latest", "flags": "--save-exact"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["version"] != "2.0.0" || rec["description"] != "dayjs package" {
		t.Errorf("record = %v, want resolved version", rec)
	}
	if len(inst.installed) != 1 || inst.installed[0].Flags[0] != "--save-exact" {
		t.Errorf("installs = %+v", inst.installed)
	}
	if len(events.events) != 1 || events.events[0] != "package.installed:dayjs" {
		t.Errorf("events = %v", events.events)
	}
}

func TestServiceEventsForgetFetchedPackages(t *testing.T) {
	ctx := context.Background()
	var forgotten []string
	n := notify.NewNotifier(nil, notify.Local(notify.PackageInvalidator(func(name string) {
		forgotten = append(forgotten, name)
	})))
	svc := NewService(store.NewMemoryStore(), &fakeInstaller{}, WithNotifier(n))

	rec, err := svc.Create(ctx, store.Record{"name": "dayjs", "type": "App", "version": "latest"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, rec.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if strings.Join(forgotten, ",") != "dayjs,dayjs" {
		t.Errorf("forgotten = %v, want install and uninstall of dayjs", forgotten)
	}
}

func TestServiceCreateRollsBackOnInstallFailure(t *testing.T) {
	records := store.NewMemoryStore()
	inst := &fakeInstaller{installErr: apperr.Internal(errors.New("exit status 1"), "failed to install nope")}
	svc := NewService(records, inst)

	_, err := svc.Create(context.Background(), store.Record{"id": "pkg-1", "name": "nope", "type": "App"})
	if err == nil {
		t.Fatal("expected install error")
	}
	if apperr.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("status = %d", apperr.StatusOf(err))
	}
	if _, err := records.Get(context.Background(), store.TablePackages, "pkg-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record should be gone after rollback, Get err = %v", err)
	}
	if list, _ := records.List(context.Background(), store.TablePackages); len(list) != 0 {
		t.Errorf("records left behind: %v", list)
	}
}

func TestServiceCreateNonApp(t *testing.T) {
	inst := &fakeInstaller{}
	svc := NewService(store.NewMemoryStore(), inst)
	if _, err := svc.Create(context.Background(), store.Record{"name": "lodash", "type": "Server"}); err != nil {
		t.Fatal(err)
	}
	if len(inst.installed) != 0 {
		t.Errorf("non-App packages must not be installed: %+v", inst.installed)
	}
}

func TestServiceUpdateReinstallsOnVersionChange(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	inst := &fakeInstaller{}
	svc := NewService(records, inst)
	rec, err := records.Create(ctx, store.TablePackages, store.Record{"name": "dayjs", "type": "App", "version": "1.11.0"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Update(ctx, rec.ID(), store.Record{"description": "dates", "version": "v1.11.0"}); err != nil {
		t.Fatal(err)
	}
	if len(inst.installed) != 0 {
		t.Errorf("same version should not reinstall: %+v", inst.installed)
	}

	updated, err := svc.Update(ctx, rec.ID(), store.Record{"version": "1.12.0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inst.installed) != 1 || inst.installed[0].Version != "1.12.0" || updated["version"] != "1.12.0" {
		t.Errorf("installs = %+v record = %v", inst.installed, updated)
	}

	inst.installErr = errors.New("registry down")
	if _, err := svc.Update(ctx, rec.ID(), store.Record{"version": "2.0.0"}); err == nil {
		t.Fatal("expected error")
	}
	after, _ := records.Get(ctx, store.TablePackages, rec.ID())
	if after["version"] != "1.12.0" {
		t.Errorf("failed reinstall must not persist, version = %v", after["version"])
	}
}

func TestServiceDelete(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	inst := &fakeInstaller{uninstallErr: errors.New("EACCES")}
	svc := NewService(records, inst)

	sys, _ := records.Create(ctx, store.TablePackages, store.Record{"name": "vue", "type": "App", "isSystem": true})
	if err := svc.Delete(ctx, sys.ID()); apperr.StatusOf(err) != http.StatusForbidden {
		t.Errorf("system package delete status = %d, want 403", apperr.StatusOf(err))
	}
	if len(inst.uninstalled) != 0 {
		t.Errorf("system package must not be uninstalled")
	}

	app, _ := records.Create(ctx, store.TablePackages, store.Record{"name": "dayjs", "type": "App"})
	if err := svc.Delete(ctx, app.ID()); err != nil {
		t.Fatalf("uninstall failure should not block delete: %v", err)
	}
	if _, err := records.Get(ctx, store.TablePackages, app.ID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
	if len(inst.uninstalled) != 1 || inst.uninstalled[0] != "dayjs" {
		t.Errorf("uninstalled = %v", inst.uninstalled)
	}
}
