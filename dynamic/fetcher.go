package dynamic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/bundler"
	"github.com/enfyra/app/npm"
	"golang.org/x/sync/singleflight"
)

// PackageSource returns a package bundle as an ES module with a default
// export.
type PackageSource interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// BundleProvider is satisfied by *bundler.Bundler and *bundler.Cached.
type BundleProvider interface {
	Bundle(ctx context.Context, opts bundler.Options) (*bundler.Result, error)
}

// BundlerSource builds packages in process.
type BundlerSource struct {
	Bundler BundleProvider
}

func (s BundlerSource) Fetch(ctx context.Context, name string) (string, error) {
	res, err := s.Bundler.Bundle(ctx, bundler.Options{PackageName: name})
	if err != nil {
		return "", err
	}
	return res.Code, nil
}

// HTTPSource fetches bundles from a running server's /packages endpoint.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s HTTPSource) Fetch(ctx context.Context, name string) (string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/packages?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(resp.StatusCode, "fetch package %s: %s", name, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// pkgGlobal is the global a fetched package script assigns its default
// export to.
const pkgGlobal = "__enfyraPackage"

// PackageFetcher fetches package bundles and converts them to scripts.
// Concurrent requests for one name share a single fetch. Successful results
// are kept until Forget; failures are retried on the next call.
type PackageFetcher struct {
	source PackageSource
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	scripts map[string]string
}

// NewPackageFetcher creates a fetcher reading from source.
func NewPackageFetcher(source PackageSource, logger *slog.Logger) *PackageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageFetcher{source: source, logger: logger, scripts: make(map[string]string)}
}

// Fetch returns a script that assigns the package's default export to
// globalThis.__enfyraPackage. ok is false when the package is unavailable.
func (f *PackageFetcher) Fetch(ctx context.Context, name string) (script string, ok bool) {
	f.mu.RLock()
	script, ok = f.scripts[name]
	f.mu.RUnlock()
	if ok {
		return script, true
	}

	v, err, _ := f.group.Do(name, func() (any, error) {
		f.mu.RLock()
		cached, hit := f.scripts[name]
		f.mu.RUnlock()
		if hit {
			return cached, nil
		}
		code, err := f.source.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		s, err := bundler.ToScript(code, pkgGlobal)
		if err != nil {
			return nil, fmt.Errorf("convert package %s: %w", name, err)
		}
		f.mu.Lock()
		f.scripts[name] = s
		f.mu.Unlock()
		return s, nil
	})
	if err != nil {
		if !isResolutionFailure(err) {
			f.logger.Error("package fetch failed", "package", name, "error", err)
		}
		return "", false
	}
	return v.(string), true
}

// Forget drops a cached script so the next Fetch goes to the source.
func (f *PackageFetcher) Forget(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scripts, name)
}

// isResolutionFailure reports errors that mean "this package is not there",
// which are expected for optional packages.
func isResolutionFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, npm.ErrNotInstalled) || apperr.Is(err, http.StatusNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"404", "aborted", "cannot resolve", "could not resolve", "failed to resolve"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
