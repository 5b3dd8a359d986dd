package bundler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/enfyra/app/artifact"
	"github.com/enfyra/app/cache"
	"golang.org/x/sync/singleflight"
)

// Cached fronts a Bundler with a fast cache tier and an optional durable
// artifact tier. Concurrent requests for the same key share one build.
type Cached struct {
	bundler   *Bundler
	cache     cache.Store
	artifacts artifact.Store
	group     singleflight.Group
	logger    *slog.Logger
}

// NewCached wraps b. Either tier may be nil.
func NewCached(b *Bundler, c cache.Store, artifacts artifact.Store) *Cached {
	return &Cached{bundler: b, cache: c, artifacts: artifacts, logger: b.logger}
}

// CacheKey identifies a bundle by package, resolved version and options.
func CacheKey(opts Options, version string) string {
	h := sha256.New()
	ext, _ := json.Marshal(opts.Externals)
	h.Write(ext)
	return opts.PackageName + "@" + version +
		"|minify=" + strconv.FormatBool(opts.Minify) +
		"|ext=" + hex.EncodeToString(h.Sum(nil))[:12]
}

func artifactKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".json"
}

// Bundle returns a cached result when one exists for the installed version
// and builds otherwise.
func (c *Cached) Bundle(ctx context.Context, opts Options) (*Result, error) {
	located, err := c.bundler.resolver.Locate(opts.PackageName)
	if err != nil {
		return nil, err
	}
	key := CacheKey(opts, located.Manifest.Version)

	if res := c.lookup(ctx, key, opts.PackageName); res != nil {
		return res, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.bundler.Bundle(ctx, opts)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, opts.PackageName, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Invalidate drops the cached entry for opts at version from the fast tier.
func (c *Cached) Invalidate(ctx context.Context, opts Options, version string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, CacheKey(opts, version))
}

func (c *Cached) lookup(ctx context.Context, key, pkg string) *Result {
	rec := c.bundler.recorder
	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("bundle cache read failed", "package", pkg, "error", err)
		}
		if rec != nil {
			rec.ObserveBundleCache("memory", ok)
		}
		if ok {
			if res, err := decode(data); err == nil {
				return res
			}
		}
	}
	if c.artifacts == nil {
		return nil
	}
	rc, err := c.artifacts.Get(ctx, pkg, artifactKey(key))
	if err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			c.logger.Warn("bundle artifact read failed", "package", pkg, "error", err)
		}
		if rec != nil {
			rec.ObserveBundleCache("artifact", false)
		}
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}
	res, err := decode(data)
	if err != nil {
		return nil
	}
	if rec != nil {
		rec.ObserveBundleCache("artifact", true)
	}
	if c.cache != nil {
		_ = c.cache.Set(ctx, key, data)
	}
	return res
}

func (c *Cached) store(ctx context.Context, key, pkg string, res *Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data); err != nil {
			c.logger.Warn("bundle cache write failed", "package", pkg, "error", err)
		}
	}
	if c.artifacts != nil {
		if err := c.artifacts.Put(ctx, pkg, artifactKey(key), bytes.NewReader(data)); err != nil {
			c.logger.Warn("bundle artifact write failed", "package", pkg, "error", err)
		}
	}
}

func decode(data []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
