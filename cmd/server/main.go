package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enfyra/app/api"
	"github.com/enfyra/app/artifact"
	"github.com/enfyra/app/bundler"
	"github.com/enfyra/app/cache"
	"github.com/enfyra/app/config"
	"github.com/enfyra/app/dynamic"
	"github.com/enfyra/app/extension"
	"github.com/enfyra/app/metrics"
	"github.com/enfyra/app/notify"
	"github.com/enfyra/app/npm"
	"github.com/enfyra/app/observability/tracing"
	"github.com/enfyra/app/packages"
	"github.com/enfyra/app/store"
)

var (
	configFile = flag.String("config", "", "Path to server configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level := new(slog.LevelVar)
	logger := cfg.Server.NewLogger(os.Stdout, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// closers runs shutdown hooks in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg *config.ServerConfig, level *slog.LevelVar, logger *slog.Logger) error {
	var cleanup closers
	defer cleanup.close()

	root, err := projectRoot(cfg.Server.ProjectRoot)
	if err != nil {
		return err
	}
	logger.Info("using project", "root", root)

	collector := metrics.New()

	if cfg.Tracing.Endpoint != "" {
		provider, err := tracing.NewProvider(ctx, tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			return err
		}
		cleanup.add(func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(sctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		})
	}

	records, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	cleanup.add(closeStore)

	bundleCache, closeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	cleanup.add(closeCache)

	artifacts, closeArtifacts, err := openArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return err
	}
	cleanup.add(closeArtifacts)

	resolver := npm.NewResolver(root)
	b := bundler.New(resolver,
		bundler.WithLogger(logger),
		bundler.WithRecorder(collector),
		bundler.WithFrameworkGlobal(cfg.Bundle.FrameworkGlobal),
	)
	cached := bundler.NewCached(b, bundleCache, artifacts)

	compiler := extension.NewCompiler(root,
		extension.WithTempRoot(cfg.Server.TempDir),
		extension.WithCompilerLogger(logger),
		extension.WithCompilerRecorder(collector),
		extension.WithFrameworkGlobal(cfg.Bundle.FrameworkGlobal),
	)
	extensions := extension.NewService(compiler,
		extension.WithServiceLogger(logger),
		extension.WithServiceRecorder(collector),
	)

	notifier := notify.NewNotifier(logger)
	hub := notify.NewHub(logger, nil)
	notifier.Add(hub)
	cleanup.add(hub.Close)

	fetcher := dynamic.NewPackageFetcher(dynamic.BundlerSource{Bundler: cached}, logger)
	forgetPackage := notify.PackageInvalidator(fetcher.Forget)
	notifier.Add(notify.Local(forgetPackage))

	loader := dynamic.NewLoader(
		dynamic.WithLoaderLogger(logger),
		dynamic.WithFrameworkGlobal(cfg.Bundle.FrameworkGlobal),
		dynamic.WithFramework(frameworkSource(root, cfg.Sandbox.FrameworkBuild)),
		dynamic.WithSandboxFactory(func() dynamic.Sandbox {
			return dynamic.NewGojaSandbox(dynamic.ParseResourceLimitsFromConfig(cfg.Sandbox))
		}),
		dynamic.WithPackageFetcher(fetcher),
	)
	collector.WatchLoader(func() metrics.LoaderStats {
		st := loader.Cache().Stats()
		return metrics.LoaderStats{Size: st.Size, Hits: int64(st.Hits), Misses: int64(st.Misses)}
	})
	invalidate := func(name string) { loader.Invalidate(name) }

	if cfg.Notify.NATSURL != "" {
		bus, err := notify.NewNATSBus(cfg.Notify.NATSURL, cfg.Notify.Subject, logger)
		if err != nil {
			return err
		}
		cleanup.add(bus.Close)
		notifier.Add(bus)
		invalidateExtension := notify.Invalidator(notifier.Origin(), invalidate)
		if err := bus.Subscribe(func(ev notify.Event) {
			invalidateExtension(ev)
			forgetPackage(ev)
		}); err != nil {
			return err
		}
	}

	installerOpts := []packages.InstallerOption{
		packages.WithTimeout(cfg.Packages.InstallTimeout),
		packages.WithInstallerLogger(logger),
		packages.WithInstallerRecorder(collector),
	}
	if m, ok := packages.ParseManager(cfg.Packages.Manager); ok {
		installerOpts = append(installerOpts, packages.WithManager(m))
	}
	installer := packages.NewInstaller(root, installerOpts...)
	logger.Info("package manager selected", "manager", installer.Manager())
	pkgService := packages.NewService(records, installer,
		packages.WithNotifier(notifier),
		packages.WithServiceLogger(logger),
	)

	if cfg.Watch.Dir != "" {
		w := dynamic.NewWatcher(loader, extensions, cfg.Watch.Dir,
			dynamic.WithDebounce(cfg.Watch.Debounce),
			dynamic.WithLogger(logger),
			dynamic.WithOnReload(func(name string, removed bool, err error) {
				if err != nil {
					return
				}
				kind := notify.ExtensionUpdated
				if removed {
					kind = notify.ExtensionDeleted
				}
				notifier.Notify(context.Background(), kind, name)
			}),
		)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start extension watcher: %w", err)
		}
		cleanup.add(func() { _ = w.Stop() })
	}

	if *configFile != "" {
		cw := config.NewConfigWatcher(config.NewFileSource(*configFile), func(ev config.ConfigChangeEvent) {
			level.Set(ev.Config.Server.Level())
			logger.Info("configuration reloaded", "log_level", ev.Config.Server.LogLevel)
		}, config.WithWatchLogger(logger))
		if err := cw.Start(); err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			cleanup.add(func() { _ = cw.Stop() })
		}
	}

	tracingService := ""
	if cfg.Tracing.Endpoint != "" {
		tracingService = cfg.Tracing.ServiceName
	}
	router := api.NewRouter(api.Deps{
		Records:    records,
		Extensions: extensions,
		Packages:   pkgService,
		Bundler:    cached,
		Resolver:   resolver,
		Loader:     dynamic.NewAPIHandler(loader, extensions),
		Metrics:    collector,
		Events:     hub,
		Notifier:   notifier,
		Logger:     logger,
	}, api.Config{
		JWTSecret:        cfg.Auth.JWTSecret,
		JWTIssuer:        cfg.Auth.Issuer,
		PreviewRateLimit: cfg.Preview.RequestsPerMinute,
		PreviewBurst:     cfg.Preview.Burst,
		Minify:           cfg.Bundle.Minify,
		TracingService:   tracingService,
	})
	cleanup.add(router.Close)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	return nil
}

// projectRoot returns configured when set and otherwise searches upward from
// the working directory.
func projectRoot(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return npm.FindProjectRoot(wd)
}

// frameworkSource reads the global Vue build the sandbox evaluates before
// running components. The file is resolved on first use.
func frameworkSource(root, override string) func() (string, error) {
	return func() (string, error) {
		path := override
		if path == "" {
			fw, err := extension.ResolveFramework(root)
			if err != nil {
				return "", err
			}
			if fw.RuntimeGlobal == "" {
				return "", extension.ErrFrameworkNotFound
			}
			path = fw.RuntimeGlobal
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read framework build: %w", err)
		}
		return string(data), nil
	}
}

func openStore(ctx context.Context, cfg config.StoreSection) (store.Records, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := store.NewPGStore(ctx, store.PGConfig{
			URL:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "upstream":
		return store.NewUpstreamStore(cfg.UpstreamURL, &http.Client{Timeout: 30 * time.Second}), func() {}, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func openCache(ctx context.Context, cfg config.CacheSection) (cache.Store, func(), error) {
	if cfg.Backend == "redis" {
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address: cfg.RedisAddr,
			DB:      cfg.RedisDB,
			Prefix:  cfg.Prefix,
			TTL:     cfg.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}
	return cache.NewMemory(cache.Config{MaxSize: cfg.MaxSize, TTL: cfg.TTL}), func() {}, nil
}

// openArtifacts returns a nil store for the "none" backend.
func openArtifacts(ctx context.Context, cfg config.ArtifactSection) (artifact.Store, func(), error) {
	switch cfg.Backend {
	case "local":
		return artifact.NewLocalStore(cfg.Dir), func() {}, nil
	case "s3":
		s, err := artifact.NewS3StoreFromConfig(ctx, artifact.S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "gcs":
		s, err := artifact.NewGCSStore(ctx, artifact.GCSConfig{
			Bucket:  cfg.Bucket,
			Prefix:  cfg.Prefix,
			Project: cfg.Project,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
