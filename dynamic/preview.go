package dynamic

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PreviewRequest describes a non-cached load.
type PreviewRequest struct {
	// Code is the compiled script.
	Code string `json:"code"`
	// Source is the authored text, scanned for getPackages() references.
	// Code is scanned when Source is empty.
	Source string `json:"source,omitempty"`
	Name   string `json:"name"`
	// Actions receives header registrations. A fresh registry is used when
	// nil so the preview never touches the shared one.
	Actions ActionSink `json:"-"`
}

// PreviewResult is the outcome of LoadForPreview.
type PreviewResult struct {
	Handle      *Handle  `json:"component"`
	Packages    []string `json:"packages"`
	Unavailable []string `json:"unavailable,omitempty"`
	// Actions is the registry used when the request supplied none.
	Actions *ActionRegistry `json:"-"`
}

// LoadForPreview loads code in a fresh sandbox. The cache is neither read
// nor written. Packages referenced through getPackages() are fetched
// concurrently and defined before the code runs.
func (l *Loader) LoadForPreview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	if req.Name == "" {
		req.Name = "preview"
	}
	res := &PreviewResult{}
	sink := req.Actions
	if sink == nil {
		res.Actions = NewActionRegistry()
		sink = res.Actions
	}

	source := req.Source
	if source == "" {
		source = req.Code
	}
	names := DetectReferencedPackages(source)
	scripts := make([]string, len(names))
	if l.fetcher != nil && len(names) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			g.Go(func() error {
				if s, ok := l.fetcher.Fetch(gctx, name); ok {
					scripts[i] = s
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sb := l.newSandbox()
	if err := l.prepare(ctx, sb, sink); err != nil {
		return nil, loadError(err)
	}

	packages := make(map[string]any, len(names))
	for i, name := range names {
		packages[name] = nil
		if scripts[i] == "" {
			res.Unavailable = append(res.Unavailable, name)
			continue
		}
		v, err := sb.Execute(ctx, scripts[i], pkgGlobal)
		if err != nil || v.Kind() == KindUndefined {
			l.logger.Warn("preview package failed to initialize", "package", name, "error", err)
			res.Unavailable = append(res.Unavailable, name)
			continue
		}
		packages[name] = v
		res.Packages = append(res.Packages, name)
	}
	if err := sb.Define(packagesGlobal, packages); err != nil {
		return nil, loadError(err)
	}

	h, err := l.execute(ctx, sb, req.Code, req.Name)
	if err != nil {
		return nil, loadError(err)
	}
	res.Handle = h
	return res, nil
}
