package extension

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/enfyra/app/apperr"
	"github.com/evanw/esbuild/pkg/api"
)

// SourceCompiler compiles component source for an extension id.
type SourceCompiler interface {
	Compile(ctx context.Context, source, extensionID string) (string, error)
}

// Service validates and compiles extension definitions before they are
// persisted or previewed.
type Service struct {
	compiler SourceCompiler
	recorder Recorder
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceRecorder sets the metrics recorder used for JS bundle checks.
func WithServiceRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service that compiles components with compiler.
func NewService(compiler SourceCompiler, opts ...ServiceOption) *Service {
	s := &Service{compiler: compiler, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build validates code and returns what the client should execute. Component
// source is compiled; plain bundles are syntax checked and returned as is.
func (s *Service) Build(ctx context.Context, code, extensionID string) (string, error) {
	if LooksLikeSFC(code) {
		if err := AssertValidSFC(code); err != nil {
			return "", err
		}
		return s.compiler.Compile(ctx, code, extensionID)
	}

	start := time.Now()
	err := checkBundle(code)
	if s.recorder != nil {
		s.recorder.ObserveCompile("bundle", err, time.Since(start))
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func checkBundle(code string) error {
	if err := AssertValidJSBundle(code); err != nil {
		return err
	}
	res := api.Transform(code, api.TransformOptions{
		Loader:   api.LoaderJS,
		LogLevel: api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return apperr.Wrap(http.StatusBadRequest, &ValidationError{Reason: res.Errors[0].Text}, "invalid extension source")
	}
	return nil
}

// Prepare fills in extensionId and compiledCode on a record body about to be
// created. code is required.
func (s *Service) Prepare(ctx context.Context, body map[string]any) error {
	code, _ := body["code"].(string)
	if code == "" {
		return apperr.BadRequest("code is required")
	}
	id := EnsureID(body["extensionId"])
	compiled, err := s.Build(ctx, code, id)
	if err != nil {
		return err
	}
	body["extensionId"] = id
	body["compiledCode"] = compiled
	return nil
}

// PrepareUpdate recompiles when a patch carries code. The extension id of the
// existing record is kept unless the patch supplies a valid one.
func (s *Service) PrepareUpdate(ctx context.Context, patch, existing map[string]any) error {
	raw, ok := patch["code"]
	if !ok {
		return nil
	}
	code, _ := raw.(string)
	if code == "" {
		return apperr.BadRequest("code must not be empty")
	}
	id, _ := patch["extensionId"].(string)
	if !ValidID(id) {
		id = EnsureID(existing["extensionId"])
	}
	compiled, err := s.Build(ctx, code, id)
	if err != nil {
		return err
	}
	patch["extensionId"] = id
	patch["compiledCode"] = compiled
	return nil
}

// PreviewRequest is the body of a preview call.
type PreviewRequest struct {
	Code string `json:"code"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// PreviewResult is returned by Preview.
type PreviewResult struct {
	Success      bool   `json:"success"`
	CompiledCode string `json:"compiledCode"`
	ExtensionID  string `json:"extensionId,omitempty"`
}

// Preview compiles code without persisting anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	if req.Code == "" {
		return nil, apperr.BadRequest("code is required")
	}
	id := EnsureID(req.ID)
	compiled, err := s.Build(ctx, req.Code, id)
	if err != nil {
		s.logger.Debug("preview compile failed", "extension", id, "name", req.Name, "error", err)
		return nil, err
	}
	return &PreviewResult{Success: true, CompiledCode: compiled, ExtensionID: id}, nil
}
