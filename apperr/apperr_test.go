package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"bad request", BadRequest("bad %s", "input"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("resolve: %w", NotFound("package %q not found", "x")), http.StatusNotFound},
		{"upstream", New(http.StatusConflict, "dup"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Internal(cause, "install %s", "dayjs")
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Error() != "install dayjs: exit status 1" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if Wrap(http.StatusBadRequest, nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if !Is(err, http.StatusInternalServerError) {
		t.Error("expected Is to match 500")
	}
}
