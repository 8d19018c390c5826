package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestEngineErrorIs(t *testing.T) {
	err := NewEngineError(KindParse, "compute_all", "bad header", nil)
	wrapped := fmt.Errorf("request 3: %w", err)

	if !errors.Is(wrapped, ErrParse) {
		t.Error("wrapped parse error should match ErrParse")
	}
	if errors.Is(wrapped, ErrComputation) {
		t.Error("parse error should not match ErrComputation")
	}
	if err.IsFatal() {
		t.Error("parse error should not be fatal")
	}
	if !NewEngineError(KindBootstrap, "load", "pip failed", nil).IsFatal() {
		t.Error("bootstrap error should be fatal")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"engine error", NewEngineError(KindComputation, "", "x", nil), KindComputation},
		{"wrapped sentinel", fmt.Errorf("decode: %w", ErrMalformedEncoding), KindMalformedEncoding},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), KindCanceled},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
