package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrBootstrap         = errors.New("engine bootstrap failed")
	ErrParse             = errors.New("input is not valid notation data")
	ErrComputation       = errors.New("fingering computation failed")
	ErrMalformedEncoding = errors.New("malformed transit encoding")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Kind classifies an engine failure for transport
type Kind string

const (
	KindBootstrap         Kind = "bootstrap"
	KindParse             Kind = "parse"
	KindComputation       Kind = "computation"
	KindMalformedEncoding Kind = "malformed_encoding"
	KindInvalidRequest    Kind = "invalid_request"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

var sentinels = map[Kind]error{
	KindBootstrap:         ErrBootstrap,
	KindParse:             ErrParse,
	KindComputation:       ErrComputation,
	KindMalformedEncoding: ErrMalformedEncoding,
	KindInvalidRequest:    ErrInvalidRequest,
}

// EngineError represents a failure reported by, or on the way to, the engine
type EngineError struct {
	Kind    Kind
	Op      string // "load", "compute_all", "annotate", "decode"
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error kind
func (e *EngineError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// IsFatal reports whether the error poisons the engine for the worker lifetime
func (e *EngineError) IsFatal() bool {
	return e.Kind == KindBootstrap
}

// ProcessError represents a failure of the engine's host process
type ProcessError struct {
	Tool     string // "python3"
	Stage    string // "start", "compute_all", "annotate"
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError creates a ProcessError
func NewProcessError(tool, stage string, exitCode int, stderr string, cause error) *ProcessError {
	return &ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// NewEngineError creates an EngineError
func NewEngineError(kind Kind, op, message string, cause error) *EngineError {
	return &EngineError{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// KindOf classifies any error. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}
