package domain

import (
	"fmt"
	"time"
)

// DomainError is a plain sentinel error for invariant violations.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(msg string) *DomainError {
	return &DomainError{Message: msg}
}

var (
	ErrNoTriggersRegistered = NewDomainError("entry point registered no triggers")
	ErrRecordNotFound       = NewDomainError("runtime record not found")
	ErrRecordCompleted      = NewDomainError("runtime record is completed and terminal")
	ErrInvalidTransition    = NewDomainError("invalid runtime record status transition")
	ErrEmptyProject         = NewDomainError("project contains no files")
	ErrMissingEntrypoint    = NewDomainError("project entry point is empty")
)

// ModuleNotFoundError reports an unresolvable import. It names both the
// requesting file and the specifier so callers can report exactly where the
// import failed.
type ModuleNotFoundError struct {
	FromFile  string
	Specifier string
}

func (e *ModuleNotFoundError) Error() string {
	if e.FromFile == "" {
		return fmt.Sprintf("cannot resolve module %q", e.Specifier)
	}
	return fmt.Sprintf("cannot resolve module %q from %q", e.Specifier, e.FromFile)
}

// InvalidModuleContentError reports a data file that failed to parse.
type InvalidModuleContentError struct {
	Path string
	Err  error
}

func (e *InvalidModuleContentError) Error() string {
	return fmt.Sprintf("invalid module content in %q: %v", e.Path, e.Err)
}

func (e *InvalidModuleContentError) Unwrap() error { return e.Err }

// EvaluationError reports user code that threw while loading, annotated with
// the originating file path.
type EvaluationError struct {
	Path string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("error in file %q: %v", e.Path, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// HandlerError reports a matched handler that threw. It aborts the remaining
// matches of the invocation but is never re-raised to the transport layer.
type HandlerError struct {
	Meta ProviderMeta
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s:%s %s failed: %v", e.Meta.Type, e.Meta.Alias, e.Meta.TriggerType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RuntimeTimeoutError reports a backend wall-clock ceiling being exceeded,
// distinct from "ran and failed".
type RuntimeTimeoutError struct {
	Timeout time.Duration
}

func (e *RuntimeTimeoutError) Error() string {
	return fmt.Sprintf("runtime invocation exceeded %s ceiling", e.Timeout)
}

// RuntimeProvisioningError records a backend-specific creation failure. The
// record stays retryable: re-requesting creation moves FAILED back to
// IN_PROGRESS.
type RuntimeProvisioningError struct {
	ConfigHash string
	Err        error
}

func (e *RuntimeProvisioningError) Error() string {
	return fmt.Sprintf("provisioning runtime %s failed: %v", e.ConfigHash, e.Err)
}

func (e *RuntimeProvisioningError) Unwrap() error { return e.Err }
