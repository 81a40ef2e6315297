package streaming

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateMount is returned when registering over a mount that still
	// has active sessions.
	ErrDuplicateMount = errors.New("mount already registered with active sessions")

	// ErrMountInUse is returned when unregistering a mount that still has
	// active sessions.
	ErrMountInUse = errors.New("mount in use")

	// ErrMountNotFound is returned for paths that have no registered mount.
	ErrMountNotFound = errors.New("mount not found")

	// ErrInvalidTemplate is returned when a template is rejected at registration.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrValidationFailed marks descriptions the engine refused to parse.
	ErrValidationFailed = errors.New("pipeline validation failed")

	// ErrInstantiationFailed marks descriptions the engine could not realise.
	ErrInstantiationFailed = errors.New("pipeline instantiation failed")

	// ErrAlreadyRunning is returned by Start when the controller is not idle.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNotRunning is returned by dispatched operations while the controller
	// is idle or stopping.
	ErrNotRunning = errors.New("server not running")

	// ErrBind marks failures to attach the listening endpoint.
	ErrBind = errors.New("cannot bind listening endpoint")
)

// TemplateError reports which mount failed registration.
type TemplateError struct {
	MountPath string
	Err       error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid template %q: %v", e.MountPath, e.Err)
}

func (e *TemplateError) Unwrap() []error {
	return []error{ErrInvalidTemplate, e.Err}
}

// EngineError wraps a failure reported by the pipeline executor.
// Kind is ErrValidationFailed or ErrInstantiationFailed.
type EngineError struct {
	Op     string
	Kind   error
	Reason error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Reason)
}

func (e *EngineError) Unwrap() []error {
	return []error{e.Kind, e.Reason}
}

// BindError reports the port the endpoint could not listen on.
type BindError struct {
	Port uint16
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}
