// Package errors provides structured error types for debugctl.
// Every failure of the session lifecycle is reported as a DebugError whose
// code places it in the controller's taxonomy (validation, setup, run, stop,
// invalid transition) and whose hint tells the user what to do next.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Lifecycle taxonomy
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeSetupFailure      ErrorCode = "SETUP_FAILURE"
	CodeRunFailure        ErrorCode = "RUN_FAILURE"
	CodeStopFailure       ErrorCode = "STOP_FAILURE"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodePrerunFailed      ErrorCode = "PRERUN_FAILED"

	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionTerminated   ErrorCode = "SESSION_TERMINATED"

	// Adapter errors
	CodeAdapterNotSupported ErrorCode = "ADAPTER_NOT_SUPPORTED"
	CodeAdapterSpawnFailed  ErrorCode = "ADAPTER_SPAWN_FAILED"

	// DAP protocol errors
	CodeDAPInitFailed   ErrorCode = "DAP_INIT_FAILED"
	CodeDAPLaunchFailed ErrorCode = "DAP_LAUNCH_FAILED"
	CodeDAPAttachFailed ErrorCode = "DAP_ATTACH_FAILED"
	CodeDAPTimeout      ErrorCode = "DAP_TIMEOUT"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Configuration errors
	CodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that carries a machine readable code,
// a user-visible message and an optional hint.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is the user-visible description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Lifecycle Errors ---

// Validation creates an error for bad or missing configuration detected
// before any engine exists.
func Validation(messages ...string) *DebugError {
	return &DebugError{
		Code:    CodeValidation,
		Message: strings.Join(messages, "\n"),
		Details: map[string]interface{}{
			"problems": messages,
		},
	}
}

// SetupFailure creates an error for an engine that failed to initialize
func SetupFailure(engine string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSetupFailure,
		Message: fmt.Sprintf("%s: engine setup failed: %v", engine, err),
		Hint:    "Check that the debugger is installed and that its path is configured correctly.",
		Cause:   err,
		Details: map[string]interface{}{
			"engine": engine,
		},
	}
}

// RunFailure creates an error for an inferior that could not be started or attached
func RunFailure(engine string, err error) *DebugError {
	return &DebugError{
		Code:    CodeRunFailure,
		Message: fmt.Sprintf("%s: failed to start inferior: %v", engine, err),
		Hint:    "Check that the executable exists, or that the process or core file you attach to is accessible.",
		Cause:   err,
		Details: map[string]interface{}{
			"engine": engine,
		},
	}
}

// StopFailure creates an error for an inferior that refused to stop
func StopFailure(engine string, err error) *DebugError {
	return &DebugError{
		Code:    CodeStopFailure,
		Message: fmt.Sprintf("%s: inferior did not stop: %v", engine, err),
		Hint:    "The session is shut down instead.",
		Cause:   err,
		Details: map[string]interface{}{
			"engine": engine,
		},
	}
}

// InvalidTransition creates an error for a state change the protocol does not allow
func InvalidTransition(from, to string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("invalid state transition from %s to %s", from, to),
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// InvalidEvent creates an error for a notification the current state cannot accept
func InvalidEvent(state, event string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("event %s is not valid in state %s", event, state),
		Details: map[string]interface{}{
			"state": state,
			"event": event,
		},
	}
}

// PrerunFailed creates an error for a pre-run dependency that did not come up
func PrerunFailed(dependency string, err error) *DebugError {
	return &DebugError{
		Code:    CodePrerunFailed,
		Message: fmt.Sprintf("%s failed: %v", dependency, err),
		Cause:   err,
		Details: map[string]interface{}{
			"dependency": dependency,
		},
	}
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see live sessions and presets.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Stop an existing session before starting a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// SessionTerminated creates an error for operations on a finished session
func SessionTerminated(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionTerminated,
		Message: fmt.Sprintf("session '%s' has already finished", sessionID),
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// --- Adapter Errors ---

// AdapterNotSupported creates an error for a backend nobody configured
func AdapterNotSupported(backend string, supported []string) *DebugError {
	return &DebugError{
		Code:    CodeAdapterNotSupported,
		Message: fmt.Sprintf("no debugger available for backend: %s", backend),
		Hint:    fmt.Sprintf("Configured backends are: %s.", strings.Join(supported, ", ")),
		Details: map[string]interface{}{
			"requestedBackend":  backend,
			"supportedBackends": supported,
		},
	}
}

// AdapterSpawnFailed creates an error when adapter spawn fails
func AdapterSpawnFailed(backend string, err error) *DebugError {
	return &DebugError{
		Code:    CodeAdapterSpawnFailed,
		Message: fmt.Sprintf("failed to spawn debug adapter for %s: %v", backend, err),
		Hint:    "Ensure the debugger is installed: gdb 14.1+ for gdb, lldb-dap for lldb, debugpy for pdb.",
		Cause:   err,
		Details: map[string]interface{}{
			"backend": backend,
		},
	}
}

// --- DAP Protocol Errors ---

// DAPInitFailed creates an error for DAP initialization failures
func DAPInitFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeDAPInitFailed,
		Message: fmt.Sprintf("debug adapter initialization failed: %v", err),
		Cause:   err,
	}
}

// DAPLaunchFailed creates an error for launch failures
func DAPLaunchFailed(program string, err error) *DebugError {
	return &DebugError{
		Code:    CodeDAPLaunchFailed,
		Message: fmt.Sprintf("failed to launch program: %v", err),
		Cause:   err,
		Details: map[string]interface{}{
			"program": program,
		},
	}
}

// DAPAttachFailed creates an error for attach failures
func DAPAttachFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeDAPAttachFailed,
		Message: fmt.Sprintf("failed to attach: %v", err),
		Cause:   err,
	}
}

// DAPTimeout creates an error for DAP timeouts
func DAPTimeout(operation string, timeoutSeconds int) *DebugError {
	return &DebugError{
		Code:    CodeDAPTimeout,
		Message: fmt.Sprintf("%s timed out after %d seconds", operation, timeoutSeconds),
		Details: map[string]interface{}{
			"operation":      operation,
			"timeoutSeconds": timeoutSeconds,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(key, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration value '%s' is invalid: %s", key, reason),
		Details: map[string]interface{}{
			"key":    key,
			"reason": reason,
		},
	}
}

// --- Helpers ---

// Concat folds several failures into one user-visible error. Messages are
// joined line by line and every cause stays reachable through errors.Is/As.
// Nil errors are skipped; Concat returns nil if nothing is left.
func Concat(code ErrorCode, errs ...error) *DebugError {
	var msgs []string
	var causes []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		causes = append(causes, err)
		msg := err.Error()
		var de *DebugError
		if stderrors.As(err, &de) {
			msg = de.Message
		}
		msgs = append(msgs, msg)
	}
	if len(causes) == 0 {
		return nil
	}
	return &DebugError{
		Code:    code,
		Message: strings.Join(msgs, "\n"),
		Cause:   stderrors.Join(causes...),
	}
}

// IsCode reports whether err, or anything it wraps, is a DebugError with the given code
func IsCode(err error, code ErrorCode) bool {
	var de *DebugError
	if !stderrors.As(err, &de) {
		return false
	}
	if de.Code == code {
		return true
	}
	return de.Cause != nil && IsCode(de.Cause, code)
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}
