// Package event defines the observable events of the session controller and
// the bus that delivers them.
//
// Events are the only outward channel of sessions and the registry: the UI,
// the MCP surface and the CLI subscribe to them instead of reaching into
// controller state.
package event

import "time"

// Event type identifiers
const (
	TypeSessionRegistered   = "session.registered"
	TypeSessionUnregistered = "session.unregistered"
	TypeCurrentChanged      = "registry.current_changed"
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionStarted      = "session.started"
	TypeSessionStopped      = "session.stopped"
	TypeSessionWarning      = "session.warning"
	TypeSessionFailed       = "session.failed"
	TypePresetsChanged      = "registry.presets_changed"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier, "category.action"
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// SessionRef identifies a session in events without handing out the session itself
type SessionRef struct {
	ID          string
	RunID       int
	DisplayName string
}

// -----------------------------------------------------------------------------
// Registry Events
// -----------------------------------------------------------------------------

// SessionRegisteredEvent is emitted when a session enters the registry.
type SessionRegisteredEvent struct {
	baseEvent
	Session SessionRef
}

// NewSessionRegisteredEvent creates a SessionRegisteredEvent.
func NewSessionRegisteredEvent(s SessionRef) SessionRegisteredEvent {
	return SessionRegisteredEvent{baseEvent: newBaseEvent(TypeSessionRegistered), Session: s}
}

// SessionUnregisteredEvent is emitted when a session leaves the registry.
type SessionUnregisteredEvent struct {
	baseEvent
	Session SessionRef
}

// NewSessionUnregisteredEvent creates a SessionUnregisteredEvent.
func NewSessionUnregisteredEvent(s SessionRef) SessionUnregisteredEvent {
	return SessionUnregisteredEvent{baseEvent: newBaseEvent(TypeSessionUnregistered), Session: s}
}

// CurrentChangedEvent is emitted when the current registry entry changes.
// EntryID is empty when nothing is current; Live is false for presets.
type CurrentChangedEvent struct {
	baseEvent
	EntryID   string
	EntryName string
	Live      bool
}

// NewCurrentChangedEvent creates a CurrentChangedEvent.
func NewCurrentChangedEvent(entryID, entryName string, live bool) CurrentChangedEvent {
	return CurrentChangedEvent{
		baseEvent: newBaseEvent(TypeCurrentChanged),
		EntryID:   entryID,
		EntryName: entryName,
		Live:      live,
	}
}

// PresetsChangedEvent is emitted when the preset list is replaced.
type PresetsChangedEvent struct {
	baseEvent
	Count int
}

// NewPresetsChangedEvent creates a PresetsChangedEvent.
func NewPresetsChangedEvent(count int) PresetsChangedEvent {
	return PresetsChangedEvent{baseEvent: newBaseEvent(TypePresetsChanged), Count: count}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStateChangedEvent is emitted for every accepted engine transition.
// Aggregate is set on the single event reporting that the whole session
// (both engines, if paired) has finished; Engine is empty there.
type SessionStateChangedEvent struct {
	baseEvent
	Session   SessionRef
	Engine    string
	OldState  string
	NewState  string
	Aggregate bool
}

// NewSessionStateChangedEvent creates a per-engine SessionStateChangedEvent.
func NewSessionStateChangedEvent(s SessionRef, engine, oldState, newState string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		baseEvent: newBaseEvent(TypeSessionStateChanged),
		Session:   s,
		Engine:    engine,
		OldState:  oldState,
		NewState:  newState,
	}
}

// NewSessionFinishedEvent creates the aggregate SessionStateChangedEvent.
func NewSessionFinishedEvent(s SessionRef, finished string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		baseEvent: newBaseEvent(TypeSessionStateChanged),
		Session:   s,
		NewState:  finished,
		Aggregate: true,
	}
}

// SessionStartedEvent is emitted once the primary engine runs the inferior.
type SessionStartedEvent struct {
	baseEvent
	Session SessionRef
	PID     int
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(s SessionRef, pid int) SessionStartedEvent {
	return SessionStartedEvent{baseEvent: newBaseEvent(TypeSessionStarted), Session: s, PID: pid}
}

// SessionStoppedEvent is emitted once every engine of a session has finished.
type SessionStoppedEvent struct {
	baseEvent
	Session SessionRef
	Failure string // empty on a clean run
}

// NewSessionStoppedEvent creates a SessionStoppedEvent.
func NewSessionStoppedEvent(s SessionRef, failure string) SessionStoppedEvent {
	return SessionStoppedEvent{baseEvent: newBaseEvent(TypeSessionStopped), Session: s, Failure: failure}
}

// SessionWarningEvent carries a non-fatal problem, such as a breakpoint the
// backend cannot handle.
type SessionWarningEvent struct {
	baseEvent
	Session SessionRef
	Message string
}

// NewSessionWarningEvent creates a SessionWarningEvent.
func NewSessionWarningEvent(s SessionRef, message string) SessionWarningEvent {
	return SessionWarningEvent{baseEvent: newBaseEvent(TypeSessionWarning), Session: s, Message: message}
}

// SessionFailedEvent carries the single user-visible failure of a session.
type SessionFailedEvent struct {
	baseEvent
	Session SessionRef
	Code    string
	Message string
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(s SessionRef, code, message string) SessionFailedEvent {
	return SessionFailedEvent{
		baseEvent: newBaseEvent(TypeSessionFailed),
		Session:   s,
		Code:      code,
		Message:   message,
	}
}
