// Package registry keeps the process-wide table of debugging sessions and
// preset entries, and owns which entry is current.
//
// Activate is the only way the current entry changes. The outgoing entry is
// ramped down and loses its UI context before the incoming entry gains its
// context and is ramped up, so two sessions are never active for keybinding
// dispatch at the same time.
//
// The registry is not synchronized; it is only used on the controller loop.
package registry

import (
	"container/list"

	"go.uber.org/zap"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/pkg/types"
)

// Session is what the registry needs from a live session
type Session interface {
	ID() string
	RunID() int
	DisplayName() string
	Kind() types.BackendKind
	State() string

	// Stop asks the session to shut down. Idempotent.
	Stop()

	// Finished reports whether every engine has finished
	Finished() bool

	// Stopping reports whether shutdown was already requested or is under way
	Stopping() bool
}

// Perspective is the UI surface attached to an entry
type Perspective interface {
	RampUp()
	RampDown()
	IsCurrent() bool
}

// UIContext holds the keybinding contexts of live sessions
type UIContext interface {
	AddContext(id string)
	RemoveContext(id string)
}

// Preset describes an entry that is not backed by a live session
type Preset struct {
	ID          string
	Name        string
	Kind        types.BackendKind
	Perspective Perspective
}

// Entry is a live session or a preset placeholder
type Entry struct {
	id          string
	name        string
	kind        types.BackendKind
	session     Session
	perspective Perspective
}

// ID returns the session id, or the preset id
func (e *Entry) ID() string { return e.id }

// Name returns the display name
func (e *Entry) Name() string { return e.name }

// Kind returns the backend kind
func (e *Entry) Kind() types.BackendKind { return e.kind }

// Session returns the live session, or nil for a preset
func (e *Entry) Session() Session { return e.session }

// Preset reports whether the entry is a placeholder
func (e *Entry) Preset() bool { return e.session == nil }

// Perspective returns the UI surface of the entry
func (e *Entry) Perspective() Perspective { return e.perspective }

// Options configures a Registry
type Options struct {
	Bus *event.Bus
	UI  UIContext

	// Perspectives creates the surface of a newly registered session, and of
	// presets added without one.
	Perspectives func(id, name string) Perspective

	Logger *zap.Logger
}

// Registry is the table of sessions and presets
type Registry struct {
	bus          *event.Bus
	ui           UIContext
	perspectives func(id, name string) Perspective
	logger       *zap.Logger

	presets []*Entry

	// sessions keeps registration order; byID indexes its elements
	sessions *list.List
	byID     map[string]*list.Element

	current      *Entry
	shuttingDown bool
}

// New creates an empty registry
func New(opts Options) *Registry {
	r := &Registry{
		bus:          opts.Bus,
		ui:           opts.UI,
		perspectives: opts.Perspectives,
		logger:       opts.Logger,
		sessions:     list.New(),
		byID:         make(map[string]*list.Element),
	}
	if r.ui == nil {
		r.ui = nopContext{}
	}
	if r.perspectives == nil {
		r.perspectives = func(string, string) Perspective { return &Surface{} }
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Register appends a live session. Registering the same session twice is
// ignored.
func (r *Registry) Register(s Session) {
	if _, ok := r.byID[s.ID()]; ok {
		r.logger.Warn("session registered twice", zap.String("session_id", s.ID()))
		return
	}
	e := &Entry{
		id:          s.ID(),
		name:        s.DisplayName(),
		kind:        s.Kind(),
		session:     s,
		perspective: r.perspectives(s.ID(), s.DisplayName()),
	}
	r.byID[e.id] = r.sessions.PushBack(e)
	r.logger.Info("session registered", zap.String("session_id", e.id), zap.String("session", e.name))
	r.publish(event.NewSessionRegisteredEvent(ref(s)))
}

// Unregister removes a live session. If it was current, the first preset
// becomes current, or nothing.
func (r *Registry) Unregister(s Session) {
	el, ok := r.byID[s.ID()]
	if !ok || el.Value.(*Entry).session != s {
		return
	}
	e := r.sessions.Remove(el).(*Entry)
	delete(r.byID, e.id)
	r.logger.Info("session unregistered", zap.String("session_id", e.id))
	r.publish(event.NewSessionUnregisteredEvent(ref(s)))

	if r.current != e {
		return
	}
	r.leave(e)
	r.current = nil
	if len(r.presets) > 0 && !r.shuttingDown {
		r.enter(r.presets[0])
		return
	}
	r.publish(event.NewCurrentChangedEvent("", "", false))
}

// AddPreset adds or replaces a preset entry. A nil perspective gets the
// default surface.
func (r *Registry) AddPreset(name string, kind types.BackendKind, id string, p Perspective) {
	if p == nil {
		p = r.perspectives(id, name)
	}
	for _, e := range r.presets {
		if e.id == id {
			e.name, e.kind, e.perspective = name, kind, p
			return
		}
	}
	r.presets = append(r.presets, &Entry{id: id, name: name, kind: kind, perspective: p})
}

// RemovePreset drops a preset. A current preset is ramped down first.
func (r *Registry) RemovePreset(id string) {
	for i, e := range r.presets {
		if e.id != id {
			continue
		}
		r.presets = append(r.presets[:i], r.presets[i+1:]...)
		if r.current == e {
			r.leave(e)
			r.current = nil
			r.publish(event.NewCurrentChangedEvent("", "", false))
		}
		return
	}
}

// SetPresets replaces the preset list. A current preset that survives by id
// stays current.
func (r *Registry) SetPresets(presets []Preset) {
	keep := make(map[string]bool, len(presets))
	for _, p := range presets {
		keep[p.ID] = true
	}
	for _, e := range append([]*Entry(nil), r.presets...) {
		if !keep[e.id] {
			r.RemovePreset(e.id)
		}
	}
	var next []*Entry
	for _, p := range presets {
		r.AddPreset(p.Name, p.Kind, p.ID, p.Perspective)
		next = append(next, r.find(p.ID))
	}
	r.presets = next
	r.publish(event.NewPresetsChangedEvent(len(presets)))
}

// Activate makes the entry with id current
func (r *Registry) Activate(id string) error {
	if r.shuttingDown {
		r.logger.Debug("ignoring activation during shutdown", zap.String("entry", id))
		return nil
	}
	e := r.find(id)
	if e == nil {
		return dbgerrors.SessionNotFound(id)
	}
	if e == r.current {
		return nil
	}
	if e.session != nil && e.session.Finished() {
		return dbgerrors.SessionTerminated(id)
	}

	if prev := r.current; prev != nil {
		r.leave(prev)
	}
	r.enter(e)
	return nil
}

func (r *Registry) leave(e *Entry) {
	e.perspective.RampDown()
	if !e.Preset() {
		r.ui.RemoveContext(e.id)
	}
}

func (r *Registry) enter(e *Entry) {
	if !e.Preset() {
		r.ui.AddContext(e.id)
	}
	e.perspective.RampUp()
	if !e.perspective.IsCurrent() {
		r.logger.Warn("perspective did not become current", zap.String("entry", e.id))
	}
	r.current = e
	r.publish(event.NewCurrentChangedEvent(e.id, e.name, !e.Preset()))
}

// Current returns the current entry, or nil
func (r *Registry) Current() *Entry { return r.current }

// CurrentID returns the id of the current entry, empty if none
func (r *Registry) CurrentID() string {
	if r.current == nil {
		return ""
	}
	return r.current.id
}

// CurrentEngine returns the live session of the current entry, or nil when
// the current entry is a preset or nothing is current
func (r *Registry) CurrentEngine() Session {
	if r.current == nil {
		return nil
	}
	return r.current.session
}

// ShutdownAll stops every live session and blocks further activation. It
// reports whether any session still had to be stopped, in which case the
// caller should grant a grace period before force-closing.
func (r *Registry) ShutdownAll() bool {
	r.shuttingDown = true
	forced := false
	// Stop may finish a session synchronously, which unregisters it
	for _, e := range r.liveEntries() {
		if !e.session.Finished() && !e.session.Stopping() {
			forced = true
		}
		e.session.Stop()
	}
	r.logger.Info("shutting down all sessions", zap.Bool("forced", forced))
	return forced
}

// ShuttingDown reports whether ShutdownAll was called
func (r *Registry) ShuttingDown() bool { return r.shuttingDown }

// Entries returns presets followed by live sessions in registration order
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.presets)+r.sessions.Len())
	out = append(out, r.presets...)
	return append(out, r.liveEntries()...)
}

// Sessions returns the live sessions in registration order
func (r *Registry) Sessions() []Session {
	out := make([]Session, 0, r.sessions.Len())
	for el := r.sessions.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).session)
	}
	return out
}

// Lookup returns the entry with id, or nil
func (r *Registry) Lookup(id string) *Entry { return r.find(id) }

// Len returns the number of live sessions
func (r *Registry) Len() int { return r.sessions.Len() }

// Info lists every entry for display
func (r *Registry) Info() []types.EntryInfo {
	var out []types.EntryInfo
	for _, e := range r.Entries() {
		info := types.EntryInfo{
			ID:      e.id,
			Name:    e.name,
			Kind:    e.kind,
			Preset:  e.Preset(),
			Current: e == r.current,
		}
		if e.session != nil {
			info.State = e.session.State()
		}
		out = append(out, info)
	}
	return out
}

// liveEntries copies the session entries, so callers may unregister while
// iterating
func (r *Registry) liveEntries() []*Entry {
	out := make([]*Entry, 0, r.sessions.Len())
	for el := r.sessions.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry))
	}
	return out
}

func (r *Registry) find(id string) *Entry {
	if el, ok := r.byID[id]; ok {
		return el.Value.(*Entry)
	}
	for _, e := range r.presets {
		if e.id == id {
			return e
		}
	}
	return nil
}

func (r *Registry) publish(ev event.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func ref(s Session) event.SessionRef {
	return event.SessionRef{ID: s.ID(), RunID: s.RunID(), DisplayName: s.DisplayName()}
}

// Surface is the default Perspective. It only tracks whether it is current.
type Surface struct {
	current bool
}

func (s *Surface) RampUp()         { s.current = true }
func (s *Surface) RampDown()       { s.current = false }
func (s *Surface) IsCurrent() bool { return s.current }

type nopContext struct{}

func (nopContext) AddContext(string)    {}
func (nopContext) RemoveContext(string) {}
