package session

import (
	"fmt"

	"github.com/ctagard/debugctl/pkg/types"
)

// Selection is the pair of backends chosen for a session
type Selection struct {
	Primary   types.BackendKind
	Companion types.BackendKind // empty without a script engine
}

// Kinds returns the selected kinds, primary first
func (s Selection) Kinds() []types.BackendKind {
	if s.Companion == "" {
		return []types.BackendKind{s.Primary}
	}
	return []types.BackendKind{s.Primary, s.Companion}
}

// SelectEngines picks the backends for p. One native engine comes from the
// explicit engine type or, for auto or unset, from the first resolvable entry of
// types.NativeBackendPriority. QML debugging adds a script engine, which is
// the companion when a native engine is present and the primary otherwise.
// Problems are returned as user-facing messages.
func SelectEngines(f Factory, p types.RunParameters) (Selection, []string) {
	mode := p.StartMode
	if mode == types.AttachToQmlServer {
		if !f.Resolvable(types.BackendQML, mode) {
			return Selection{}, []string{"No QML debugger set up."}
		}
		return Selection{Primary: types.BackendQML}, nil
	}

	var native types.BackendKind
	switch kind := p.CppEngineType; {
	case kind == types.BackendAuto || kind == "":
		for _, k := range types.NativeBackendPriority {
			if f.Resolvable(k, mode) {
				native = k
				break
			}
		}
		if native == "" && !p.IsQmlDebugging {
			return Selection{}, []string{"No debugger set up."}
		}
	case kind == types.BackendNone:
	case !kind.IsNative():
		return Selection{}, []string{fmt.Sprintf("Unknown debugger type %q.", kind)}
	case !f.Resolvable(kind, mode):
		return Selection{}, []string{fmt.Sprintf("The %s debugger is not set up for this kind of session.", kind)}
	default:
		native = kind
	}

	var script types.BackendKind
	if p.IsQmlDebugging {
		if !f.Resolvable(types.BackendQML, mode) {
			return Selection{}, []string{"No QML debugger set up."}
		}
		script = types.BackendQML
	}

	switch {
	case native != "" && script != "":
		return Selection{Primary: native, Companion: script}, nil
	case native != "":
		return Selection{Primary: native}, nil
	case script != "":
		return Selection{Primary: script}, nil
	}
	return Selection{}, []string{"No debugger set up."}
}
