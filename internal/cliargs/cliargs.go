// Package cliargs parses the attach requests accepted on the command line.
//
// Accepted forms:
//
//	<pid>
//	<exe>,core=<file>[,kit=<kit>]
//	<exe>,server=<host:port>[,core=<file>][,kit=<kit>][,terminal]
//	core=<file>
//
// and, for the crash reporting helper, <event-handle>:<pid>.
package cliargs

import (
	"strconv"
	"strings"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/pkg/types"
)

const targetForms = "<pid>, <exe>,core=<file>[,kit=<kit>], <exe>,server=<host:port>[,kit=<kit>][,terminal] or core=<file>"

// ParseDebugTarget turns an attach request into run parameters
func ParseDebugTarget(s string) (types.RunParameters, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.RunParameters{}, dbgerrors.MissingParameter("target", "Expected "+targetForms+".")
	}

	if pid, err := strconv.Atoi(s); err == nil {
		if pid <= 0 {
			return types.RunParameters{}, dbgerrors.InvalidParameter("pid", s, "a positive process id")
		}
		return types.RunParameters{StartMode: types.AttachToLocalProcess, AttachPID: pid}, nil
	}

	var p types.RunParameters
	var server string
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		key, value, hasValue := strings.Cut(part, "=")
		switch {
		case part == "terminal":
			p.UseTerminal = true
		case hasValue && key == "core":
			p.CoreFile = value
		case hasValue && key == "server":
			server = value
		case hasValue && key == "kit":
			p.Kit = value
		case i == 0 && !hasValue && part != "":
			p.Executable = part
		default:
			return types.RunParameters{}, dbgerrors.InvalidParameter("target", part, targetForms)
		}
	}

	switch {
	case server != "":
		if _, port, ok := strings.Cut(server, ":"); !ok || port == "" {
			return types.RunParameters{}, dbgerrors.InvalidParameter("server", server, "host:port")
		}
		p.StartMode = types.AttachToRemoteServer
		p.RemoteChannel = server
	case p.CoreFile != "":
		if p.UseTerminal {
			return types.RunParameters{}, dbgerrors.InvalidParameter("terminal", s, "terminal only with server=")
		}
		p.StartMode = types.AttachToCore
	default:
		return types.RunParameters{}, dbgerrors.InvalidParameter("target", s, targetForms)
	}
	return p, nil
}

// ParseCrashEvent parses the <event-handle>:<pid> handshake of the crash
// reporting helper
func ParseCrashEvent(s string) (types.RunParameters, error) {
	handle, pidText, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || handle == "" {
		return types.RunParameters{}, dbgerrors.InvalidParameter("crash-event", s, "<event-handle>:<pid>")
	}
	pid, err := strconv.Atoi(pidText)
	if err != nil || pid <= 0 {
		return types.RunParameters{}, dbgerrors.InvalidParameter("pid", pidText, "a positive process id")
	}
	return types.RunParameters{
		StartMode:  types.AttachToCrashedProcess,
		AttachPID:  pid,
		CrashEvent: handle,
	}, nil
}
