package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/debugctl/internal/cliargs"
	"github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/session"
	"github.com/ctagard/debugctl/pkg/types"
)

// Session lifecycle handlers

func (s *Server) handleDebugStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if preset, _ := request.RequireString("preset"); preset != "" {
		info, err := s.plugin.StartPreset(ctx, preset)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(map[string]interface{}{
			"status":  "started",
			"preset":  preset,
			"session": info,
		})
	}

	program, err := request.RequireString("program")
	if err != nil {
		return toolError(errors.MissingParameter("program",
			"Specify the executable to launch, or use preset to start a launch.json configuration.")), nil
	}

	params := types.RunParameters{
		StartMode:      types.StartInternal,
		Executable:     program,
		CppEngineType:  types.BackendAuto,
		IsQmlDebugging: request.GetBool("qmlDebugging", false),
		UseTerminal:    request.GetBool("terminal", false),
		BreakOnMain:    request.GetBool("breakOnMain", false),
		UseDebugServer: request.GetBool("debugServer", false),
	}
	if argsJSON, err := request.RequireString("args"); err == nil && argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &params.Args); err != nil {
			return toolError(errors.InvalidParameter("args", argsJSON, "a JSON array of strings")), nil
		}
	}
	if cwd, err := request.RequireString("cwd"); err == nil {
		params.WorkingDir = cwd
	}
	if name, err := request.RequireString("name"); err == nil {
		params.DisplayName = name
	}
	if backend, err := request.RequireString("backend"); err == nil {
		params.CppEngineType = types.ParseBackendKind(backend)
	}

	return s.start(ctx, params)
}

func (s *Server) handleDebugAttach(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params types.RunParameters
	var err error

	target, _ := request.RequireString("target")
	crash, _ := request.RequireString("crashEvent")
	qml, _ := request.RequireString("qmlChannel")
	coreFile, _ := request.RequireString("coreFile")
	server, _ := request.RequireString("server")

	switch {
	case target != "":
		params, err = cliargs.ParseDebugTarget(target)
	case crash != "":
		params, err = cliargs.ParseCrashEvent(crash)
	case qml != "":
		params = types.RunParameters{StartMode: types.AttachToQmlServer, QmlChannel: qml}
	case server != "":
		params = types.RunParameters{StartMode: types.AttachToRemoteServer, RemoteChannel: server, CoreFile: coreFile}
	case coreFile != "":
		params = types.RunParameters{StartMode: types.AttachToCore, CoreFile: coreFile}
	default:
		pid, perr := request.RequireFloat("pid")
		if perr != nil {
			return toolError(errors.MissingParameter("target",
				"Specify target, pid, coreFile, server, qmlChannel or crashEvent.")), nil
		}
		params = types.RunParameters{StartMode: types.AttachToLocalProcess, AttachPID: int(pid)}
	}
	if err != nil {
		return toolError(err), nil
	}

	if program, err := request.RequireString("program"); err == nil && params.Executable == "" {
		params.Executable = program
	}
	if params.StartMode != types.AttachToQmlServer {
		params.CppEngineType = types.BackendAuto
		if backend, err := request.RequireString("backend"); err == nil {
			params.CppEngineType = types.ParseBackendKind(backend)
		}
	}

	return s.start(ctx, params)
}

func (s *Server) start(ctx context.Context, params types.RunParameters) (*mcp.CallToolResult, error) {
	info, err := s.plugin.StartSession(ctx, params)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":  "started",
		"session": info,
	})
}

func (s *Server) handleDebugStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := request.RequireString("sessionId")

	var info types.SessionInfo
	err := s.plugin.WithSession(ctx, sessionID, func(c *session.Controller) error {
		c.Stop()
		info = c.Info()
		return nil
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":  "stopping",
		"session": info,
	})
}

func (s *Server) handleDebugSnapshotCore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	coreFile, err := request.RequireString("coreFile")
	if err != nil {
		return toolError(errors.MissingParameter("coreFile", "Specify the path of the dumped core.")), nil
	}
	sessionID, _ := request.RequireString("sessionId")

	var info types.SessionInfo
	err = s.plugin.WithSession(ctx, sessionID, func(c *session.Controller) error {
		snap, err := c.AttachToDumpedCore(coreFile)
		if err != nil {
			return err
		}
		info = snap.Info()
		return nil
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":  "started",
		"session": info,
	})
}

func (s *Server) handleDebugShutdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timedOut, err := s.plugin.Shutdown(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":   "shutdown",
		"timedOut": timedOut,
	})
}

// Execution control handlers

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, request, "continued", (*session.Controller).Continue)
}

func (s *Server) handleDebugInterrupt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, request, "interrupting", (*session.Controller).Interrupt)
}

func (s *Server) control(ctx context.Context, request mcp.CallToolRequest, status string, op func(*session.Controller) error) (*mcp.CallToolResult, error) {
	sessionID, _ := request.RequireString("sessionId")

	var info types.SessionInfo
	err := s.plugin.WithSession(ctx, sessionID, func(c *session.Controller) error {
		if err := op(c); err != nil {
			return err
		}
		info = c.Info()
		return nil
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":  status,
		"session": info,
	})
}

// Registry handlers

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.plugin.Entries(ctx)
	if err != nil {
		return toolError(err), nil
	}
	sessions, err := s.plugin.Sessions(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"entries":  entries,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleDebugActivate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError(errors.MissingParameter("id", "Use debug_list_sessions to find preset and session ids.")), nil
	}
	if err := s.plugin.Activate(ctx, id); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"status":  "activated",
		"current": id,
	})
}

// Helper functions

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
