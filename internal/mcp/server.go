// Package mcp exposes the session controller as Model Context Protocol tools.
//
// Session lifecycle:
//   - debug_start: launch a program, or start a launch.json preset
//   - debug_attach: attach to a process, core file, remote server or QML port
//   - debug_stop: stop a session
//   - debug_snapshot_core: open a dumped core of a session as a new session
//   - debug_shutdown: stop every session
//
// Execution control:
//   - debug_continue: resume the inferior
//   - debug_interrupt: interrupt the inferior
//
// Registry:
//   - debug_list_sessions: list presets and live sessions
//   - debug_activate: make a preset or session current
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/debugctl/internal/plugin"
	"github.com/ctagard/debugctl/internal/version"
)

// Server wraps the MCP server around the plugin
type Server struct {
	mcpServer *server.MCPServer
	plugin    *plugin.Plugin
}

// NewServer creates the MCP server and registers every tool
func NewServer(p *plugin.Plugin) *Server {
	mcpServer := server.NewMCPServer(
		"debugctl",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		plugin:    p,
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP on stdin/stdout until the client goes away
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
