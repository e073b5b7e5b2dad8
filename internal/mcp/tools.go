package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// Session lifecycle
	s.registerDebugStart()
	s.registerDebugAttach()
	s.registerDebugStop()
	s.registerDebugSnapshotCore()
	s.registerDebugShutdown()

	// Execution control
	s.registerDebugContinue()
	s.registerDebugInterrupt()

	// Registry
	s.registerDebugListSessions()
	s.registerDebugActivate()
}

func (s *Server) registerDebugStart() {
	tool := mcp.NewTool("debug_start",
		mcp.WithDescription("Launch a program under a debugger, or start a preset from launch.json. Returns the session, which becomes current once the inferior runs."),
		mcp.WithString("preset",
			mcp.Description("Name or id of a launch.json preset. When given, the other arguments are ignored."),
		),
		mcp.WithString("program",
			mcp.Description("Path to the executable to launch"),
		),
		mcp.WithString("args",
			mcp.Description("JSON array of command line arguments, e.g. [\"--verbose\", \"input.txt\"]"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory of the program"),
		),
		mcp.WithString("backend",
			mcp.Description("Native debugger: auto (default), gdb, lldb, cdb, pdb, uvsc, or none for QML only"),
		),
		mcp.WithString("name",
			mcp.Description("Display name of the session"),
		),
		mcp.WithBoolean("qmlDebugging",
			mcp.Description("Also debug QML with a companion engine (default: false)"),
		),
		mcp.WithBoolean("terminal",
			mcp.Description("Run the program in its own pseudo terminal (default: false)"),
		),
		mcp.WithBoolean("breakOnMain",
			mcp.Description("Stop at the beginning of main (default: false)"),
		),
		mcp.WithBoolean("debugServer",
			mcp.Description("Run the program under a local debug server (default: false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStart)
}

func (s *Server) registerDebugAttach() {
	tool := mcp.NewTool("debug_attach",
		mcp.WithDescription("Attach a debugger to a running process, a core file, a remote debug server or a QML debug port."),
		mcp.WithString("target",
			mcp.Description("Command line form: <pid>, <exe>,core=<file>[,kit=<kit>], <exe>,server=<host:port>[,kit=<kit>][,terminal] or core=<file>"),
		),
		mcp.WithNumber("pid",
			mcp.Description("Process id to attach to"),
		),
		mcp.WithString("coreFile",
			mcp.Description("Core file to load; .gz and .lzo files are unpacked first"),
		),
		mcp.WithString("program",
			mcp.Description("Executable matching the process or core file"),
		),
		mcp.WithString("server",
			mcp.Description("host:port of a remote debug server"),
		),
		mcp.WithString("qmlChannel",
			mcp.Description("host:port of a QML debug service; attaches the QML debugger alone"),
		),
		mcp.WithString("crashEvent",
			mcp.Description("Crash reporter handshake <event-handle>:<pid>"),
		),
		mcp.WithString("backend",
			mcp.Description("Native debugger: auto (default), gdb, lldb, cdb, pdb or uvsc"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugAttach)
}

func (s *Server) registerDebugStop() {
	tool := mcp.NewTool("debug_stop",
		mcp.WithDescription("Stop a session. Launched programs are killed, attached ones detached. Stopping twice is harmless."),
		mcp.WithString("sessionId",
			mcp.Description("The session to stop; the current session if omitted"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStop)
}

func (s *Server) registerDebugSnapshotCore() {
	tool := mcp.NewTool("debug_snapshot_core",
		mcp.WithDescription("Open a core dump of a session's program as a new, independent snapshot session."),
		mcp.WithString("coreFile",
			mcp.Required(),
			mcp.Description("Path of the dumped core"),
		),
		mcp.WithString("sessionId",
			mcp.Description("The session the core was dumped from; the current session if omitted"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSnapshotCore)
}

func (s *Server) registerDebugShutdown() {
	tool := mcp.NewTool("debug_shutdown",
		mcp.WithDescription("Stop every session and wait for them to finish, up to the configured grace period."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugShutdown)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume a stopped inferior"),
		mcp.WithString("sessionId",
			mcp.Description("The session; the current session if omitted"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugInterrupt() {
	tool := mcp.NewTool("debug_interrupt",
		mcp.WithDescription("Interrupt a running inferior"),
		mcp.WithString("sessionId",
			mcp.Description("The session; the current session if omitted"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugInterrupt)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List presets and live sessions in registration order, marking the current one"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

func (s *Server) registerDebugActivate() {
	tool := mcp.NewTool("debug_activate",
		mcp.WithDescription("Make a preset or live session current"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Preset or session id from debug_list_sessions"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugActivate)
}
