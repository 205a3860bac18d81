// Package mcp exposes the engine's control surface as MCP tools, so AI
// agents can read the health report, trigger scans, and inspect fix history
// through the Model Context Protocol.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/healdb/heal/internal/monitor"
)

// MCPServer wraps the mcp-go server with the engine's tool registrations.
type MCPServer struct {
	mon    *monitor.Monitor
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with the engine tools. The
// returned server is ready to serve over stdio or HTTP.
func NewMCPServer(mon *monitor.Monitor, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		mon:    mon,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Schema Self-Healing Engine",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server instance, useful for testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path for
// clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on the given
// address.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func boolPtr(b bool) *bool {
	return &b
}
