// Package server provides the MCP tool server that toolgate guards.
package server

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// GateToolServer defines the interface for the MCP protocol server that
// lives behind the request gate.
type GateToolServer interface {
	// Initialize registers the built-in tools and prepares the transports.
	Initialize() error

	// Handler returns the streamable HTTP handler for the MCP endpoint.
	// The lifecycle manager installs the request gate in front of it.
	Handler() http.Handler

	// ServeStdio runs the server over stdio, blocking until the client
	// closes the stream. No gate applies: stdio is inherently local.
	ServeStdio() error

	// MCP exposes the underlying protocol server so an embedding host can
	// register its own tools alongside the built-in ones.
	MCP() *mcpserver.MCPServer

	// SetExternalAccess records whether the current bind exposes the
	// endpoint beyond loopback; server_info reports it.
	SetExternalAccess(external bool)
}
