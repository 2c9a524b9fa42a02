package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/localrivet/toolgate/internal/auditstore"
	"github.com/localrivet/toolgate/internal/errortypes"
	"github.com/localrivet/toolgate/internal/tools"
)

// Common server error types
var (
	ErrServerNotInitialized = errors.New("server not initialized")
)

// MCPGateToolServer implements the GateToolServer interface. It wraps an
// mcp-go server with the built-in diagnostic tools registered and exposes
// the streamable HTTP handler the gate wraps.
type MCPGateToolServer struct {
	name    string
	version string

	audit     auditstore.AuditStore
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer

	startedAt      time.Time
	externalAccess atomic.Bool
}

// NewGateToolServer creates a new MCPGateToolServer instance. audit may be
// nil when the audit trail is disabled; list_rejections then reports an
// error result instead of data.
func NewGateToolServer(name, version string, audit auditstore.AuditStore) *MCPGateToolServer {
	return &MCPGateToolServer{
		name:    name,
		version: version,
		audit:   audit,
	}
}

// Initialize initializes the server and registers the built-in tools.
func (s *MCPGateToolServer) Initialize() error {
	slog.Info("Initializing MCP gate tool server", "name", s.name, "version", s.version)

	srv := mcpserver.NewMCPServer(s.name, s.version,
		mcpserver.WithToolCapabilities(false),
	)

	srv.AddTool(
		mcp.NewTool(tools.ToolPing,
			mcp.WithDescription("Check that the tool server is reachable"),
		),
		s.handlePing,
	)

	srv.AddTool(
		mcp.NewTool(tools.ToolServerInfo,
			mcp.WithDescription("Report server name, version, uptime and exposure"),
		),
		s.handleServerInfo,
	)

	srv.AddTool(
		mcp.NewTool(tools.ToolListRejections,
			mcp.WithDescription("List recent requests rejected by the security gate"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return"),
			),
		),
		s.handleListRejections,
	)

	s.mcpServer = srv
	s.httpSrv = mcpserver.NewStreamableHTTPServer(srv)
	s.startedAt = time.Now()

	slog.Info("MCP gate tool server initialized", "tool_count", 3)
	return nil
}

// Handler returns the streamable HTTP handler for the MCP endpoint.
func (s *MCPGateToolServer) Handler() http.Handler {
	return s.httpSrv
}

// ServeStdio runs the MCP server over stdio until the client disconnects.
func (s *MCPGateToolServer) ServeStdio() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot serve stdio")
	}
	slog.Info("Serving MCP over stdio")
	return mcpserver.ServeStdio(s.mcpServer)
}

// MCP exposes the underlying mcp-go server so an embedding host can
// register its own tools alongside the built-in ones.
func (s *MCPGateToolServer) MCP() *mcpserver.MCPServer {
	return s.mcpServer
}

// SetExternalAccess records whether the current bind exposes the endpoint
// beyond loopback; server_info reports it.
func (s *MCPGateToolServer) SetExternalAccess(external bool) {
	s.externalAccess.Store(external)
}

// handlePing handles the ping MCP tool call.
func (s *MCPGateToolServer) handlePing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := tools.PingResponse{
		Status:     "ok",
		ServerTime: time.Now().Format(time.RFC3339),
	}
	return textResult(response)
}

// handleServerInfo handles the server_info MCP tool call.
func (s *MCPGateToolServer) handleServerInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := tools.ServerInfoResponse{
		Name:           s.name,
		Version:        s.version,
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		ExternalAccess: s.externalAccess.Load(),
	}
	return textResult(response)
}

// handleListRejections handles the list_rejections MCP tool call.
func (s *MCPGateToolServer) handleListRejections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.audit == nil {
		return mcp.NewToolResultError("audit trail is disabled"), nil
	}

	limit := req.GetInt("limit", tools.DefaultRejectionLimit)
	if limit <= 0 {
		limit = tools.DefaultRejectionLimit
	}

	slog.Debug("Processing list_rejections request", "limit", limit)

	entries, err := s.audit.Recent(limit)
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to query audit trail").
			WithField("limit", limit)
		errortypes.LogError(nil, err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	response := tools.ListRejectionsResponse{
		Status:     "success",
		Rejections: make([]tools.RejectionRecord, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Rejections = append(response.Rejections, tools.RejectionRecord{
			ID:         entry.ID,
			Reason:     entry.Reason,
			Origin:     entry.Origin,
			Host:       entry.Host,
			Referer:    entry.Referer,
			UserAgent:  entry.UserAgent,
			RemoteAddr: entry.RemoteAddr,
			Timestamp:  entry.Timestamp.Format(time.RFC3339),
		})
	}

	return textResult(response)
}

// textResult marshals a response schema into a text tool result.
func textResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errortypes.InternalError(err, "failed to encode tool response")
	}
	return mcp.NewToolResultText(string(payload)), nil
}
