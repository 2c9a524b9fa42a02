// Package tools defines the names and data structures for the built-in
// diagnostic tools the toolgate server exposes over MCP.
package tools

const (
	// ToolPing is the name of the ping MCP tool
	ToolPing = "ping"

	// ToolServerInfo is the name of the server_info MCP tool
	ToolServerInfo = "server_info"

	// ToolListRejections is the name of the list_rejections MCP tool
	ToolListRejections = "list_rejections"

	// DefaultRejectionLimit is the default number of audit entries to
	// return when no limit is specified in a list_rejections request
	DefaultRejectionLimit = 20
)

// PingResponse defines the output schema for the ping tool
type PingResponse struct {
	// Status is always "ok" when the server is reachable
	Status string `json:"status"`

	// ServerTime is the server's current time in RFC 3339 format
	ServerTime string `json:"server_time"`
}

// ServerInfoResponse defines the output schema for the server_info tool
type ServerInfoResponse struct {
	// Name is the server's advertised name
	Name string `json:"name"`

	// Version is the toolgate release version
	Version string `json:"version"`

	// Uptime is a human-readable duration since the tool server started
	Uptime string `json:"uptime"`

	// ExternalAccess reports whether the endpoint is exposed beyond
	// loopback, which also means the request gate checks are bypassed
	ExternalAccess bool `json:"external_access"`
}

// RejectionRecord is one audited gate rejection as returned by
// list_rejections
type RejectionRecord struct {
	// ID is the unique identifier of the audit entry
	ID string `json:"id"`

	// Reason is the server-side rejection reason
	Reason string `json:"reason"`

	// Origin is the offending Origin header value, if any
	Origin string `json:"origin,omitempty"`

	// Host is the Host header the request carried
	Host string `json:"host,omitempty"`

	// Referer is the Referer header value, if any
	Referer string `json:"referer,omitempty"`

	// UserAgent is the client's User-Agent value, if any
	UserAgent string `json:"user_agent,omitempty"`

	// RemoteAddr is the TCP peer the request arrived from
	RemoteAddr string `json:"remote_addr"`

	// Timestamp is when the rejection happened, RFC 3339
	Timestamp string `json:"timestamp"`
}

// ListRejectionsResponse defines the output schema for the
// list_rejections tool
type ListRejectionsResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Rejections contains the matching audit entries, newest first
	Rejections []RejectionRecord `json:"rejections"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}
