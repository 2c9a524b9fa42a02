package server

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/localrivet/toolgate/internal/auditstore"
	"github.com/localrivet/toolgate/internal/tools"
)

var testError = errors.New("test error")

// The facade holds the tool server through this interface.
var _ GateToolServer = (*MCPGateToolServer)(nil)

// MockAuditStore implements the auditstore.AuditStore interface for testing
type MockAuditStore struct {
	Entries     []auditstore.Entry
	Recorded    []auditstore.Entry
	ReturnError bool
}

func (m *MockAuditStore) Initialize(dbPath string) error {
	if m.ReturnError {
		return testError
	}
	return nil
}

func (m *MockAuditStore) Close() error {
	if m.ReturnError {
		return testError
	}
	return nil
}

func (m *MockAuditStore) Record(entry auditstore.Entry) error {
	if m.ReturnError {
		return testError
	}
	m.Recorded = append(m.Recorded, entry)
	return nil
}

func (m *MockAuditStore) Recent(limit int) ([]auditstore.Entry, error) {
	if m.ReturnError {
		return nil, testError
	}
	if len(m.Entries) > limit {
		return m.Entries[:limit], nil
	}
	return m.Entries, nil
}

func (m *MockAuditStore) Clear() (int, error) {
	if m.ReturnError {
		return 0, testError
	}
	count := len(m.Entries)
	m.Entries = nil
	return count, nil
}

func newTestServer(t *testing.T, audit auditstore.AuditStore) *MCPGateToolServer {
	t.Helper()
	srv := NewGateToolServer("toolgate-test", "0.0.1", audit)
	if err := srv.Initialize(); err != nil {
		t.Fatalf("Failed to initialize server: %v", err)
	}
	return srv
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("Expected 1 content item, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

// TestPing tests the ping tool handler
func TestPing(t *testing.T) {
	srv := newTestServer(t, &MockAuditStore{})

	result, err := srv.handlePing(nil, callToolRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var response tools.PingResponse
	if err := json.Unmarshal([]byte(textContent(t, result)), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response.Status)
	}
	if _, err := time.Parse(time.RFC3339, response.ServerTime); err != nil {
		t.Errorf("Expected RFC 3339 server time, got %q", response.ServerTime)
	}
}

// TestServerInfo tests the server_info tool handler
func TestServerInfo(t *testing.T) {
	srv := newTestServer(t, &MockAuditStore{})
	srv.SetExternalAccess(true)

	result, err := srv.handleServerInfo(nil, callToolRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var response tools.ServerInfoResponse
	if err := json.Unmarshal([]byte(textContent(t, result)), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Name != "toolgate-test" {
		t.Errorf("Expected name 'toolgate-test', got '%s'", response.Name)
	}
	if response.Version != "0.0.1" {
		t.Errorf("Expected version '0.0.1', got '%s'", response.Version)
	}
	if !response.ExternalAccess {
		t.Error("Expected external access to be reported")
	}
}

// TestListRejections tests the list_rejections tool handler
func TestListRejections(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	mockAudit := &MockAuditStore{
		Entries: []auditstore.Entry{
			{ID: "1", Reason: "invalid origin: possible DNS rebinding", Origin: "http://evil.com", RemoteAddr: "127.0.0.1:50000", Timestamp: now},
			{ID: "2", Reason: "suspicious referer", Referer: "http://evil.com/p", RemoteAddr: "127.0.0.1:50001", Timestamp: now},
			{ID: "3", Reason: "invalid host: possible DNS rebinding", Host: "evil.com", RemoteAddr: "127.0.0.1:50002", Timestamp: now},
		},
	}
	srv := newTestServer(t, mockAudit)

	result, err := srv.handleListRejections(nil, callToolRequest(map[string]any{"limit": 2}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var response tools.ListRejectionsResponse
	if err := json.Unmarshal([]byte(textContent(t, result)), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != "success" {
		t.Errorf("Expected status 'success', got '%s'", response.Status)
	}
	if len(response.Rejections) != 2 {
		t.Fatalf("Expected 2 rejections, got %d", len(response.Rejections))
	}
	if response.Rejections[0].ID != "1" || response.Rejections[0].Origin != "http://evil.com" {
		t.Errorf("Unexpected first rejection: %+v", response.Rejections[0])
	}
}

// TestListRejectionsDefaultLimit verifies the default limit applies when
// the argument is absent.
func TestListRejectionsDefaultLimit(t *testing.T) {
	entries := make([]auditstore.Entry, tools.DefaultRejectionLimit+5)
	for i := range entries {
		entries[i] = auditstore.Entry{ID: "x", Timestamp: time.Now()}
	}
	srv := newTestServer(t, &MockAuditStore{Entries: entries})

	result, err := srv.handleListRejections(nil, callToolRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}

	var response tools.ListRejectionsResponse
	if err := json.Unmarshal([]byte(textContent(t, result)), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Rejections) != tools.DefaultRejectionLimit {
		t.Errorf("Expected %d rejections, got %d", tools.DefaultRejectionLimit, len(response.Rejections))
	}
}

// TestListRejectionsErrors tests error handling in the handler
func TestListRejectionsErrors(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		srv := newTestServer(t, &MockAuditStore{ReturnError: true})

		result, err := srv.handleListRejections(nil, callToolRequest(nil))
		if err != nil {
			t.Fatalf("Handler should not return error: %v", err)
		}
		if !result.IsError {
			t.Error("Expected an error result")
		}
	})

	t.Run("audit disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)

		result, err := srv.handleListRejections(nil, callToolRequest(nil))
		if err != nil {
			t.Fatalf("Handler should not return error: %v", err)
		}
		if !result.IsError {
			t.Error("Expected an error result when the audit trail is disabled")
		}
	})
}

// TestHandlerAvailableAfterInitialize verifies the HTTP handler exists once
// the server is initialized.
func TestHandlerAvailableAfterInitialize(t *testing.T) {
	srv := newTestServer(t, &MockAuditStore{})
	if srv.Handler() == nil {
		t.Error("Expected a non-nil HTTP handler")
	}
	if srv.MCP() == nil {
		t.Error("Expected a non-nil MCP server")
	}
}
