// Package mcpmock hosts an in-process MCP server over the gateway tool
// surface, so tests can exercise tool calls through SDK types without a
// stdio transport.
package mcpmock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolBackend dispatches a tool call and returns the success/failure
// envelope. The gateway service satisfies this.
type ToolBackend interface {
	Call(ctx context.Context, tool string, args map[string]interface{}) map[string]interface{}
}

// ToolCall is one recorded invocation, kept for test verification.
type ToolCall struct {
	ToolName  string
	Arguments map[string]interface{}
	Envelope  map[string]interface{}
}

// Server bridges MCP SDK tool calls onto a ToolBackend. Unknown tools fail at
// the protocol level; everything else returns the backend's envelope as JSON
// text content, including safety rejections.
type Server struct {
	mu      sync.RWMutex
	name    string
	version string
	backend ToolBackend
	tools   map[string]*mcp.Tool
	calls   []ToolCall
}

// NewServer creates a mock MCP server over backend.
func NewServer(name, version string, backend ToolBackend) *Server {
	return &Server{
		name:    name,
		version: version,
		backend: backend,
		tools:   make(map[string]*mcp.Tool),
	}
}

// Register advertises a tool. Calls to unregistered tools fail even when the
// backend would accept them.
func (s *Server) Register(tool *mcp.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Name] = tool
}

// RegisterAll advertises a plain name list with empty schemas.
func (s *Server) RegisterAll(names []string) {
	for _, name := range names {
		s.Register(&mcp.Tool{Name: name})
	}
}

// CallTool dispatches one tool call through the backend.
func (s *Server) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tools[params.Name]; !ok {
		return nil, fmt.Errorf("tool %s not found", params.Name)
	}

	args, _ := params.Arguments.(map[string]interface{})
	envelope := s.backend.Call(ctx, params.Name, args)
	s.calls = append(s.calls, ToolCall{
		ToolName:  params.Name,
		Arguments: args,
		Envelope:  envelope,
	})

	text, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(text)},
		},
	}, nil
}

// ListTools returns every registered tool.
func (s *Server) ListTools(_ context.Context, _ *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*mcp.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	return &mcp.ListToolsResult{Tools: tools}, nil
}

// Calls returns a copy of the recorded call history.
func (s *Server) Calls() []ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts recorded invocations of one tool.
func (s *Server) CallCount(toolName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.calls {
		if c.ToolName == toolName {
			n++
		}
	}
	return n
}

// LastCall returns the most recent invocation of one tool, nil if never
// called.
func (s *Server) LastCall(toolName string) *ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].ToolName == toolName {
			c := s.calls[i]
			return &c
		}
	}
	return nil
}

// Reset clears the recorded history.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
