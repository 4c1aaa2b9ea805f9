package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/gateway"
)

// MCPServer speaks the MCP protocol over stdio. Stdout carries only protocol
// frames; all logging goes to stderr.
type MCPServer struct {
	service *gateway.Service
}

// MCPRequest is an incoming JSON-RPC frame.
type MCPRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"params"`
}

// MCPResponse is an outgoing JSON-RPC frame.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError is a protocol-level failure. Tool-level failures never use it;
// they ride inside the result envelope with success=false.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Run reads requests from stdin until EOF.
func (s *MCPServer) Run() error {
	log.Info().Msg("MCP server ready, listening on stdio")

	decoder := json.NewDecoder(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for {
		var request MCPRequest
		if err := decoder.Decode(&request); err != nil {
			if err == io.EOF {
				log.Info().Msg("Client disconnected")
				return nil
			}
			log.Error().Err(err).Msg("Failed to decode request")
			continue
		}

		log.Debug().
			Str("method", request.Method).
			Str("tool", request.Params.Name).
			Msg("Received request")

		response := s.handleRequest(&request)
		if err := encoder.Encode(response); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
			return err
		}
	}
}

// handleRequest routes one frame.
func (s *MCPServer) handleRequest(req *MCPRequest) *MCPResponse {
	resp := &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{
					"listChanged": true,
				},
			},
			"serverInfo": map[string]string{
				"name":    "ibkr-mcp-gateway",
				"version": "0.1.0",
			},
		}
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": toolDefinitions()}
	case "tools/call":
		resp.Result = s.service.Call(context.Background(), req.Params.Name, req.Params.Arguments)
	default:
		resp.Error = &MCPError{
			Code:    -32601,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	return resp
}
