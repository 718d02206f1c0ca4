package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "2025-03-26"

// ClientVersion is reported in clientInfo.
const ClientVersion = "1.0.0"

const (
	initializeID = 1
	callID       = 2
)

type message struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int   `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type callParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EncodeFrames returns the three newline-delimited messages for one tool call:
// initialize, notifications/initialized, then tools/call.
func EncodeFrames(clientName, operation string, args any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	initID, reqID := initializeID, callID

	frames := []message{
		{
			JSONRPC: "2.0",
			ID:      &initID,
			Method:  "initialize",
			Params: initializeParams{
				ProtocolVersion: ProtocolVersion,
				ClientInfo:      clientInfo{Name: clientName, Version: ClientVersion},
			},
		},
		{JSONRPC: "2.0", Method: "notifications/initialized"},
		{
			JSONRPC: "2.0",
			ID:      &reqID,
			Method:  "tools/call",
			Params:  callParams{Name: operation, Arguments: args},
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("failed to encode %s frame: %w", f.Method, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeResult scans server output for the response correlated with the
// tools/call request and returns the JSON payload of its first text block.
// Lines that are not JSON objects are skipped.
func DecodeResult(stdout []byte, provider Provider, operation string) (json.RawMessage, error) {
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var msg response
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if !isCallID(msg.ID) {
			continue
		}

		if hasValue(msg.Error) {
			return nil, decodeRPCError(msg.Error, provider, operation)
		}

		var result toolResult
		if hasValue(msg.Result) {
			if err := json.Unmarshal(msg.Result, &result); err != nil {
				return nil, &ProviderError{
					Provider:  provider,
					Operation: operation,
					Message:   fmt.Sprintf("malformed result envelope: %v", err),
				}
			}
		}

		if result.IsError {
			return nil, &ToolError{Provider: provider, Operation: operation, Text: joinText(result.Content)}
		}

		for _, block := range result.Content {
			if block.Type != "text" {
				continue
			}
			if !json.Valid([]byte(block.Text)) {
				return nil, &ProviderError{
					Provider:  provider,
					Operation: operation,
					Message:   "tool returned non-JSON text content",
				}
			}
			return json.RawMessage(block.Text), nil
		}

		return nil, &TransportError{
			Provider:  provider,
			Operation: operation,
			Message:   "response has no text content",
		}
	}

	return nil, &TransportError{
		Provider:  provider,
		Operation: operation,
		Message:   fmt.Sprintf("no valid response from MCP server '%s' for tool '%s'", provider, operation),
	}
}

func isCallID(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var id float64
	if err := json.Unmarshal(raw, &id); err != nil {
		return false
	}
	return id == callID
}

func hasValue(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func decodeRPCError(raw json.RawMessage, provider Provider, operation string) error {
	var rerr rpcError
	if err := json.Unmarshal(raw, &rerr); err != nil || rerr.Message == "" {
		return &ProviderError{Provider: provider, Operation: operation, Code: rerr.Code, Message: string(raw)}
	}
	return &ProviderError{Provider: provider, Operation: operation, Code: rerr.Code, Message: rerr.Message}
}

func joinText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
