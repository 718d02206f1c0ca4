package mcp

import (
	"fmt"
	"strings"
)

// UnknownProviderError is returned when a provider is not in the registry.
type UnknownProviderError struct {
	Provider Provider
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown MCP provider: %s", e.Provider)
}

// UnavailableError means the provider's built artifact is missing.
// Callers must abort rather than retry.
type UnavailableError struct {
	Provider Provider
	Path     string
	Dir      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("MCP server not built: %s. Run 'npm run build' in %s", e.Path, e.Dir)
}

// TransportError covers abnormal exits, timeouts and missing correlated responses.
type TransportError struct {
	Provider  Provider
	Operation string
	ExitCode  int
	Stderr    string
	Timeout   bool
	Message   string
	Cause     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("MCP server '%s' timed out calling '%s'", e.Provider, e.Operation)
	case e.ExitCode != 0:
		return fmt.Sprintf("MCP server '%s' exited %d: %s", e.Provider, e.ExitCode, strings.TrimSpace(e.Stderr))
	case e.Cause != nil:
		return fmt.Sprintf("MCP server '%s' transport error: %s: %v", e.Provider, e.Message, e.Cause)
	default:
		return fmt.Sprintf("MCP server '%s' transport error: %s", e.Provider, e.Message)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProviderError carries a JSON-RPC error object returned by the server.
type ProviderError struct {
	Provider  Provider
	Operation string
	Code      int
	Message   string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("MCP tool '%s' error: %d %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("MCP tool '%s' error: %s", e.Operation, e.Message)
}

// ToolError is an application-level failure flagged with result.isError.
// Error returns the tool's text unchanged.
type ToolError struct {
	Provider  Provider
	Operation string
	Text      string
}

func (e *ToolError) Error() string {
	return e.Text
}
