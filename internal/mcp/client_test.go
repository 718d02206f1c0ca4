package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is re-executed as a fake MCP server by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	input, _ := io.ReadAll(os.Stdin)
	lines := strings.Split(strings.TrimSpace(string(input)), "\n")

	switch os.Getenv("MCP_HELPER_MODE") {
	case "ok":
		var call struct {
			Method string `json:"method"`
			Params struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"params"`
		}
		_ = json.Unmarshal([]byte(lines[len(lines)-1]), &call)
		payload, _ := json.Marshal(map[string]any{
			"frames":    len(lines),
			"method":    call.Method,
			"name":      call.Params.Name,
			"arguments": call.Params.Arguments,
		})
		text, _ := json.Marshal(string(payload))
		fmt.Println("server starting on stdio")
		fmt.Println(`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26"}}`)
		fmt.Printf(`{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"image","data":"x"},{"type":"text","text":%s}]}}`+"\n", text)
	case "exit":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	case "hang":
		time.Sleep(10 * time.Second)
	case "rpc_error":
		fmt.Println(`{"jsonrpc":"2.0","id":2,"error":{"code":-32602,"message":"bad args"}}`)
	case "tool_error":
		fmt.Println(`{"jsonrpc":"2.0","id":2,"result":{"isError":true,"content":[{"type":"text","text":"Supplier not found for SKU-9"}]}}`)
	case "silent":
	}
}

func helperClient(t *testing.T, mode string, opts ...Option) *StdioClient {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dist", "index.js"), []byte("// built"), 0o644))

	reg := NewRegistryFromSpecs(ServerSpec{
		Name:     ProviderERP,
		Dir:      dir,
		Command:  os.Args[0],
		Args:     []string{"-test.run=^TestHelperProcess$", "--"},
		Artifact: "dist/index.js",
		Env:      []string{"GO_WANT_HELPER_PROCESS=1", "MCP_HELPER_MODE=" + mode},
	})
	return NewStdioClient(reg, opts...)
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) RecordToolCall(_, _, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

func TestStdioClient_Success(t *testing.T) {
	metrics := &recordingMetrics{}
	client := helperClient(t, "ok", WithMetrics(metrics))

	raw, err := client.Invoke(context.Background(), ProviderERP, "get_inventory", map[string]any{"skus": []string{"A", "B"}})
	require.NoError(t, err)

	var got struct {
		Frames    int             `json:"frames"`
		Method    string          `json:"method"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 3, got.Frames)
	assert.Equal(t, "tools/call", got.Method)
	assert.Equal(t, "get_inventory", got.Name)
	assert.JSONEq(t, `{"skus":["A","B"]}`, string(got.Arguments))
	assert.Equal(t, []string{"ok"}, metrics.outcomes)
}

func TestStdioClient_Failures(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		_, err := helperClient(t, "exit").Invoke(context.Background(), ProviderERP, "get_inventory", nil)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 3, te.ExitCode)
		assert.Contains(t, te.Error(), "boom")
		assert.False(t, te.Timeout)
	})

	t.Run("timeout", func(t *testing.T) {
		client := helperClient(t, "hang", WithTimeout(300*time.Millisecond))
		start := time.Now()
		_, err := client.Invoke(context.Background(), ProviderERP, "get_inventory", nil)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.True(t, te.Timeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("json-rpc error", func(t *testing.T) {
		_, err := helperClient(t, "rpc_error").Invoke(context.Background(), ProviderERP, "get_inventory", nil)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, -32602, pe.Code)
		assert.Equal(t, "bad args", pe.Message)
	})

	t.Run("tool error is verbatim", func(t *testing.T) {
		_, err := helperClient(t, "tool_error").Invoke(context.Background(), ProviderERP, "score_suppliers", nil)
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "Supplier not found for SKU-9", err.Error())
	})

	t.Run("no correlated response", func(t *testing.T) {
		_, err := helperClient(t, "silent").Invoke(context.Background(), ProviderERP, "get_inventory", nil)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Contains(t, te.Error(), "no valid response")
	})
}

func TestStdioClient_MissingArtifact(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nil, nil)
	metrics := &recordingMetrics{}
	client := NewStdioClient(reg, WithMetrics(metrics))

	_, err := client.Invoke(context.Background(), ProviderPO, "log_decision", map[string]any{})
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ProviderPO, ue.Provider)
	assert.True(t, strings.HasSuffix(ue.Path, filepath.Join("po-management-server", "dist", "index.js")))
	assert.Equal(t, []string{"unavailable"}, metrics.outcomes)
}

func TestStdioClient_UnknownProvider(t *testing.T) {
	client := NewStdioClient(NewRegistryFromSpecs())
	_, err := client.Invoke(context.Background(), Provider("billing"), "x", nil)
	var upe *UnknownProviderError
	assert.True(t, errors.As(err, &upe))
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&UnavailableError{}, "unavailable"},
		{&TransportError{Timeout: true}, "timeout"},
		{&TransportError{ExitCode: 1}, "transport_error"},
		{&ProviderError{}, "provider_error"},
		{fmt.Errorf("wrapped: %w", &ToolError{Text: "x"}), "tool_error"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeLabel(tt.err))
	}
}
