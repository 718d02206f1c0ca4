package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrames_Exact(t *testing.T) {
	frames, err := EncodeFrames("xtern-mcp-client", "get_forecasts", map[string]any{"months_ahead": 3})
	require.NoError(t, err)

	want := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"xtern-mcp-client","version":"1.0.0"}}}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_forecasts","arguments":{"months_ahead":3}}}` + "\n"
	assert.Equal(t, want, string(frames))
}

func TestEncodeFrames_NilArgsBecomeEmptyObject(t *testing.T) {
	frames, err := EncodeFrames("c", "get_products", nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(frames)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"arguments":{}`)
}

func TestEncodeFrames_NoHTMLEscaping(t *testing.T) {
	frames, err := EncodeFrames("c", "create_draft_po", map[string]any{"notes": "A & B <ok>"})
	require.NoError(t, err)
	assert.Contains(t, string(frames), `"notes":"A & B <ok>"`)
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    string
		wantErr any
	}{
		{
			name: "skips noise and other ids",
			stdout: "Server running on stdio\n" +
				"{not json\n" +
				`{"jsonrpc":"2.0","id":1,"result":{}}` + "\n" +
				`{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"inventory\":[]}"}]}}` + "\n",
			want: `{"inventory":[]}`,
		},
		{
			name:   "float id still correlates",
			stdout: `{"jsonrpc":"2.0","id":2.0,"result":{"content":[{"type":"text","text":"{\"ok\":true}"}]}}`,
			want:   `{"ok":true}`,
		},
		{
			name:    "string id does not correlate",
			stdout:  `{"jsonrpc":"2.0","id":"2","result":{"content":[{"type":"text","text":"{}"}]}}`,
			wantErr: &TransportError{},
		},
		{
			name:    "rpc error",
			stdout:  `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`,
			wantErr: &ProviderError{},
		},
		{
			name:    "isError envelope",
			stdout:  `{"jsonrpc":"2.0","id":2,"result":{"isError":true,"content":[{"type":"text","text":"PO not found"}]}}`,
			wantErr: &ToolError{},
		},
		{
			name:    "non-json text",
			stdout:  `{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"hello"}]}}`,
			wantErr: &ProviderError{},
		},
		{
			name:    "no text block",
			stdout:  `{"jsonrpc":"2.0","id":2,"result":{"content":[]}}`,
			wantErr: &TransportError{},
		},
		{
			name:    "empty output",
			stdout:  "",
			wantErr: &TransportError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResult([]byte(tt.stdout), ProviderERP, "get_inventory")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestDecodeResult_ToolErrorText(t *testing.T) {
	stdout := `{"jsonrpc":"2.0","id":2,"result":{"isError":true,"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}}`
	_, err := DecodeResult([]byte(stdout), ProviderPO, "update_po_status")
	require.Error(t, err)
	assert.Equal(t, "line one\nline two", err.Error())
}
