package mcpmanifest

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestManifest_JSONShape(t *testing.T) {
	m := Manifest{
		SchemaVersion: "2024-11-05",
		Name:          "DevOps AI Assistant",
		Version:       "1.5.0",
		Endpoint:      "/mcp",
		Transport:     TransportHTTPStream,
		Tools: []Tool{
			{Name: "a", Description: "first", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "b", Description: "second", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"schemaVersion":"2024-11-05"`, `"endpoint":"/mcp"`, `"inputSchema":{"type":"object"}`, `"streaming":false`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("manifest %s missing %s", b, want)
		}
	}
	if strings.Contains(string(b), "description\":\"\"") {
		t.Errorf("empty description should be omitted: %s", b)
	}

	if got := strings.Join(m.ToolNames(), ","); got != "a,b" {
		t.Errorf("ToolNames: got %q", got)
	}
}
