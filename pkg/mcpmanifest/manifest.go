// Package mcpmanifest defines the MCP server manifest the gateway publishes
// for discovery:
//
//	GET /.well-known/mcp.json
//
// Hosts that support manifest discovery can learn the endpoint, transport
// and tools without performing the initialize handshake first.
package mcpmanifest

import "encoding/json"

// Transport names advertised in Manifest.Transport.
const (
	// TransportHTTPStream is one JSON-RPC request per POST, answered with
	// either one JSON document or newline-delimited frames.
	TransportHTTPStream = "http+json-stream"
)

// Tool describes a tool the server exposes.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"` // JSON Schema object
}

// Manifest is the MCP server manifest.
type Manifest struct {
	SchemaVersion string `json:"schemaVersion"` // MCP protocol version, e.g. "2024-11-05"
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description,omitempty"`
	Endpoint      string `json:"endpoint"` // path of the JSON-RPC endpoint
	Transport     string `json:"transport"`
	Tools         []Tool `json:"tools"`

	// Streaming reports whether tools/call asks the upstream to stream.
	// Clients must still accept the single-document shape.
	Streaming bool `json:"streaming"`
}

// ToolNames returns the names of the manifest's tools in order.
func (m Manifest) ToolNames() []string {
	names := make([]string, len(m.Tools))
	for i, t := range m.Tools {
		names[i] = t.Name
	}
	return names
}
