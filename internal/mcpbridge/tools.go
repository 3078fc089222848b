package mcpbridge

import (
	"encoding/json"
	"strings"

	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
)

// AskToolName is the single tool exposed by the gateway.
const AskToolName = "ask_devops_question"

const defaultSystemPrompt = "You are a DevOps AI Assistant. Help with infrastructure, deployment, " +
	"monitoring, security, and DevOps best practices."

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// PromptConfig holds the fixed parameters of every upstream completion.
type PromptConfig struct {
	Model        string
	SystemPrompt string  // default: DevOps assistant instruction
	Temperature  float64 // sent as is; 0 requests greedy sampling
	MaxTokens    int     // default 1000
	Stream       bool    // ask the upstream for an event stream
}

// ToolRegistry holds the tool definitions and turns a tool call into an
// upstream completion request.
type ToolRegistry struct {
	cfg  PromptConfig
	defs []ToolDefinition
}

// NewToolRegistry creates the registry for the ask_devops_question tool.
func NewToolRegistry(cfg PromptConfig) *ToolRegistry {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}

	r := &ToolRegistry{cfg: cfg}
	r.defs = []ToolDefinition{
		{
			Name:        AskToolName,
			Description: "Ask questions about infrastructure, deployment, monitoring, and best practices",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "Your DevOps question",
					},
				},
				"required": []string{"question"},
			},
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Streaming reports whether completions request an event stream.
func (r *ToolRegistry) Streaming() bool {
	return r.cfg.Stream
}

// Prepare validates a tool call and builds the upstream request for it.
func (r *ToolRegistry) Prepare(name string, args json.RawMessage) (upstream.ChatRequest, error) {
	if name != AskToolName {
		return upstream.ChatRequest{}, methodNotFoundf("Unknown tool: %s", name)
	}

	var in struct {
		Question *string `json:"question"`
	}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &in); err != nil {
			return upstream.ChatRequest{}, invalidParamsf("'question' is required")
		}
	}
	if in.Question == nil {
		return upstream.ChatRequest{}, invalidParamsf("'question' is required")
	}
	question := strings.TrimSpace(*in.Question)
	if question == "" {
		return upstream.ChatRequest{}, invalidParamsf("'question' is required")
	}

	return upstream.ChatRequest{
		Model: r.cfg.Model,
		Messages: []upstream.Message{
			{Role: "system", Content: r.cfg.SystemPrompt},
			{Role: "user", Content: question},
		},
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Stream:      r.cfg.Stream,
	}, nil
}
