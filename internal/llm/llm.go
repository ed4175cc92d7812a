// Package llm defines the narrow completion contract the Agent Runner
// depends on (§4.4), an Anthropic-backed implementation adapted from the
// teacher's provider client, and the LLM retry policy.
package llm

import (
	"context"
)

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a completion result.
type Response struct {
	Content    string
	StopReason string
	Usage      Usage
}

// Completer is the narrow interface the Agent Runner invokes — just
// enough to resolve a model, send a prompt, and get text plus usage
// back. The teacher's Stream/ToolCall surface is dropped: agents in
// this domain parse a single structured response, never hold a
// multi-turn tool-use conversation.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
