/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package llm is the thin capability surface over chat-model providers. The
// agent loop depends only on Provider; anthropic.go and openai.go adapt the
// vendor SDKs behind it.
package llm

import (
	"context"
	"encoding/json"
)

// Role of one conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCallId links a RoleTool result back to the call that produced it.
	ToolCallId string `json:"tool_call_id,omitempty"`
	// ToolCalls carries the calls an assistant turn requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolDef advertises one callable tool to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Id        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage is the token accounting of one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one chat exchange.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response is the full, non-streamed answer.
type Response struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Delta kinds emitted by a Stream.
const (
	DeltaText     = "text"
	DeltaToolCall = "tool_call"
	DeltaUsage    = "usage"
	DeltaStop     = "stop"
)

// Delta is one incremental streaming event. Type selects which field is set.
type Delta struct {
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// Stream yields deltas until io.EOF.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// ModelInfo is one entry of a provider's model catalogue.
type ModelInfo struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Provider is the capability interface every model vendor implements.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req *Request) (*Response, error)
	ChatStream(ctx context.Context, req *Request) (Stream, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	IsAvailable(ctx context.Context) bool
}
