/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/pagination"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

// anthropicMessages is the slice of the SDK the adapter calls. *sdk.MessageService
// satisfies it; tests inject a fake stream through it.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

type anthropicModels interface {
	List(ctx context.Context, query sdk.ModelListParams, opts ...option.RequestOption) (*pagination.Page[sdk.ModelInfo], error)
}

// AnthropicProvider implements Provider on the Claude Messages API.
type AnthropicProvider struct {
	messages     anthropicMessages
	models       anthropicModels
	defaultModel string
	maxTokens    int
}

func NewAnthropicProvider(apiKey, defaultModel string, maxTokens int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, commonerrors.NewBadRequest("anthropic api key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		messages:     &client.Messages,
		models:       &client.Models,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.messages.New(ctx, *params)
	if err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	return translateAnthropicResponse(msg), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req *Request) (Stream, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	stream := p.messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	return newAnthropicStream(stream), nil
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.models.List(ctx, sdk.ModelListParams{})
	if err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	infos := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		infos = append(infos, ModelInfo{Id: string(m.ID), DisplayName: m.DisplayName})
	}
	return infos, nil
}

func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.ListModels(ctx)
	return err == nil
}

func (p *AnthropicProvider) encodeRequest(req *Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, commonerrors.NewBadRequest("messages are required")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	system := make([]sdk.TextBlockParam, 0, 1)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case RoleUser:
			if m.Content != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		case RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallId, m.Content, false)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.Id, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		default:
			return nil, commonerrors.NewBadRequest("unsupported message role " + string(m.Role))
		}
	}
	if len(conversation) == 0 {
		return nil, commonerrors.NewBadRequest("at least one user or assistant message is required")
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, def := range req.Tools {
		tool := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

func translateAnthropicResponse(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			arguments, err := json.Marshal(block.Input)
			if err != nil {
				arguments = []byte("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				Id:        block.ID,
				Name:      block.Name,
				Arguments: arguments,
			})
		}
	}
	resp.Text = text.String()
	resp.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp
}

// anthropicStream pulls SDK events on demand and folds them into Deltas.
// Tool-use input arrives as JSON fragments that are buffered per content block
// and emitted as one tool_call delta when the block closes.
type anthropicStream struct {
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
	toolBlocks map[int]*anthropicToolBuffer
	stopReason string
	done       bool
}

type anthropicToolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newAnthropicStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *anthropicStream {
	return &anthropicStream{
		stream:     stream,
		toolBlocks: make(map[int]*anthropicToolBuffer),
	}
}

func (s *anthropicStream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}
	for s.stream.Next() {
		if delta, ok := s.handle(s.stream.Current()); ok {
			return delta, nil
		}
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		return Delta{}, commonerrors.NewTransport(err.Error())
	}
	return Delta{}, io.EOF
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func (s *anthropicStream) handle(event sdk.MessageStreamEventUnion) (Delta, bool) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolBlocks[int(ev.Index)] = &anthropicToolBuffer{id: toolUse.ID, name: toolUse.Name}
		}
		return Delta{}, false
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return Delta{}, false
			}
			return Delta{Type: DeltaText, Text: delta.Text}, true
		case sdk.InputJSONDelta:
			if buffer := s.toolBlocks[int(ev.Index)]; buffer != nil && delta.PartialJSON != "" {
				buffer.fragments = append(buffer.fragments, delta.PartialJSON)
			}
			return Delta{}, false
		}
		return Delta{}, false
	case sdk.ContentBlockStopEvent:
		buffer := s.toolBlocks[int(ev.Index)]
		if buffer == nil {
			return Delta{}, false
		}
		delete(s.toolBlocks, int(ev.Index))
		joined := strings.TrimSpace(strings.Join(buffer.fragments, ""))
		if joined == "" {
			joined = "{}"
		}
		return Delta{Type: DeltaToolCall, ToolCall: &ToolCall{
			Id:        buffer.id,
			Name:      buffer.name,
			Arguments: json.RawMessage(joined),
		}}, true
	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
		return Delta{Type: DeltaUsage, Usage: &Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
		}}, true
	case sdk.MessageStopEvent:
		return Delta{Type: DeltaStop, StopReason: s.stopReason}, true
	}
	return Delta{}, false
}
