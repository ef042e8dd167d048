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

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/pagination"
	"github.com/openai/openai-go/v2/packages/ssestream"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

type openaiCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

type openaiModels interface {
	List(ctx context.Context, opts ...option.RequestOption) (*pagination.Page[openai.Model], error)
}

// OpenAIProvider implements Provider on the Chat Completions API.
type OpenAIProvider struct {
	completions  openaiCompletions
	models       openaiModels
	defaultModel string
	maxTokens    int
}

func NewOpenAIProvider(apiKey, defaultModel string, maxTokens int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, commonerrors.NewBadRequest("openai api key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		completions:  &client.Chat.Completions,
		models:       &client.Models,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	completion, err := p.completions.New(ctx, *params)
	if err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	if len(completion.Choices) == 0 {
		return nil, commonerrors.NewTransport("empty completion")
	}
	choice := completion.Choices[0]
	resp := &Response{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			Id:        call.ID,
			Name:      call.Function.Name,
			Arguments: normalizeArguments(call.Function.Arguments),
		})
	}
	return resp, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req *Request) (Stream, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	stream := p.completions.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	return newOpenAIStream(stream), nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.models.List(ctx)
	if err != nil {
		return nil, commonerrors.NewTransport(err.Error())
	}
	infos := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		infos = append(infos, ModelInfo{Id: m.ID})
	}
	return infos, nil
}

func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.ListModels(ctx)
	return err == nil
}

func (p *OpenAIProvider) encodeRequest(req *Request) (*openai.ChatCompletionNewParams, error) {
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

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallId))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, call := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.Id,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, commonerrors.NewBadRequest("unsupported message role " + string(m.Role))
		}
	}

	params := &openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	for _, def := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  openai.FunctionParameters(def.InputSchema),
		}))
	}
	return params, nil
}

// openaiStream folds chat-completion chunks into Deltas. Tool-call argument
// fragments are keyed by the chunk's tool index and flushed when the choice
// reports a finish reason.
type openaiStream struct {
	stream     *ssestream.Stream[openai.ChatCompletionChunk]
	toolCalls  map[int64]*openaiToolBuffer
	toolOrder  []int64
	queued     []Delta
	stopQueued bool
	done       bool
}

type openaiToolBuffer struct {
	id        string
	name      string
	arguments strings.Builder
}

func newOpenAIStream(stream *ssestream.Stream[openai.ChatCompletionChunk]) *openaiStream {
	return &openaiStream{
		stream:    stream,
		toolCalls: make(map[int64]*openaiToolBuffer),
	}
}

func (s *openaiStream) Recv() (Delta, error) {
	for {
		if len(s.queued) > 0 {
			delta := s.queued[0]
			s.queued = s.queued[1:]
			return delta, nil
		}
		if s.done {
			return Delta{}, io.EOF
		}
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return Delta{}, commonerrors.NewTransport(err.Error())
			}
			continue
		}
		s.handle(s.stream.Current())
	}
}

func (s *openaiStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func (s *openaiStream) handle(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens > 0 {
		s.queued = append(s.queued, Delta{Type: DeltaUsage, Usage: &Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}})
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		s.queued = append(s.queued, Delta{Type: DeltaText, Text: choice.Delta.Content})
	}
	for _, call := range choice.Delta.ToolCalls {
		buffer := s.toolCalls[call.Index]
		if buffer == nil {
			buffer = &openaiToolBuffer{}
			s.toolCalls[call.Index] = buffer
			s.toolOrder = append(s.toolOrder, call.Index)
		}
		if call.ID != "" {
			buffer.id = call.ID
		}
		if call.Function.Name != "" {
			buffer.name = call.Function.Name
		}
		buffer.arguments.WriteString(call.Function.Arguments)
	}
	if choice.FinishReason != "" && !s.stopQueued {
		for _, index := range s.toolOrder {
			buffer := s.toolCalls[index]
			s.queued = append(s.queued, Delta{Type: DeltaToolCall, ToolCall: &ToolCall{
				Id:        buffer.id,
				Name:      buffer.name,
				Arguments: normalizeArguments(buffer.arguments.String()),
			}})
		}
		s.toolCalls = make(map[int64]*openaiToolBuffer)
		s.toolOrder = nil
		s.queued = append(s.queued, Delta{Type: DeltaStop, StopReason: choice.FinishReason})
		s.stopQueued = true
	}
}

func normalizeArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}
