package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariacorp/ariarun/internal/httpclient"
)

// AnthropicProvider implements Provider against the Claude Messages API,
// grounded on the teacher's llms/anthropic.go.
type AnthropicProvider struct {
	cfg    Config
	client *httpclient.Client
}

// NewAnthropicProvider builds an Anthropic provider from a validated Config.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	return &AnthropicProvider{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) ModelName() string    { return p.cfg.Model }
func (p *AnthropicProvider) MaxTokens() int       { return p.cfg.MaxTokens }
func (p *AnthropicProvider) Temperature() float64 { return p.cfg.Temperature }
func (p *AnthropicProvider) Close() error         { return nil }

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIError struct {
	Message string `json:"message"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicAPIError `json:"error,omitempty"`
}

func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) anthropicRequest {
	var systemPrompt string
	msgs := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		switch {
		case m.Role == "system":
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += m.Content
		case m.Role == "tool":
			msgs = append(msgs, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
				}},
			})
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var contents []anthropicContent
			if m.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				contents = append(contents, anthropicContent{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
				})
			}
			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: contents})
		default:
			msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	req := anthropicRequest{
		Model: p.cfg.Model, Messages: msgs, MaxTokens: p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature, Stream: stream, System: systemPrompt,
	}
	if len(tools) > 0 {
		req.Tools = make([]anthropicTool, len(tools))
		for i, t := range tools {
			req.Tools[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
		}
	}
	return req
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body anthropicRequest) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("llm: build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

// Generate issues a single non-streaming completion request.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return Response{}, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: decode anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llm: anthropic API error: %s", parsed.Error.Message)
	}

	out := Response{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	for _, c := range parsed.Content {
		switch c.Type {
		case "text":
			out.Text += c.Text
		case "tool_use":
			rawArgs, _ := json.Marshal(c.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input, RawArgs: string(rawArgs)})
		}
	}
	return out, nil
}

// GenerateStreaming issues a streaming completion request over SSE.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		resp, err := p.client.Do(httpReq)
		if err != nil {
			out <- StreamChunk{Type: "error", Error: err}
			return
		}
		defer resp.Body.Close()
		p.consumeStream(resp.Body, out)
	}()
	return out, nil
}

func (p *AnthropicProvider) consumeStream(body io.Reader, out chan<- StreamChunk) {
	reader := bufio.NewReader(body)
	tokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				out <- StreamChunk{Type: "error", Error: err}
			}
			break
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Usage *anthropicUsage `json:"usage"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Usage != nil {
			tokens = event.Usage.InputTokens + event.Usage.OutputTokens
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				out <- StreamChunk{Type: "text", Text: event.Delta.Text}
			}
		case "message_stop":
			out <- StreamChunk{Type: "done", Tokens: tokens}
			return
		}
	}
	out <- StreamChunk{Type: "done", Tokens: tokens}
}
