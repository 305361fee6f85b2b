package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariacorp/ariarun/internal/httpclient"
)

// OpenAIProvider implements Provider against the OpenAI chat completions API
// with native function calling, grounded on the teacher's llms/openai.go.
type OpenAIProvider struct {
	cfg    Config
	client *httpclient.Client
}

// NewOpenAIProvider builds an OpenAI provider from a validated Config.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	return &OpenAIProvider{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) ModelName() string     { return p.cfg.Model }
func (p *OpenAIProvider) MaxTokens() int        { return p.cfg.MaxTokens }
func (p *OpenAIProvider) Temperature() float64  { return p.cfg.Temperature }
func (p *OpenAIProvider) Close() error          { return nil }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIAPIError struct {
	Message string `json:"message"`
}

type openAIResponse struct {
	Choices []openAIChoice  `json:"choices"`
	Usage   openAIUsage     `json:"usage"`
	Error   *openAIAPIError `json:"error,omitempty"`
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) openAIRequest {
	msgs := make([]openAIMessage, len(messages))
	for i, m := range messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID: tc.ID, Type: "function",
				Function: openAIFunctionCall{Name: tc.Name, Arguments: tc.RawArgs},
			})
		}
		msgs[i] = om
	}

	req := openAIRequest{
		Model: p.cfg.Model, Messages: msgs, MaxTokens: p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature, Stream: stream,
	}
	if len(tools) > 0 {
		req.Tools = make([]openAITool, len(tools))
		for i, t := range tools {
			req.Tools[i] = openAITool{Type: "function", Function: openAIToolFunction{
				Name: t.Name, Description: t.Description, Parameters: t.Parameters,
			}}
		}
		req.ToolChoice = "auto"
	}
	return req
}

// Generate issues a single non-streaming completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	reqBody := p.buildRequest(messages, tools, false)
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: read openai response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: decode openai response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llm: openai API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: openai returned no choices")
	}

	choice := parsed.Choices[0]
	out := Response{
		Text:             choice.Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return out, fmt.Errorf("llm: parse tool call arguments: %w", err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args, RawArgs: tc.Function.Arguments})
	}
	return out, nil
}

// GenerateStreaming issues a streaming completion request over SSE.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	reqBody := p.buildRequest(messages, tools, true)
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("llm: build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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

func (p *OpenAIProvider) consumeStream(body io.Reader, out chan<- StreamChunk) {
	reader := bufio.NewReader(body)
	totalTokens := 0

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
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *openAIUsage `json:"usage"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			out <- StreamChunk{Type: "text", Text: text}
		}
		if strings.HasPrefix(chunk.Choices[0].FinishReason, "stop") {
			break
		}
	}
	out <- StreamChunk{Type: "done", Tokens: totalTokens}
}
