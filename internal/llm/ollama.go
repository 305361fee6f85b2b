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

// OllamaProvider implements Provider against a local Ollama daemon's chat
// API, grounded on the teacher's llms/ollama.go.
type OllamaProvider struct {
	cfg    Config
	client *httpclient.Client
}

// NewOllamaProvider builds an Ollama provider from a validated Config.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	return &OllamaProvider{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}, nil
}

func (p *OllamaProvider) ModelName() string    { return p.cfg.Model }
func (p *OllamaProvider) MaxTokens() int       { return p.cfg.MaxTokens }
func (p *OllamaProvider) Temperature() float64 { return p.cfg.Temperature }
func (p *OllamaProvider) Close() error         { return nil }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatResponse struct {
	Message        ollamaMessage `json:"message"`
	Done           bool          `json:"done"`
	PromptEvalCnt  int           `json:"prompt_eval_count"`
	EvalCount      int           `json:"eval_count"`
}

func (p *OllamaProvider) buildRequest(messages []Message, stream bool) ollamaChatRequest {
	msgs := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	return ollamaChatRequest{
		Model: p.cfg.Model, Messages: msgs, Stream: stream,
		Options: ollamaOptions{Temperature: p.cfg.Temperature, NumPredict: p.cfg.MaxTokens},
	}
}

// Generate issues a single non-streaming chat request. Ollama models
// generally lack native function calling, so tools are ignored here (the
// planning layer falls back to prompt-embedded tool descriptions).
func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	raw, err := json.Marshal(p.buildRequest(messages, false))
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("llm: ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("llm: decode ollama response: %w", err)
	}

	return Response{
		Text:             parsed.Message.Content,
		PromptTokens:     parsed.PromptEvalCnt,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCnt + parsed.EvalCount,
	}, nil
}

// GenerateStreaming issues a streaming chat request over newline-delimited JSON.
func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	raw, err := json.Marshal(p.buildRequest(messages, true))
	if err != nil {
		return nil, fmt.Errorf("llm: marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("llm: build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

func (p *OllamaProvider) consumeStream(body io.Reader, out chan<- StreamChunk) {
	scanner := bufio.NewScanner(body)
	tokens := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			out <- StreamChunk{Type: "text", Text: chunk.Message.Content}
		}
		if chunk.Done {
			tokens = chunk.PromptEvalCnt + chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Type: "error", Error: err}
		return
	}
	out <- StreamChunk{Type: "done", Tokens: tokens}
}
