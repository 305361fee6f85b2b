package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter gives accurate per-model token counts, grounded on the
// teacher's pkg/utils/tokens.go.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

// NewTokenCounter builds a counter for the given model, falling back to the
// cl100k_base encoding when the model has no registered tiktoken encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.RLock()
	cached, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: get token encoding: %w", err)
		}
	}

	encodingMu.Lock()
	encodingCache[model] = encoding
	encodingMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for a single string.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages estimates token count for a message list, including the
// per-message role/delimiter overhead OpenAI's chat format charges.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	const tokensPerMessage = 3
	total := 3 // reply priming
	for _, m := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(m.Role, nil, nil))
		total += len(tc.encoding.Encode(m.Content, nil, nil))
	}
	return total
}

// FitWithinLimit keeps the most recent messages that fit within maxTokens,
// dropping older ones from the front when the budget is exceeded.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := make([]Message, 0, len(messages))
	current := 3
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})
		if current+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		current += msgTokens
	}
	return fitted
}

// EstimateTokens is a cheap character-based fallback for callers without
// a TokenCounter (e.g. before a provider's model-specific encoding is known).
func EstimateTokens(text string) int {
	return len(text) / 4
}
