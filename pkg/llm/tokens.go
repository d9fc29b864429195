package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a model. Non-OpenAI models are
// approximated with cl100k_base, which is close enough for windowing
// and cost estimates.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

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
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	encodingMu.Lock()
	encodingCache[model] = encoding
	encodingMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

func (tc *TokenCounter) Model() string { return tc.model }

// Count returns the token count for a single text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a conversation, including the
// per-message framing overhead and reply priming.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	const tokensPerMessage = 3

	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(string(m.Role), nil, nil))
		total += len(tc.encoding.Encode(m.Content, nil, nil))
	}
	return total + 3
}

// FitWithinLimit keeps the most recent messages that fit the budget,
// preserving order.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	used := 3
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]}) - 3
		if used+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		used += msgTokens
	}
	return fitted
}

// EstimateTokens is the rough fallback used when no counter is available.
func EstimateTokens(text string) int {
	return len(text) / 4
}
