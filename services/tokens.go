package services

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"counselor/models"
)

// TokenCounter estimates prompt sizes for logging. The encoding is loaded on
// first use; if it cannot be loaded, counting is disabled.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenCounter creates a lazily initialized counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the approximate token count of messages, or -1 when no
// encoding is available.
func (t *TokenCounter) Count(messages []models.ChatMessage) int {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if t.err != nil || t.enc == nil {
		return -1
	}
	total := 0
	for _, m := range messages {
		total += len(t.enc.Encode(m.Content, nil, nil)) + 4
	}
	return total
}
