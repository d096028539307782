package llm

import (
	"log"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for endpoints that omit usage data.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a cl100k_base counter. When the encoding cannot
// be loaded, counting degrades to a rough bytes/4 estimate.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("[LLM] tokenizer unavailable, using byte estimate: %v", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count for text.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
