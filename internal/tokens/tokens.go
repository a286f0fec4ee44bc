// Package tokens estimates the context cost of a message history.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joss/codecrew/internal/domain"
)

// Estimator returns an approximate token count for messages.
type Estimator interface {
	Estimate(msgs []domain.Message) int
}

// Chars is the cheap estimator: one token per four characters.
type Chars struct{}

func (Chars) Estimate(msgs []domain.Message) int {
	n := 0
	for _, m := range msgs {
		n += m.Size()
	}
	return n / 4
}

// Counter counts with the cl100k_base encoding. The encoding is loaded
// on first use; if it cannot be loaded Counter falls back to Chars.
type Counter struct {
	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

func NewCounter() *Counter { return &Counter{} }

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *Counter) Estimate(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		// Per-message overhead for role and framing.
		total += 4 + c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += 10 + c.Count(tc.Name)
			for k, v := range tc.Args {
				total += c.Count(k)
				if s, ok := v.(string); ok {
					total += c.Count(s)
				}
			}
		}
	}
	return total
}

func (c *Counter) init() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
}

// ForName maps a config value to an estimator; unknown names get Chars.
func ForName(name string) Estimator {
	if name == "tiktoken" {
		return NewCounter()
	}
	return Chars{}
}
