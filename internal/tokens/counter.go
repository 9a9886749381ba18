// Package tokens counts tokens for messages whose usage the provider did not report.
package tokens

import (
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/logging"
)

const (
	// Encoding is the BPE used for counting.
	Encoding  = "cl100k_base"
	cacheSize = 256
)

// Counter counts tokens with tiktoken, falling back to a rune-count
// estimate when the encoding is unavailable. Safe for concurrent use.
type Counter struct {
	mu    sync.Mutex
	enc   *tiktoken.Tiktoken
	cache *lru.Cache[string, int]
}

// New loads the encoding. A load failure is logged and the counter estimates.
func New(logger *zap.Logger) *Counter {
	log := logging.OrNop(logger)
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		log.Warn("tokenizer unavailable, estimating token counts", zap.String("encoding", Encoding), zap.Error(err))
		enc = nil
	}
	return newCounter(enc)
}

// NewEstimator returns a counter that only estimates.
func NewEstimator() *Counter {
	return newCounter(nil)
}

func newCounter(enc *tiktoken.Tiktoken) *Counter {
	cache, _ := lru.New[string, int](cacheSize)
	return &Counter{enc: enc, cache: cache}
}

// Exact reports whether counts come from the tokenizer.
func (c *Counter) Exact() bool {
	return c.enc != nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if n, ok := c.cache.Get(text); ok {
		return n
	}

	var n int
	if c.enc != nil {
		c.mu.Lock()
		n = len(c.enc.Encode(text, nil, nil))
		c.mu.Unlock()
	} else {
		n = Estimate(text)
	}
	c.cache.Add(text, n)
	return n
}

// CountAll sums Count over texts.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

// Estimate approximates tokens as one per four characters.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / 4
}
