package embedding

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultMaxChars bounds the text sent to the provider.
const DefaultMaxChars = 8000

// Embedder is the adapter the rest of the system uses. Embedding is an
// optional accelerator: Embed never returns an error, it reports ok=false.
type Embedder struct {
	provider Provider
	maxChars int
	cache    *Cache
	logger   *zap.Logger
}

// Option customises an Embedder.
type Option func(*Embedder)

// WithMaxChars overrides the truncation limit.
func WithMaxChars(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithCache serves repeated texts from c.
func WithCache(c *Cache) Option {
	return func(e *Embedder) { e.cache = c }
}

// NewEmbedder wraps p. A nil provider yields an Embedder that is always
// unavailable, which is how embeddings are disabled.
func NewEmbedder(p Provider, logger *zap.Logger, opts ...Option) *Embedder {
	e := &Embedder{provider: p, maxChars: DefaultMaxChars, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports whether a provider is configured.
func (e *Embedder) Enabled() bool {
	return e != nil && e.provider != nil
}

// Embed returns the vector for text, or ok=false when the provider is
// disabled or fails. At most one provider call is made.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, bool) {
	if !e.Enabled() || text == "" {
		return nil, false
	}
	text = Truncate(text, e.maxChars)

	if vec, ok := e.cache.Get(text); ok {
		return vec, true
	}

	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		e.logger.Warn("embedding unavailable", zap.Error(err))
		return nil, false
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		e.logger.Warn("embedding provider returned no vector")
		return nil, false
	}
	e.cache.Set(text, vecs[0])
	return vecs[0], true
}

// Truncate cuts s to at most max characters without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
