// Package embedding turns text into vectors. Providers talk to external
// embedding services; Embedder wraps a Provider so that any failure becomes
// an "unavailable" outcome instead of an error.
package embedding

import (
	"context"
	"net/http"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string        `json:"provider"` // "api", "local" or "" (disabled)
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	APIKey    string        `json:"api_key"`
	Dimension int           `json:"dimension"`
	Timeout   time.Duration `json:"timeout"`
}

// NewProvider builds the provider named by cfg.Provider. It returns nil when
// embeddings are disabled.
func NewProvider(cfg Config) Provider {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg)
	case "local":
		return NewLocalProvider(cfg)
	default:
		return nil
	}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
