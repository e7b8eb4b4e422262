package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task tags a generation call with its purpose so each purpose can be bound
// to its own provider.
type Task string

const (
	TaskPersona    Task = "persona"
	TaskInterview  Task = "interview"
	TaskEvaluation Task = "evaluation"
)

// ErrNoProvider is returned when nothing is registered for a task.
var ErrNoProvider = errors.New("no provider available")

// Generator produces text for a system prompt and a conversation. An empty
// history is allowed.
type Generator interface {
	Generate(ctx context.Context, task Task, system string, history []Message, maxTokens int) (string, error)
	GenerateStream(ctx context.Context, task Task, system string, history []Message, maxTokens int) (<-chan *StreamChunk, error)
}

// Router manages multiple LLM providers and routes requests by task.
type Router struct {
	providers map[string]Provider
	bindings  map[Task]string   // task -> providerID
	fallbacks map[Task][]string // task -> fallback provider chain
	defaults  string            // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[Task]string),
		fallbacks: make(map[Task][]string),
		logger:    logger,
	}
}

// New builds a provider from its config.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai", "ollama", "":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes a task to a specific provider.
func (r *Router) Bind(task Task, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[task] = providerID
}

// SetFallbacks configures the providers tried after the primary fails.
func (r *Router) SetFallbacks(task Task, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[task] = providerIDs
}

// chain returns the primary provider for task followed by its fallbacks.
func (r *Router) chain(task Task) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)
	add := func(id string) {
		if p, ok := r.providers[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	if id, ok := r.bindings[task]; ok {
		add(id)
	}
	if len(out) == 0 {
		add(r.defaults)
	}
	for _, id := range r.fallbacks[task] {
		add(id)
	}
	return out
}

// Route sends a chat request through the task's provider chain.
func (r *Router) Route(ctx context.Context, task Task, req *ChatRequest) (*ChatResponse, error) {
	chain := r.chain(task)
	if len(chain) == 0 {
		return nil, fmt.Errorf("route %s: %w", task, ErrNoProvider)
	}
	var err error
	for i, p := range chain {
		var resp *ChatResponse
		resp, err = p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i+1 < len(chain) {
			r.logger.Warn("provider failed, trying next",
				zap.String("task", string(task)), zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", task, err)
}

// RouteStream opens a stream on the first provider in the chain that
// accepts the request. Failures after the stream opened are reported on the
// stream itself.
func (r *Router) RouteStream(ctx context.Context, task Task, req *ChatRequest) (<-chan *StreamChunk, error) {
	chain := r.chain(task)
	if len(chain) == 0 {
		return nil, fmt.Errorf("route %s: %w", task, ErrNoProvider)
	}
	var err error
	for _, p := range chain {
		var ch <-chan *StreamChunk
		ch, err = p.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("provider stream failed",
			zap.String("task", string(task)), zap.String("provider", p.ID()), zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", task, err)
}

// Generate implements Generator.
func (r *Router) Generate(ctx context.Context, task Task, system string, history []Message, maxTokens int) (string, error) {
	resp, err := r.Route(ctx, task, BuildRequest(system, history, maxTokens))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateStream implements Generator.
func (r *Router) GenerateStream(ctx context.Context, task Task, system string, history []Message, maxTokens int) (<-chan *StreamChunk, error) {
	return r.RouteStream(ctx, task, BuildRequest(system, history, maxTokens))
}

// BuildRequest prepends the system prompt to history.
func BuildRequest(system string, history []Message, maxTokens int) *ChatRequest {
	msgs := make([]Message, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return &ChatRequest{Messages: msgs, MaxTokens: maxTokens}
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
