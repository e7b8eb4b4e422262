// Package question chooses the next interview question for a profile,
// targeting its weakest category.
package question

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/provider"
	"go.uber.org/zap"
)

// DeeperPrefix marks a bank question reused after every question was asked.
const DeeperPrefix = "Let's go deeper: "

const (
	generateMaxTokens = 300
	askedHintLimit    = 30
)

// Source tells where a question came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceBank      Source = "bank"
	SourceRepeat    Source = "repeat"
)

// Pick is a chosen question.
type Pick struct {
	Category profile.Category `json:"category"`
	Text     string           `json:"text"`
	Source   Source           `json:"source"`
}

// Selector picks questions. The generator is optional; without it every
// question comes from the bank.
type Selector struct {
	gen     provider.Generator
	timeout time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand fixes the random source used by the bank fallback.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// WithTimeout bounds the generative attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Selector) { s.timeout = d }
}

// NewSelector creates a question selector.
func NewSelector(gen provider.Generator, logger *zap.Logger, opts ...Option) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Selector{
		gen:     gen,
		timeout: 20 * time.Second,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next picks a question for the category with the lowest count. It never
// fails: generation problems fall back to the bank, and an exhausted bank
// repeats a question with DeeperPrefix.
func (s *Selector) Next(ctx context.Context, coverage profile.CoverageMap, asked []string) Pick {
	target, ok := coverage.Lowest()
	if !ok {
		target = profile.Categories[0]
	}
	seen := make(map[string]bool, len(asked))
	for _, q := range asked {
		seen[normalize(q)] = true
	}

	if s.gen != nil {
		p, err := s.generate(ctx, target, coverage, asked)
		if err == nil && !seen[normalize(p.Text)] {
			return p
		}
		if err != nil {
			s.logger.Warn("question generation failed, using bank",
				zap.String("category", string(target)), zap.Error(err))
		}
	}
	return s.fallback(target, seen)
}

func (s *Selector) fallback(target profile.Category, seen map[string]bool) Pick {
	if q, ok := s.pickUnused(Bank(target), seen); ok {
		return Pick{Category: target, Text: q, Source: SourceBank}
	}

	type entry struct {
		cat  profile.Category
		text string
	}
	var unused []entry
	for _, c := range profile.Categories {
		for _, q := range Bank(c) {
			if !seen[normalize(q)] {
				unused = append(unused, entry{c, q})
			}
		}
	}
	if len(unused) > 0 {
		e := unused[s.intn(len(unused))]
		return Pick{Category: e.cat, Text: e.text, Source: SourceBank}
	}

	pool := Bank(target)
	return Pick{
		Category: target,
		Text:     DeeperPrefix + pool[s.intn(len(pool))],
		Source:   SourceRepeat,
	}
}

func (s *Selector) pickUnused(pool []string, seen map[string]bool) (string, bool) {
	var unused []string
	for _, q := range pool {
		if !seen[normalize(q)] {
			unused = append(unused, q)
		}
	}
	if len(unused) == 0 {
		return "", false
	}
	return unused[s.intn(len(unused))], true
}

func (s *Selector) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Selector) generate(ctx context.Context, target profile.Category, coverage profile.CoverageMap, asked []string) (Pick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := interviewPrompt(target, coverage, asked)
	out, err := s.gen.Generate(ctx, provider.TaskInterview, prompt,
		[]provider.Message{{Role: provider.RoleUser, Content: "Next question, please."}}, generateMaxTokens)
	if err != nil {
		return Pick{}, err
	}
	return parseGenerated(out, target)
}

func interviewPrompt(target profile.Category, coverage profile.CoverageMap, asked []string) string {
	var b strings.Builder
	b.WriteString("You are interviewing a person to learn how they think, speak and feel. ")
	b.WriteString("Ask exactly one open question that invites a personal, specific answer.\n\n")
	fmt.Fprintf(&b, "Focus category: %s (%s)\n", target, target.Title())

	b.WriteString("Coverage so far:\n")
	for _, c := range coverage.Keys() {
		cv := coverage[c]
		if cv.Covered {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d of %d\n", c, cv.Count, cv.MinRequired)
	}

	if len(asked) > 0 {
		b.WriteString("\nDo not repeat or rephrase any of these questions:\n")
		start := 0
		if len(asked) > askedHintLimit {
			start = len(asked) - askedHintLimit
		}
		for _, q := range asked[start:] {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString("\nReply with JSON only: {\"category\": \"<category>\", \"question\": \"<question>\"}")
	return b.String()
}

// parseGenerated extracts the JSON object from the generator output. An
// unknown category is remapped to target rather than trusted.
func parseGenerated(out string, target profile.Category) (Pick, error) {
	start, end := strings.Index(out, "{"), strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return Pick{}, fmt.Errorf("no JSON object in generated question")
	}
	var raw struct {
		Category string `json:"category"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &raw); err != nil {
		return Pick{}, fmt.Errorf("decode generated question: %w", err)
	}
	text := strings.TrimSpace(raw.Question)
	if text == "" {
		return Pick{}, fmt.Errorf("generated question is empty")
	}
	cat, err := profile.ParseCategory(raw.Category)
	if err != nil {
		cat = target
	}
	return Pick{Category: cat, Text: text, Source: SourceGenerated}, nil
}

func normalize(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
