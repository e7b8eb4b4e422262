package chat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/provider"
	"go.uber.org/zap"
)

const (
	// NeutralConsistency is the score used when there is too little to judge
	// or the generator cannot answer.
	NeutralConsistency = 0.5

	minConsistencyMemories = 5
	maxConsistencySample   = 20
)

const consistencyPrompt = `You assess psychological profiles. Read the statements below, all made by one person, and rate how consistent their personality, values and reasoning are across them.

Reply with a single decimal number between 0 and 1, where 0 is completely contradictory and 1 is completely coherent. Reply with the number only.`

var decimalRe = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)`)

// EvaluateConsistency rates how coherent a set of memories is. It never
// fails: fewer than five memories, a generator error or an unparseable
// reply all yield NeutralConsistency.
func (o *Orchestrator) EvaluateConsistency(ctx context.Context, mems []*memory.Memory) float64 {
	if len(mems) < minConsistencyMemories || o.gen == nil {
		return NeutralConsistency
	}

	var b strings.Builder
	for i, m := range Sample(mems, maxConsistencySample) {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, m.Category, oneLine(m.Content))
	}
	reply, err := o.gen.Generate(ctx, provider.TaskEvaluation, consistencyPrompt,
		[]provider.Message{{Role: provider.RoleUser, Content: b.String()}}, 16)
	if err != nil {
		o.logger.Warn("consistency evaluation failed", zap.Error(err))
		return NeutralConsistency
	}
	score, ok := ParseScore(reply)
	if !ok {
		o.logger.Warn("consistency reply not a number", zap.String("reply", reply))
		return NeutralConsistency
	}
	return score
}

// Sample picks at most n memories spread evenly across mems, keeping order.
func Sample(mems []*memory.Memory, n int) []*memory.Memory {
	if len(mems) <= n {
		return mems
	}
	out := make([]*memory.Memory, n)
	for i := range out {
		out[i] = mems[i*len(mems)/n]
	}
	return out
}

// ParseScore reads the first decimal in s, clamped to [0,1].
func ParseScore(s string) (float64, bool) {
	match := decimalRe.FindString(strings.TrimSpace(s))
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return v, true
}
