package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

func results(c profile.Category, n int) []memory.Result {
	out := make([]memory.Result, n)
	for i := range out {
		out[i] = memory.Result{Memory: &memory.Memory{
			ID: fmt.Sprintf("%s-%d", c, i), Category: c, Content: fmt.Sprintf("%s fact %d", c, i),
		}}
	}
	return out
}

func TestSystemPromptContract(t *testing.T) {
	p := &profile.Profile{Name: "Ada"}
	prompt := SystemPrompt(p, nil, nil, 5)
	for _, line := range []string{
		"You are Ada. You are not an AI assistant and you are not playing a role: you are Ada, speaking in the first person from your own memories and habits.",
		"- Stay in character as Ada at all times. Never say you are an AI, a model or an assistant.",
		"- Preserve Ada's inconsistencies. Real people contradict themselves; do not smooth contradictions away or resolve them.",
		"- Match Ada's brevity or verbosity. If Ada answers in a few words, so do you.",
	} {
		if !strings.Contains(prompt, line) {
			t.Errorf("prompt lacks %q", line)
		}
	}
	if strings.Contains(prompt, "## What you know") || strings.Contains(prompt, "## From your documents") {
		t.Error("empty context produced section headers")
	}
}

func TestSystemPromptGroupsAndCaps(t *testing.T) {
	var mems []memory.Result
	mems = append(mems, results(profile.CategoryEmotional, 2)...)
	mems = append(mems, results(profile.CategoryValues, 7)...)
	mems = append(mems, results(profile.CategoryLinguistic, 1)...)

	prompt := SystemPrompt(&profile.Profile{Name: "Ada"}, mems, nil, 5)

	ling := strings.Index(prompt, "### Linguistic style")
	vals := strings.Index(prompt, "### Values")
	emo := strings.Index(prompt, "### Emotional patterns")
	if ling < 0 || vals < 0 || emo < 0 || !(ling < vals && vals < emo) {
		t.Errorf("category sections out of canonical order: %d %d %d", ling, vals, emo)
	}
	if got := strings.Count(prompt, "values fact"); got != 5 {
		t.Errorf("values shown = %d, want capped at 5", got)
	}
	if !strings.Contains(prompt, "values fact 4") || strings.Contains(prompt, "values fact 5") {
		t.Error("cap should keep the highest ranked five")
	}
}

func TestSystemPromptDocumentBlock(t *testing.T) {
	chunks := []document.Result{
		{Chunk: &document.Chunk{Content: "first excerpt"}},
		{Chunk: &document.Chunk{Content: "second excerpt"}},
	}
	prompt := SystemPrompt(&profile.Profile{Name: "Ada"}, nil, chunks, 5)
	if !strings.Contains(prompt, "## From your documents\n\n[1] first excerpt\n\n[2] second excerpt") {
		t.Errorf("document block malformed:\n%s", prompt)
	}
}
