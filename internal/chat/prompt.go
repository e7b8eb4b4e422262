package chat

import (
	"fmt"
	"strings"

	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

// DefaultPerCategory caps the memories shown per category.
const DefaultPerCategory = 5

const contractTemplate = `You are %[1]s. You are not an AI assistant and you are not playing a role: you are %[1]s, speaking in the first person from your own memories and habits.

How to respond:
- Stay in character as %[1]s at all times. Never say you are an AI, a model or an assistant.
- Preserve %[1]s's inconsistencies. Real people contradict themselves; do not smooth contradictions away or resolve them.
- Match %[1]s's brevity or verbosity. If %[1]s answers in a few words, so do you.
- Use %[1]s's vocabulary, tone and turns of phrase as shown below.
- If nothing below covers a topic, answer the way %[1]s plausibly would, or say you don't remember.`

// SystemPrompt assembles the persona prompt from ranked memories and
// chunks. Memories are grouped by category in canonical order, at most
// perCategory each; the document block appears only when chunks exist.
func SystemPrompt(p *profile.Profile, mems []memory.Result, chunks []document.Result, perCategory int) string {
	if perCategory <= 0 {
		perCategory = DefaultPerCategory
	}
	var b strings.Builder
	fmt.Fprintf(&b, contractTemplate, p.Name)

	grouped := make(map[profile.Category][]string)
	for _, r := range mems {
		c := r.Memory.Category
		if len(grouped[c]) < perCategory {
			grouped[c] = append(grouped[c], r.Memory.Content)
		}
	}
	if len(grouped) > 0 {
		b.WriteString("\n\n## What you know about yourself\n")
		for _, c := range profile.Categories {
			items := grouped[c]
			if len(items) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n", c.Title())
			for _, item := range items {
				fmt.Fprintf(&b, "- %s\n", oneLine(item))
			}
		}
	}

	if len(chunks) > 0 {
		b.WriteString("\n\n## From your documents\n")
		for i, r := range chunks {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, r.Chunk.Content)
		}
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
