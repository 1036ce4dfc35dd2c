// Package prompt merges retrieved knowledge base context into a system
// prompt according to the namespace's template and position policy.
package prompt

import (
	"strings"

	"github.com/riverchat/kb-engine/internal/types"
)

// Separator sits between chunk contents inside the formatted context block.
const Separator = "\n\n---\n\n"

// Inject substitutes the joined chunk contents into template at the
// {context} placeholder and combines the result with systemPrompt per
// position. With zero non-empty chunks the system prompt is returned
// unmodified. PositionBeforeUser also returns the system prompt unchanged:
// prepending the formatted context to the next user message is the caller's
// contract, not a dropped feature.
func Inject(systemPrompt string, chunks []string, template, position string) string {
	block := joinChunks(chunks)
	if block == "" {
		return systemPrompt
	}

	formatted := Format(template, block)

	switch position {
	case types.PositionBeforeSystem:
		return formatted + "\n\n" + systemPrompt
	case types.PositionBeforeUser:
		return systemPrompt
	default:
		return systemPrompt + "\n\n" + formatted
	}
}

// Format substitutes block into template's {context} placeholder. Config
// validation guarantees the placeholder exists; if a template slipped
// through without one, the block is appended so context is never lost.
func Format(template, block string) string {
	if strings.TrimSpace(template) == "" {
		template = types.DefaultContextTemplate
	}
	if !strings.Contains(template, types.ContextPlaceholder) {
		return template + "\n\n" + block
	}
	return strings.ReplaceAll(template, types.ContextPlaceholder, block)
}

func joinChunks(chunks []string) string {
	kept := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) == "" {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, Separator)
}
