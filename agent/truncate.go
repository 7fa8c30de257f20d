package agent

import "tabula/model"

// TruncationConfig bounds how much history reaches a model. The zero
// value disables truncation. The analysis LLM and the chart summarizer
// carry separate configs since their context budgets differ.
type TruncationConfig struct {
	// MaxMessages keeps only the most recent messages.
	MaxMessages int
	// MaxContentRunes caps the content of each kept message.
	MaxContentRunes int
}

// truncateHistory applies cfg to messages. The kept window never starts
// with a tool message: a tool result is meaningless without the
// assistant turn that produced it, so the window widens backward until
// it starts on a non-tool message. The input slice is not modified.
func truncateHistory(messages []model.Message, cfg TruncationConfig) []model.Message {
	out := messages
	if cfg.MaxMessages > 0 && len(out) > cfg.MaxMessages {
		start := len(out) - cfg.MaxMessages
		for start > 0 && out[start].Role == model.RoleTool {
			start--
		}
		out = out[start:]
	}
	if cfg.MaxContentRunes <= 0 {
		return out
	}

	clipped := make([]model.Message, len(out))
	for i, m := range out {
		clipped[i] = m
		if runes := []rune(m.Content); len(runes) > cfg.MaxContentRunes {
			clipped[i].Content = string(runes[:cfg.MaxContentRunes]) + "\n... (truncated)"
		}
	}
	return clipped
}
