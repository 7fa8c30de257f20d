package agent

import (
	"context"
	"strings"

	"tabula/model"
)

// describeCharts sends each chart image to the vision model and returns
// the labelled summaries. The VLM sees its own truncated slice of the
// conversation for context, with other images stripped. Failures are
// logged and skipped; a chart the VLM cannot read still reaches the
// client through the tool message images.
func (a *Agent) describeCharts(ctx context.Context, history []model.Message, images []string) []string {
	base := model.StripImages(truncateHistory(history, a.vlmTruncation))
	instruction := vlmInstruction(a.locale)

	var summaries []string
	for i, img := range images {
		ask := model.NewMessage(model.RoleUser, instruction)
		ask.Images = []string{img}

		msgs := make([]model.Message, 0, len(base)+1)
		msgs = append(msgs, base...)
		msgs = append(msgs, ask)

		var out strings.Builder
		err := a.vlm.Chat(ctx, msgs, func(chunk string, _ []model.ToolCall) error {
			out.WriteString(chunk)
			return nil
		})
		if err != nil {
			a.logger.Warn("chart summarization failed", "chart", i+1, "error", err)
			continue
		}

		summary := strings.TrimSpace(out.String())
		if summary == "" {
			continue
		}
		summaries = append(summaries, chartLabel(a.locale, i+1, len(images))+summary)
	}
	return summaries
}
