// Package safety screens user input and generated code before the agent
// acts on them. A Guard classifies questions against a hazard taxonomy
// through a dedicated guard model; a Scanner inspects generated Python
// for insecure patterns and renders a security report the agent can show
// instead of running the code.
package safety

import (
	"context"
	"fmt"
	"strings"

	"tabula/model"
)

// Verdict is the outcome of a hazard classification.
type Verdict struct {
	Safe bool
	// Category holds the violated taxonomy code (for example "S2") when
	// the input is unsafe.
	Category string
}

// Guard classifies user input against a hazard taxonomy.
type Guard interface {
	Classify(ctx context.Context, input string) (*Verdict, error)
}

// categoryNames maps taxonomy codes to their short names.
var categoryNames = map[string]string{
	"S1":  "Violent Crimes",
	"S2":  "Non-Violent Crimes",
	"S3":  "Sex-Related Crimes",
	"S4":  "Child Sexual Exploitation",
	"S5":  "Defamation",
	"S6":  "Specialized Advice",
	"S7":  "Privacy",
	"S8":  "Intellectual Property",
	"S9":  "Indiscriminate Weapons",
	"S10": "Hate",
	"S11": "Suicide & Self-Harm",
	"S12": "Sexual Content",
	"S13": "Elections",
}

// CategoryName returns the short name of a taxonomy code, or the code
// itself when unknown.
func CategoryName(code string) string {
	if name, ok := categoryNames[code]; ok {
		return name
	}
	return code
}

const guardPrompt = `Task: Check if there is unsafe content in the user message below according to our safety policy with the below categories.

<BEGIN UNSAFE CONTENT CATEGORIES>
S1: Violent Crimes.
S2: Non-Violent Crimes.
S3: Sex-Related Crimes.
S4: Child Sexual Exploitation.
S5: Defamation.
S6: Specialized Advice.
S7: Privacy.
S8: Intellectual Property.
S9: Indiscriminate Weapons.
S10: Hate.
S11: Suicide & Self-Harm.
S12: Sexual Content.
S13: Elections.
<END UNSAFE CONTENT CATEGORIES>

<BEGIN CONVERSATION>

User: %s

<END CONVERSATION>

Provide your safety assessment for the user message in the above conversation:
- First line must read 'safe' or 'unsafe'.
- If unsafe, a second line must include a comma-separated list of violated categories.`

// LLMGuard drives a guard model through the taxonomy prompt and parses
// its verdict. Guard models answer "safe", or "unsafe" followed by the
// violated category codes on the next line.
type LLMGuard struct {
	provider model.Provider
}

// NewLLMGuard returns a Guard backed by the given provider.
func NewLLMGuard(p model.Provider) *LLMGuard {
	return &LLMGuard{provider: p}
}

// Classify sends the input through the taxonomy prompt and parses the
// model's verdict.
func (g *LLMGuard) Classify(ctx context.Context, input string) (*Verdict, error) {
	msg := model.NewMessage(model.RoleUser, fmt.Sprintf(guardPrompt, input))

	var out strings.Builder
	err := g.provider.Chat(ctx, []model.Message{msg}, func(chunk string, _ []model.ToolCall) error {
		out.WriteString(chunk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("guard classification failed: %w", err)
	}

	return parseVerdict(out.String()), nil
}

// parseVerdict reads a guard model answer. Anything that does not start
// with "unsafe" counts as safe, so a confused guard fails open rather
// than blocking every question.
func parseVerdict(output string) *Verdict {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return &Verdict{Safe: true}
	}
	if !strings.EqualFold(strings.Trim(fields[0], ".,"), "unsafe") {
		return &Verdict{Safe: true}
	}

	v := &Verdict{}
	if len(fields) > 1 {
		v.Category = strings.Trim(strings.SplitN(fields[1], ",", 2)[0], ".,")
	}
	return v
}

var _ Guard = (*LLMGuard)(nil)
