package agent

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// Output is the parsed form of one assistant reply: optional reasoning
// text, the first executable code block, and whatever follows it.
type Output struct {
	Thought  string
	Code     string
	Trailing string
}

// HasCode reports whether the reply contained an executable block.
func (o Output) HasCode() bool {
	return o.Code != ""
}

// parseOutput splits assistant markdown around its first Python code
// block. Blocks tagged python or py are taken as-is; an untagged fenced
// block counts only when its content looks like Python. A fence left
// unterminated at the end of the reply still parses, since models
// routinely stop generating right after the code. When no code block is
// found the whole reply is thought text.
func parseOutput(content string) Output {
	block := findCodeBlock(content)
	if block == nil {
		if code, thought, ok := danglingFence(content); ok {
			return Output{Thought: thought, Code: code}
		}
		return Output{Thought: strings.TrimSpace(content)}
	}

	out := Output{Code: strings.TrimRight(string(block.Literal), "\n")}

	// The AST drops the fences, so locate the literal in the raw text to
	// recover what surrounds the block. The literal always sits after the
	// opening fence of some block; searching from there avoids matching
	// the same text quoted earlier in the thought.
	idx := -1
	open := firstFence(content)
	if open >= 0 {
		if rel := strings.Index(content[open:], string(block.Literal)); rel >= 0 {
			idx = open + rel
		}
	}
	if idx < 0 {
		if open >= 0 {
			out.Thought = strings.TrimSpace(content[:open])
		}
		return out
	}

	if fence := lastFence(content[:idx]); fence >= 0 {
		out.Thought = strings.TrimSpace(content[:fence])
	}
	rest := content[idx+len(block.Literal):]
	if line, tail, _ := strings.Cut(rest, "\n"); isFenceLine(line) {
		rest = tail
	}
	out.Trailing = strings.TrimSpace(rest)
	return out
}

// findCodeBlock returns the first fenced block holding Python, or nil.
func findCodeBlock(content string) *ast.CodeBlock {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(content))

	var block *ast.CodeBlock
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		cb, ok := node.(*ast.CodeBlock)
		if !ok || !cb.IsFenced || len(cb.Literal) == 0 {
			return ast.GoToNext
		}
		switch strings.ToLower(strings.TrimSpace(string(cb.Info))) {
		case "python", "py":
			block = cb
			return ast.Terminate
		case "":
			if looksLikePython(string(cb.Literal)) {
				block = cb
				return ast.Terminate
			}
		}
		return ast.GoToNext
	})
	return block
}

// looksLikePython is the heuristic for untagged fenced blocks. It checks
// for the statements an analysis snippet starts with; prose and shell
// transcripts fail all of them.
func looksLikePython(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import "),
			strings.HasPrefix(trimmed, "from "),
			strings.HasPrefix(trimmed, "df"),
			strings.HasPrefix(trimmed, "pd."),
			strings.HasPrefix(trimmed, "plt."),
			strings.HasPrefix(trimmed, "print("):
			return true
		}
	}
	return false
}

// fenceMarkers are the fence styles the parser extensions accept.
var fenceMarkers = []string{"```", "~~~"}

func firstFence(s string) int {
	best := -1
	for _, m := range fenceMarkers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func lastFence(s string) int {
	best := -1
	for _, m := range fenceMarkers {
		if i := strings.LastIndex(s, m); i > best {
			best = i
		}
	}
	return best
}

// isFenceLine reports whether line consists solely of fence characters.
func isFenceLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.TrimLeft(trimmed, "`~") == ""
}

// danglingFence recovers a Python block whose closing fence never
// arrived, regardless of how the markdown parser treated it. Returns
// the code, the text before the opener, and whether one was found.
func danglingFence(content string) (code, thought string, ok bool) {
	for _, opener := range []string{"```python", "```py", "~~~python", "~~~py"} {
		idx := strings.LastIndex(content, opener)
		if idx < 0 {
			continue
		}
		line, body, found := strings.Cut(content[idx+len(opener):], "\n")
		if !found || strings.TrimSpace(line) != "" {
			continue
		}
		if lastFence(body) >= 0 || strings.TrimSpace(body) == "" {
			continue
		}
		return strings.TrimRight(body, "\n"), strings.TrimSpace(content[:idx]), true
	}
	return "", "", false
}
