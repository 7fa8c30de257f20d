package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Treatment tells the agent what to do with scanned code.
type Treatment string

const (
	// TreatmentBlock drops the code and surfaces the report instead.
	TreatmentBlock Treatment = "block"
	// TreatmentWarn runs the code but appends the report to the result.
	TreatmentWarn Treatment = "warn"
	// TreatmentIgnore means nothing noteworthy was found.
	TreatmentIgnore Treatment = "ignore"
)

// Issue is a single finding in a scanned snippet.
type Issue struct {
	Description string
	Severity    string
	Line        int
}

// ScanResult is the outcome of scanning one code snippet.
type ScanResult struct {
	Treatment Treatment
	Issues    []Issue
}

// Insecure reports whether the scan found anything actionable.
func (r *ScanResult) Insecure() bool {
	return r != nil && r.Treatment != TreatmentIgnore && len(r.Issues) > 0
}

// Report renders the findings as a markdown security report. Returns ""
// when the result is not insecure.
func (r *ScanResult) Report() string {
	if !r.Insecure() {
		return ""
	}

	treatment := "Warning: The generated snippet contains insecure code."
	if r.Treatment == TreatmentBlock {
		treatment = "Code Security issues found, blocking the code."
	}

	var b strings.Builder
	b.WriteString("## Security Report for Code Snippet\n")
	b.WriteString(treatment)
	b.WriteString("\n")
	b.WriteString("## Issue Details")
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "\n    - Description: %s\n    - Severity: %s\n    - Affected Line: %d\n",
			issue.Description, issue.Severity, issue.Line)
	}
	return b.String()
}

// Scanner inspects generated code before delegation to the sandbox.
type Scanner interface {
	Scan(ctx context.Context, code string) (*ScanResult, error)
}

type rule struct {
	pattern     *regexp.Regexp
	description string
	severity    string
	treatment   Treatment
}

// defaultRules is a deliberately small deny-list for generated Python.
// The sandbox is the real isolation boundary; these rules only catch
// snippets that have no business in a data analysis answer. Bare eval
// and exec stay at warn level because pandas exposes DataFrame.eval,
// which the dot-boundary in the pattern lets through.
var defaultRules = []rule{
	{
		pattern:     regexp.MustCompile(`(^|[^.\w])os\.system\s*\(`),
		description: "os.system executes arbitrary shell commands",
		severity:    "error",
		treatment:   TreatmentBlock,
	},
	{
		pattern:     regexp.MustCompile(`(^|[^.\w])subprocess\.|^\s*(import\s+subprocess|from\s+subprocess\s+import)`),
		description: "subprocess spawns arbitrary programs",
		severity:    "error",
		treatment:   TreatmentBlock,
	},
	{
		pattern:     regexp.MustCompile(`(^|[^.\w])shutil\.rmtree\s*\(`),
		description: "shutil.rmtree deletes directory trees recursively",
		severity:    "error",
		treatment:   TreatmentBlock,
	},
	{
		pattern:     regexp.MustCompile(`(^|[^.\w])(eval|exec)\s*\(`),
		description: "dynamic evaluation can run untrusted code",
		severity:    "warning",
		treatment:   TreatmentWarn,
	},
	{
		pattern:     regexp.MustCompile(`https?://\d{1,3}(\.\d{1,3}){3}`),
		description: "network request to a raw IP address",
		severity:    "warning",
		treatment:   TreatmentWarn,
	},
}

// RuleScanner matches generated code against a fixed rule set, line by
// line. It is the offline fallback when no external code scanner is
// wired in.
type RuleScanner struct {
	rules []rule
}

// NewRuleScanner returns a scanner with the default rule set.
func NewRuleScanner() *RuleScanner {
	return &RuleScanner{rules: defaultRules}
}

// Scan checks every line of code against the rule set. The result
// treatment is the strictest one among the matched rules.
func (s *RuleScanner) Scan(ctx context.Context, code string) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ScanResult{Treatment: TreatmentIgnore}
	for i, line := range strings.Split(code, "\n") {
		for _, r := range s.rules {
			if !r.pattern.MatchString(line) {
				continue
			}
			result.Issues = append(result.Issues, Issue{
				Description: r.description,
				Severity:    r.severity,
				Line:        i + 1,
			})
			if treatmentRank(r.treatment) > treatmentRank(result.Treatment) {
				result.Treatment = r.treatment
			}
		}
	}
	return result, nil
}

func treatmentRank(t Treatment) int {
	switch t {
	case TreatmentBlock:
		return 2
	case TreatmentWarn:
		return 1
	default:
		return 0
	}
}

var _ Scanner = (*RuleScanner)(nil)
