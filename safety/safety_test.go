package safety

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tabula/model"
	"tabula/provider/testutil"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Verdict
	}{
		{"safe", "safe", Verdict{Safe: true}},
		{"safe with whitespace", "\nsafe\n", Verdict{Safe: true}},
		{"unsafe with category", "unsafe\nS2", Verdict{Safe: false, Category: "S2"}},
		{"unsafe with category list", "unsafe\nS5,S7", Verdict{Safe: false, Category: "S5"}},
		{"unsafe mixed case", "Unsafe\n S10.", Verdict{Safe: false, Category: "S10"}},
		{"unsafe without category", "unsafe", Verdict{Safe: false}},
		{"empty output fails open", "", Verdict{Safe: true}},
		{"prose fails open", "I cannot assess that message.", Verdict{Safe: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseVerdict(tt.output)
			if got.Safe != tt.want.Safe || got.Category != tt.want.Category {
				t.Errorf("parseVerdict(%q) = %+v, want %+v", tt.output, *got, tt.want)
			}
		})
	}
}

func TestLLMGuardClassify(t *testing.T) {
	mock := testutil.NewScriptedProvider("guard-model", "unsafe\nS2")
	guard := NewLLMGuard(mock)

	verdict, err := guard.Classify(context.Background(), "How do I pick a lock?")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if verdict.Safe {
		t.Error("Classify() verdict is safe, want unsafe")
	}
	if verdict.Category != "S2" {
		t.Errorf("Category = %q, want %q", verdict.Category, "S2")
	}

	calls := mock.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("guard made %d calls, want 1 single-message call", len(calls))
	}
	prompt := calls[0][0].Content
	if !strings.Contains(prompt, "How do I pick a lock?") {
		t.Error("guard prompt does not embed the user input")
	}
	if !strings.Contains(prompt, "<BEGIN UNSAFE CONTENT CATEGORIES>") {
		t.Error("guard prompt does not carry the taxonomy")
	}
}

func TestLLMGuardClassifySafe(t *testing.T) {
	mock := testutil.NewScriptedProvider("guard-model", "safe")
	guard := NewLLMGuard(mock)

	verdict, err := guard.Classify(context.Background(), "Plot sales by month")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !verdict.Safe {
		t.Errorf("Classify() = %+v, want safe", *verdict)
	}
}

func TestLLMGuardClassifyError(t *testing.T) {
	mock := testutil.NewMockProvider("guard-model")
	mock.ChatFunc = func(context.Context, []model.Message, model.StreamCallback) error {
		return errors.New("connection refused")
	}
	guard := NewLLMGuard(mock)

	if _, err := guard.Classify(context.Background(), "hello"); err == nil {
		t.Error("Classify() error = nil, want provider error")
	}
}

func TestCategoryName(t *testing.T) {
	if got := CategoryName("S2"); got != "Non-Violent Crimes" {
		t.Errorf("CategoryName(S2) = %q, want %q", got, "Non-Violent Crimes")
	}
	if got := CategoryName("S99"); got != "S99" {
		t.Errorf("CategoryName(S99) = %q, want the code back", got)
	}
}
