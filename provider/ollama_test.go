package provider

import (
	"testing"

	"tabula/model"
)

// Compile-time interface checks for all three backends.
func TestProvidersImplementInterface(t *testing.T) {
	var _ model.Provider = (*OllamaProvider)(nil)
	var _ model.Provider = (*OpenAIProvider)(nil)
	var _ model.Provider = (*AnthropicProvider)(nil)
}

func TestEscapeQuotes(t *testing.T) {
	got := escapeQuotes(`Use 'df' and print("done").`)
	want := `Use \'df\' and print(\"done\").`
	if got != want {
		t.Errorf("escapeQuotes = %q, want %q", got, want)
	}
}
